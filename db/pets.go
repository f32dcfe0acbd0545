package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"petsoft/models"
)

const petColumns = "id, name, owner_name, image_url, age, notes, user_id, created_at, updated_at"

// CreatePet inserts p, filling in its ID and timestamps.
func (d *DB) CreatePet(ctx context.Context, p *models.Pet) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	ts := now()
	p.CreatedAt, p.UpdatedAt = ts, ts

	_, err := d.x.ExecContext(ctx, d.rebind(
		"INSERT INTO pets ("+petColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)"),
		p.ID, p.Name, p.OwnerName, p.ImageURL, p.Age, p.Notes, p.UserID, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create pet: %w", err)
	}
	return nil
}

func (d *DB) GetPetByID(ctx context.Context, id string) (models.Pet, error) {
	var p models.Pet
	err := d.x.GetContext(ctx, &p, d.rebind("SELECT "+petColumns+" FROM pets WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Pet{}, ErrNotFound
	}
	if err != nil {
		return models.Pet{}, fmt.Errorf("get pet: %w", err)
	}
	return p, nil
}

func (d *DB) ListPetsByUser(ctx context.Context, userID string) ([]models.Pet, error) {
	pets := []models.Pet{}
	err := d.x.SelectContext(ctx, &pets, d.rebind(
		"SELECT "+petColumns+" FROM pets WHERE user_id = ? ORDER BY created_at, id"), userID)
	if err != nil {
		return nil, fmt.Errorf("list pets: %w", err)
	}
	return pets, nil
}

// UpdatePet overwrites the editable fields of the pet with p.ID.
func (d *DB) UpdatePet(ctx context.Context, p *models.Pet) error {
	p.UpdatedAt = now()
	res, err := d.x.ExecContext(ctx, d.rebind(
		"UPDATE pets SET name = ?, owner_name = ?, image_url = ?, age = ?, notes = ?, updated_at = ? WHERE id = ?"),
		p.Name, p.OwnerName, p.ImageURL, p.Age, p.Notes, p.UpdatedAt, p.ID)
	if err != nil {
		return fmt.Errorf("update pet: %w", err)
	}
	return expectOne(res)
}

func (d *DB) DeletePet(ctx context.Context, id string) error {
	res, err := d.x.ExecContext(ctx, d.rebind("DELETE FROM pets WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("delete pet: %w", err)
	}
	return expectOne(res)
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
