// Package petstate holds the pet list shown to one browsing request, with
// optimistic changes layered over the authoritative records until the
// matching server action settles.
package petstate

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"petsoft/models"
	"petsoft/validation"
)

// Mutator performs the authoritative change for an optimistic operation.
type Mutator interface {
	AddPet(ctx context.Context, in validation.PetInput) (models.Pet, error)
	EditPet(ctx context.Context, id string, in validation.PetInput) (models.Pet, error)
	DeletePet(ctx context.Context, id string) error
}

// Failure is a rejection the user should see as a warning.
type Failure struct {
	Message string
}

func (f *Failure) Error() string { return f.Message }

type opKind int

const (
	opAdd opKind = iota
	opEdit
	opDelete
)

type pendingOp struct {
	corr string
	kind opKind
	pet  models.Pet
}

type Store struct {
	mu       sync.Mutex
	pets     []models.Pet
	pending  []pendingOp
	selected string
	warnings []string
}

func New(pets []models.Pet) *Store {
	return &Store{pets: append([]models.Pet{}, pets...)}
}

// BeginAdd shows p under a temporary ID and returns the correlation id.
func (s *Store) BeginAdd(p models.Pet) string {
	p.ID = uuid.NewString()
	return s.begin(opAdd, p)
}

func (s *Store) BeginEdit(id string, p models.Pet) string {
	p.ID = id
	return s.begin(opEdit, p)
}

func (s *Store) BeginDelete(id string) string {
	return s.begin(opDelete, models.Pet{ID: id})
}

func (s *Store) begin(kind opKind, p models.Pet) string {
	corr := uuid.NewString()
	s.mu.Lock()
	s.pending = append(s.pending, pendingOp{corr: corr, kind: kind, pet: p})
	s.mu.Unlock()
	return corr
}

// Settle resolves the optimistic operation corr. On success the server's
// record replaces the optimistic one; on failure the change is dropped and
// err is queued as a warning. Unknown ids are ignored.
func (s *Store) Settle(corr string, result *models.Pet, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, op := range s.pending {
		if op.corr == corr {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	op := s.pending[idx]
	s.pending = append(s.pending[:idx], s.pending[idx+1:]...)

	if err != nil {
		s.warnings = append(s.warnings, warningText(err))
		return
	}

	switch op.kind {
	case opAdd:
		if result != nil {
			s.pets = append(s.pets, *result)
		}
	case opEdit:
		p := op.pet
		if result != nil {
			p = *result
		}
		s.pets = replace(s.pets, op.pet.ID, p)
	case opDelete:
		s.pets = remove(s.pets, op.pet.ID)
	}
}

func warningText(err error) string {
	var f *Failure
	if errors.As(err, &f) {
		return f.Message
	}
	return err.Error()
}

// Pets returns the authoritative list with pending operations applied in order.
func (s *Store) Pets() []models.Pet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view()
}

func (s *Store) view() []models.Pet {
	out := append([]models.Pet{}, s.pets...)
	for _, op := range s.pending {
		switch op.kind {
		case opAdd:
			out = append(out, op.pet)
		case opEdit:
			out = replace(out, op.pet.ID, op.pet)
		case opDelete:
			out = remove(out, op.pet.ID)
		}
	}
	return out
}

func (s *Store) Select(id string) {
	s.mu.Lock()
	s.selected = id
	s.mu.Unlock()
}

func (s *Store) SelectedID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// Selected returns the selected pet if it is still in the list.
func (s *Store) Selected() (models.Pet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == "" {
		return models.Pet{}, false
	}
	for _, p := range s.view() {
		if p.ID == s.selected {
			return p, true
		}
	}
	return models.Pet{}, false
}

func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.view())
}

// Warnings drains the queued warnings.
func (s *Store) Warnings() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.warnings
	s.warnings = nil
	return w
}

// AddPet applies the addition optimistically, then settles it with m.
// Failures are queued as warnings; other errors are returned.
func (s *Store) AddPet(ctx context.Context, m Mutator, in validation.PetInput) error {
	corr := s.BeginAdd(Preview(in))
	p, err := m.AddPet(ctx, in)
	return s.finish(corr, &p, err)
}

func (s *Store) EditPet(ctx context.Context, m Mutator, id string, in validation.PetInput) error {
	corr := s.BeginEdit(id, Preview(in))
	p, err := m.EditPet(ctx, id, in)
	return s.finish(corr, &p, err)
}

// DeletePet also clears the selection.
func (s *Store) DeletePet(ctx context.Context, m Mutator, id string) error {
	corr := s.BeginDelete(id)
	s.Select("")
	err := m.DeletePet(ctx, id)
	return s.finish(corr, nil, err)
}

func (s *Store) finish(corr string, p *models.Pet, err error) error {
	var f *Failure
	if err != nil && !errors.As(err, &f) {
		s.drop(corr)
		return err
	}
	if err != nil {
		p = nil
	}
	s.Settle(corr, p, err)
	return nil
}

func (s *Store) drop(corr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, op := range s.pending {
		if op.corr == corr {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

// Preview is the best-effort pet shown before the server has validated in.
func Preview(in validation.PetInput) models.Pet {
	p := models.Pet{
		Name:      strings.TrimSpace(in.Name),
		OwnerName: strings.TrimSpace(in.OwnerName),
		ImageURL:  strings.TrimSpace(in.ImageURL),
		Notes:     strings.TrimSpace(in.Notes),
	}
	if p.ImageURL == "" {
		p.ImageURL = models.DefaultPetImage
	}
	p.Age, _ = strconv.Atoi(strings.TrimSpace(in.Age))
	return p
}

func replace(pets []models.Pet, id string, p models.Pet) []models.Pet {
	for i := range pets {
		if pets[i].ID == id {
			p.ID = id
			pets[i] = p
		}
	}
	return pets
}

func remove(pets []models.Pet, id string) []models.Pet {
	out := pets[:0]
	for _, p := range pets {
		if p.ID != id {
			out = append(out, p)
		}
	}
	return out
}

// Search holds the active free-text filter.
type Search struct {
	mu    sync.RWMutex
	query string
}

func (s *Search) SetQuery(q string) {
	s.mu.Lock()
	s.query = q
	s.mu.Unlock()
}

func (s *Search) Query() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.query
}

// Filter keeps pets whose name contains the query, ignoring case.
func (s *Search) Filter(pets []models.Pet) []models.Pet {
	q := strings.ToLower(s.Query())
	out := make([]models.Pet, 0, len(pets))
	for _, p := range pets {
		if strings.Contains(strings.ToLower(p.Name), q) {
			out = append(out, p)
		}
	}
	return out
}
