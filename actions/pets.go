package actions

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"petsoft/auth"
	"petsoft/db"
	"petsoft/models"
	"petsoft/petstate"
	"petsoft/validation"
)

type PetResult struct {
	Result
	Pet models.Pet
}

func (s *Service) AddPet(ctx context.Context, in validation.PetInput) (PetResult, error) {
	sess, err := auth.CheckAuth(ctx)
	if err != nil {
		return PetResult{}, err
	}

	form, err := validation.ParsePet(in)
	if err != nil {
		return s.petResult("add_pet", invalid(MsgInvalidPetData, err)), nil
	}

	pet := models.Pet{UserID: sess.UserID}
	form.Apply(&pet)
	if err := s.pets.CreatePet(ctx, &pet); err != nil {
		s.log.Error("create pet", zap.String("user_id", sess.UserID), zap.Error(err))
		return s.petResult("add_pet", fail(MsgAddPetFailed)), nil
	}

	s.invalidate(ctx, sess.UserID)
	s.observe("add_pet", Result{})
	return PetResult{Pet: pet}, nil
}

func (s *Service) EditPet(ctx context.Context, petID string, in validation.PetInput) (PetResult, error) {
	sess, err := auth.CheckAuth(ctx)
	if err != nil {
		return PetResult{}, err
	}

	form, err := validation.ParsePet(in)
	if err != nil {
		return s.petResult("edit_pet", invalid(MsgInvalidPetData, err)), nil
	}
	id, err := validation.ParsePetID(petID)
	if err != nil {
		return s.petResult("edit_pet", invalid(MsgInvalidPetData, err)), nil
	}

	pet, res := s.ownedPet(ctx, sess, id, MsgEditPetFailed)
	if !res.OK() {
		return s.petResult("edit_pet", res), nil
	}

	form.Apply(&pet)
	if err := s.pets.UpdatePet(ctx, &pet); err != nil {
		s.log.Error("update pet", zap.String("pet_id", id), zap.Error(err))
		return s.petResult("edit_pet", fail(MsgEditPetFailed)), nil
	}

	s.invalidate(ctx, sess.UserID)
	s.observe("edit_pet", Result{})
	return PetResult{Pet: pet}, nil
}

func (s *Service) DeletePet(ctx context.Context, petID string) (Result, error) {
	sess, err := auth.CheckAuth(ctx)
	if err != nil {
		return Result{}, err
	}

	id, err := validation.ParsePetID(petID)
	if err != nil {
		res := invalid(MsgInvalidPetID, err)
		s.observe("delete_pet", res)
		return res, nil
	}

	_, res := s.ownedPet(ctx, sess, id, MsgDeletePetFailed)
	if !res.OK() {
		s.observe("delete_pet", res)
		return res, nil
	}

	if err := s.pets.DeletePet(ctx, id); err != nil {
		s.log.Error("delete pet", zap.String("pet_id", id), zap.Error(err))
		res := fail(MsgDeletePetFailed)
		s.observe("delete_pet", res)
		return res, nil
	}

	s.invalidate(ctx, sess.UserID)
	s.observe("delete_pet", Result{})
	return Result{}, nil
}

// ownedPet loads the pet and checks it belongs to the session user.
func (s *Service) ownedPet(ctx context.Context, sess auth.Session, id, failMsg string) (models.Pet, Result) {
	pet, err := s.pets.GetPetByID(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return models.Pet{}, fail(MsgPetNotFound)
	}
	if err != nil {
		s.log.Error("get pet", zap.String("pet_id", id), zap.Error(err))
		return models.Pet{}, fail(failMsg)
	}
	if pet.UserID != sess.UserID {
		s.log.Warn("pet ownership mismatch", zap.String("pet_id", id), zap.String("user_id", sess.UserID))
		return models.Pet{}, fail(MsgUnauthorized)
	}
	return pet, Result{}
}

func (s *Service) petResult(action string, r Result) PetResult {
	s.observe(action, r)
	return PetResult{Result: r}
}

// ListPets returns the session user's pets, served from the view cache when
// possible.
func (s *Service) ListPets(ctx context.Context) ([]models.Pet, error) {
	sess, err := auth.CheckAuth(ctx)
	if err != nil {
		return nil, err
	}

	pets, ok, err := s.views.Pets(ctx, sess.UserID)
	if err != nil {
		s.log.Warn("read pet view", zap.String("user_id", sess.UserID), zap.Error(err))
	}
	if ok {
		return pets, nil
	}

	pets, err = s.pets.ListPetsByUser(ctx, sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("list pets: %w", err)
	}
	if err := s.views.StorePets(ctx, sess.UserID, pets); err != nil {
		s.log.Warn("store pet view", zap.String("user_id", sess.UserID), zap.Error(err))
	}
	return pets, nil
}

// Mutator exposes the pet actions to a petstate.Store. Rejections become
// *petstate.Failure so the store can show them as warnings.
func (s *Service) Mutator() petstate.Mutator {
	return mutator{s: s}
}

type mutator struct {
	s *Service
}

func (m mutator) AddPet(ctx context.Context, in validation.PetInput) (models.Pet, error) {
	res, err := m.s.AddPet(ctx, in)
	if err != nil {
		return models.Pet{}, err
	}
	if !res.OK() {
		return models.Pet{}, &petstate.Failure{Message: res.Message}
	}
	return res.Pet, nil
}

func (m mutator) EditPet(ctx context.Context, id string, in validation.PetInput) (models.Pet, error) {
	res, err := m.s.EditPet(ctx, id, in)
	if err != nil {
		return models.Pet{}, err
	}
	if !res.OK() {
		return models.Pet{}, &petstate.Failure{Message: res.Message}
	}
	return res.Pet, nil
}

func (m mutator) DeletePet(ctx context.Context, id string) error {
	res, err := m.s.DeletePet(ctx, id)
	if err != nil {
		return err
	}
	if !res.OK() {
		return &petstate.Failure{Message: res.Message}
	}
	return nil
}
