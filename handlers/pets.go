package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"petsoft/petstate"
	"petsoft/validation"
)

func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	pets, err := h.svc.ListPets(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	store := petstate.New(pets)
	store.Select(r.URL.Query().Get("selected"))
	h.renderDashboard(w, r, store, r.URL.Query().Get("q"))
}

func (h *Handler) AddPet(w http.ResponseWriter, r *http.Request) {
	in := validation.PetInputFromValues(formValues(r))
	h.mutate(w, r, func(ctx context.Context, s *petstate.Store) error {
		return s.AddPet(ctx, h.svc.Mutator(), in)
	})
}

func (h *Handler) EditPet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "petID")
	in := validation.PetInputFromValues(formValues(r))
	h.mutate(w, r, func(ctx context.Context, s *petstate.Store) error {
		return s.EditPet(ctx, h.svc.Mutator(), id, in)
	})
}

func (h *Handler) DeletePet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "petID")
	h.mutate(w, r, func(ctx context.Context, s *petstate.Store) error {
		return s.DeletePet(ctx, h.svc.Mutator(), id)
	})
}

// mutate builds the request's pet state from the current list, applies op
// and renders the settled dashboard with any warnings it queued.
func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, op func(context.Context, *petstate.Store) error) {
	ctx := r.Context()
	pets, err := h.svc.ListPets(ctx)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	store := petstate.New(pets)
	store.Select(r.PostFormValue("selected"))
	if err := op(ctx, store); err != nil {
		h.fail(w, r, err)
		return
	}
	h.renderDashboard(w, r, store, r.PostFormValue("q"))
}

func (h *Handler) renderDashboard(w http.ResponseWriter, r *http.Request, store *petstate.Store, query string) {
	var search petstate.Search
	search.SetQuery(query)

	data := map[string]any{
		"Pets":       search.Filter(store.Pets()),
		"Count":      store.Count(),
		"Query":      search.Query(),
		"SelectedID": store.SelectedID(),
		"Selected":   nil,
		"Warnings":   store.Warnings(),
	}
	if p, ok := store.Selected(); ok {
		data["Selected"] = p
	}

	if isHTMX(r) {
		h.renderPartial(w, r, http.StatusOK, "dashboard.html", "dashboard-content", data)
		return
	}
	h.renderTemplate(w, r, http.StatusOK, "dashboard.html", data)
}
