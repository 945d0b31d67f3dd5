package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kettleside/bramble"
	"github.com/kettleside/bramble/logging"
)

// api serves a small JSON CRUD surface over the registered store. Every
// request resolves a fresh repository from the registry and closes it when
// the request ends, so no session outlives its request.
type api struct {
	reg *bramble.Registry
	log logging.Logger
}

func newRouter(reg *bramble.Registry, log logging.Logger) chi.Router {
	a := &api{reg: reg, log: log}

	r := chi.NewRouter()

	r.Route("/users", func(r chi.Router) {
		r.Get("/", a.listUsers)
		r.Post("/", a.createUser)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", a.getUser)
			r.Put("/", a.updateUser)
			r.Delete("/", a.deleteUser)
		})
	})

	r.Route("/orders", func(r chi.Router) {
		r.Get("/", a.listOrders)
		r.Post("/", a.createOrder)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", a.getOrder)
			r.Delete("/", a.deleteOrder)
		})
	})

	return r
}

func (a *api) jsonResponse(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			a.log.Errorf("write response: %v", err)
		}
	}
}

// errorResponse maps store errors onto HTTP statuses. Anything not in the
// error taxonomy is a 500 and gets logged; taxonomy errors are the client's
// problem and only get logged at debug.
func (a *api) errorResponse(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, bramble.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, bramble.ErrConstraintViolation):
		status = http.StatusConflict
	case errors.Is(err, bramble.ErrBadArgument):
		status = http.StatusBadRequest
	default:
		status = http.StatusInternalServerError
	}

	if status == http.StatusInternalServerError {
		a.log.Errorf("request failed: %v", err)
	} else {
		a.log.Debugf("request rejected: %v", err)
	}

	a.jsonResponse(w, status, map[string]string{"error": err.Error()})
}

func (a *api) listUsers(w http.ResponseWriter, req *http.Request) {
	repo, err := bramble.OpenReader[User](req.Context(), a.reg)
	if err != nil {
		a.errorResponse(w, err)
		return
	}
	defer repo.Close()

	users, err := repo.All(req.Context())
	if err != nil {
		a.errorResponse(w, err)
		return
	}
	a.jsonResponse(w, http.StatusOK, users)
}

func (a *api) createUser(w http.ResponseWriter, req *http.Request) {
	var u User
	if err := json.NewDecoder(req.Body).Decode(&u); err != nil {
		a.jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "malformed body"})
		return
	}

	repo, err := bramble.OpenWriter[User](req.Context(), a.reg)
	if err != nil {
		a.errorResponse(w, err)
		return
	}
	defer repo.Close()

	created, err := repo.Add(req.Context(), u)
	if err != nil {
		a.errorResponse(w, err)
		return
	}
	a.jsonResponse(w, http.StatusCreated, created)
}

func (a *api) getUser(w http.ResponseWriter, req *http.Request) {
	id, err := uuid.Parse(chi.URLParam(req, "id"))
	if err != nil {
		a.jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "not a valid user ID"})
		return
	}

	repo, err := bramble.OpenReader[User](req.Context(), a.reg)
	if err != nil {
		a.errorResponse(w, err)
		return
	}
	defer repo.Close()

	u, err := repo.GetRequired(req.Context(), id)
	if err != nil {
		a.errorResponse(w, err)
		return
	}
	a.jsonResponse(w, http.StatusOK, u)
}

func (a *api) updateUser(w http.ResponseWriter, req *http.Request) {
	id, err := uuid.Parse(chi.URLParam(req, "id"))
	if err != nil {
		a.jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "not a valid user ID"})
		return
	}

	var u User
	if err := json.NewDecoder(req.Body).Decode(&u); err != nil {
		a.jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "malformed body"})
		return
	}
	u.ID = id

	repo, err := bramble.OpenWriter[User](req.Context(), a.reg)
	if err != nil {
		a.errorResponse(w, err)
		return
	}
	defer repo.Close()

	updated, err := repo.Update(req.Context(), u)
	if err != nil {
		a.errorResponse(w, err)
		return
	}
	a.jsonResponse(w, http.StatusOK, updated)
}

func (a *api) deleteUser(w http.ResponseWriter, req *http.Request) {
	id, err := uuid.Parse(chi.URLParam(req, "id"))
	if err != nil {
		a.jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "not a valid user ID"})
		return
	}

	repo, err := bramble.OpenWriter[User](req.Context(), a.reg)
	if err != nil {
		a.errorResponse(w, err)
		return
	}
	defer repo.Close()

	removed, err := repo.DeleteKey(req.Context(), id)
	if err != nil {
		a.errorResponse(w, err)
		return
	}
	a.jsonResponse(w, http.StatusOK, removed)
}

func (a *api) listOrders(w http.ResponseWriter, req *http.Request) {
	repo, err := bramble.OpenReader[Order](req.Context(), a.reg)
	if err != nil {
		a.errorResponse(w, err)
		return
	}
	defer repo.Close()

	// ?user=UUID filters to one user's orders.
	view := bramble.Queryable[Order](repo)
	if rawUser := req.URL.Query().Get("user"); rawUser != "" {
		userID, err := uuid.Parse(rawUser)
		if err != nil {
			a.jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "not a valid user ID"})
			return
		}
		view = view.Where(bramble.KeyEquals(func(o Order) uuid.UUID { return o.UserID }, userID))
	}

	orders, err := view.All(req.Context())
	if err != nil {
		a.errorResponse(w, err)
		return
	}
	a.jsonResponse(w, http.StatusOK, orders)
}

func (a *api) createOrder(w http.ResponseWriter, req *http.Request) {
	var o Order
	if err := json.NewDecoder(req.Body).Decode(&o); err != nil {
		a.jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "malformed body"})
		return
	}
	if o.Quantity < 1 {
		a.jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "quantity must be at least 1"})
		return
	}

	repo, err := bramble.OpenWriter[Order](req.Context(), a.reg)
	if err != nil {
		a.errorResponse(w, err)
		return
	}
	defer repo.Close()

	created, err := repo.Add(req.Context(), o)
	if err != nil {
		a.errorResponse(w, err)
		return
	}
	a.jsonResponse(w, http.StatusCreated, created)
}

func (a *api) getOrder(w http.ResponseWriter, req *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(req, "id"), 10, 64)
	if err != nil {
		a.jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "not a valid order ID"})
		return
	}

	repo, err := bramble.OpenReader[Order](req.Context(), a.reg)
	if err != nil {
		a.errorResponse(w, err)
		return
	}
	defer repo.Close()

	o, err := repo.GetRequired(req.Context(), id)
	if err != nil {
		a.errorResponse(w, err)
		return
	}
	a.jsonResponse(w, http.StatusOK, o)
}

func (a *api) deleteOrder(w http.ResponseWriter, req *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(req, "id"), 10, 64)
	if err != nil {
		a.jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "not a valid order ID"})
		return
	}

	repo, err := bramble.OpenWriter[Order](req.Context(), a.reg)
	if err != nil {
		a.errorResponse(w, err)
		return
	}
	defer repo.Close()

	removed, err := repo.DeleteKey(req.Context(), id)
	if err != nil {
		a.errorResponse(w, err)
		return
	}
	a.jsonResponse(w, http.StatusOK, removed)
}
