package api

import (
	"errors"
	"net/http"
	"strings"
)

func (a *API) handleListTokens(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	tokens, err := a.tokens.List(ctx)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"tokens": tokens})
}

func (a *API) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, errors.New("name is required"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	token, value, err := a.tokens.Issue(ctx, req.Name)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	// The plaintext value is shown here and never again.
	respondJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"value": value,
	})
}

func (a *API) handleToggleToken(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	token, err := a.tokens.Toggle(ctx, id)
	switch {
	case errors.Is(err, ErrTokenNotFound):
		respondError(w, http.StatusNotFound, errors.New("token not found"))
	case err != nil:
		respondError(w, http.StatusInternalServerError, err)
	default:
		respondJSON(w, http.StatusOK, map[string]any{"token": token})
	}
}

func (a *API) handleDeleteToken(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	err = a.tokens.Delete(ctx, id)
	switch {
	case errors.Is(err, ErrTokenNotFound):
		respondError(w, http.StatusNotFound, errors.New("token not found"))
	case err != nil:
		respondError(w, http.StatusInternalServerError, err)
	default:
		respondJSON(w, http.StatusOK, map[string]any{"deleted": id})
	}
}
