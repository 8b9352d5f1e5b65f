package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"mcpcms/pkg/httpx"
	"mcpcms/pkg/models"
	"mcpcms/pkg/users"
)

type registerRequest struct {
	ExternalSubjectID string `json:"external_subject_id"`
	Email             string `json:"email"`
	Name              string `json:"name"`
}

// handleRegister creates a viewer account for an external subject. It is
// idempotent: registering a known subject answers with the existing account.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request, _ models.User) {
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var req registerRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid json", "validation_failed")
		return
	}
	u, created, err := s.Users.Register(r.Context(), req.ExternalSubjectID, req.Email, req.Name)
	if errors.Is(err, users.ErrInvalidInput) {
		httpx.Error(w, http.StatusBadRequest, "external_subject_id and email are required", "validation_failed")
		return
	}
	if err != nil {
		httpx.Error(w, http.StatusBadGateway, "user store unavailable", "dependency_failed")
		return
	}
	message := "User already exists"
	status := http.StatusOK
	if created {
		message = "User registered successfully"
		status = http.StatusCreated
	}
	httpx.WriteJSON(w, status, map[string]any{"message": message, "user_id": u.ID})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, u models.User) {
	httpx.WriteJSON(w, http.StatusOK, u)
}

func readRequestBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(r.Body)
	if err == nil {
		return body, true
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		httpx.Error(w, http.StatusRequestEntityTooLarge, "request body too large", "validation_failed")
		return nil, false
	}
	httpx.Error(w, http.StatusBadRequest, "invalid request body", "validation_failed")
	return nil, false
}
