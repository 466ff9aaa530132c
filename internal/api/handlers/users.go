// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/licman/internal/auth"
	"github.com/autobrr/licman/internal/models"
)

// UsersHandler manages accounts. Every route is admin only.
type UsersHandler struct {
	authService *auth.Service
}

func NewUsersHandler(authService *auth.Service) *UsersHandler {
	return &UsersHandler{authService: authService}
}

type CreateUserRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,min=8"`
	IsAdmin  bool   `json:"isAdmin"`
}

type UpdateUserRequest struct {
	IsAdmin *bool `json:"isAdmin" validate:"required"`
}

func (h *UsersHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.authService.ListUsers(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list users")
		RespondError(w, http.StatusInternalServerError, "Failed to list users")
		return
	}

	response := make([]UserResponse, 0, len(users))
	for _, user := range users {
		response = append(response, newUserResponse(user))
	}
	RespondJSON(w, http.StatusOK, response)
}

func (h *UsersHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := DecodeAndValidate(r, &req); err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.authService.CreateUser(r.Context(), req.Username, req.Password, req.IsAdmin)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrUserAlreadyExists):
			RespondError(w, http.StatusConflict, "Username already taken")
		case errors.Is(err, auth.ErrWeakPassword), errors.Is(err, auth.ErrEmptyUsername):
			RespondError(w, http.StatusBadRequest, err.Error())
		default:
			log.Error().Err(err).Msg("Failed to create user")
			RespondError(w, http.StatusInternalServerError, "Failed to create user")
		}
		return
	}

	RespondJSON(w, http.StatusCreated, newUserResponse(user))
}

func (h *UsersHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := ParseIDFromPath(r, "userID")
	if err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	var req UpdateUserRequest
	if err := DecodeAndValidate(r, &req); err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.authService.SetAdmin(r.Context(), id, *req.IsAdmin); err != nil {
		h.respondUserError(w, err, "Failed to update user")
		return
	}

	user, err := h.authService.GetUser(r.Context(), id)
	if err != nil {
		h.respondUserError(w, err, "Failed to update user")
		return
	}
	RespondJSON(w, http.StatusOK, newUserResponse(user))
}

func (h *UsersHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := ParseIDFromPath(r, "userID")
	if err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	if err := h.authService.DeleteUser(r.Context(), id); err != nil {
		h.respondUserError(w, err, "Failed to delete user")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]string{
		"message": "User deleted successfully",
	})
}

func (h *UsersHandler) respondUserError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, models.ErrUserNotFound):
		RespondError(w, http.StatusNotFound, "User not found")
	case errors.Is(err, auth.ErrLastAdmin):
		RespondError(w, http.StatusConflict, "Cannot remove the last administrator")
	default:
		log.Error().Err(err).Msg(message)
		RespondError(w, http.StatusInternalServerError, message)
	}
}
