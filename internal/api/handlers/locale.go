// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"

	apimiddleware "github.com/autobrr/licman/internal/api/middleware"
	"github.com/autobrr/licman/internal/i18n"
	"github.com/autobrr/licman/internal/license"
	"github.com/autobrr/licman/internal/models"
)

// LocaleStore keeps each user's preferred locale.
type LocaleStore interface {
	GetUserProperty(ctx context.Context, userID int, key string) (string, bool, error)
	SetUserProperty(ctx context.Context, userID int, key, value string) error
	DeleteUserProperty(ctx context.Context, userID int, key string) error
}

// Localizer picks the language a response is rendered in.
type Localizer struct {
	catalog *i18n.Catalog
	store   LocaleStore
}

func NewLocalizer(catalog *i18n.Catalog, store LocaleStore) *Localizer {
	return &Localizer{catalog: catalog, store: store}
}

// Tag prefers the user's stored locale, then Accept-Language, then the
// configured default.
func (l *Localizer) Tag(r *http.Request) language.Tag {
	var stored string
	if user, ok := apimiddleware.UserFromContext(r.Context()); ok && l.store != nil {
		value, found, err := l.store.GetUserProperty(r.Context(), user.ID, models.KeyUserLocale)
		if err != nil {
			log.Warn().Err(err).Int("userID", user.ID).Msg("Failed to load user locale")
		} else if found {
			stored = value
		}
	}
	return l.catalog.Match(stored, r.Header.Get("Accept-Language"))
}

// LocalizedMessage is a status message together with its rendered text.
type LocalizedMessage struct {
	license.Message
	Text string `json:"text"`
}

func (l *Localizer) localize(tag language.Tag, msg license.Message) LocalizedMessage {
	return LocalizedMessage{Message: msg, Text: l.catalog.Render(tag, msg)}
}

// RespondLicenseError renders a *license.Error in the caller's language. Any
// other error is logged and reported as an internal error.
func (l *Localizer) RespondLicenseError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var licErr *license.Error
	if !errors.As(err, &licErr) {
		log.Error().Err(err).Msg(fallback)
		RespondError(w, http.StatusInternalServerError, fallback)
		return
	}

	status := http.StatusBadRequest
	if licErr.Key == license.ErrKeyRoleNotLicensed {
		status = http.StatusNotFound
	}

	log.Debug().Err(err).Str("key", licErr.Key).Msg("License request rejected")
	RespondJSON(w, status, map[string]string{
		"error": l.catalog.Translate(l.Tag(r), licErr.Key, licErr.Args),
		"key":   licErr.Key,
	})
}

type LocaleHandler struct {
	localizer *Localizer
}

func NewLocaleHandler(localizer *Localizer) *LocaleHandler {
	return &LocaleHandler{localizer: localizer}
}

type LocaleResponse struct {
	Locale    string   `json:"locale"`
	Stored    string   `json:"stored,omitempty"`
	Supported []string `json:"supported"`
}

type SetLocaleRequest struct {
	// empty clears the preference
	Locale string `json:"locale" validate:"omitempty,bcp47_language_tag"`
}

// GetLocale reports the locale responses are rendered in for this user.
func (h *LocaleHandler) GetLocale(w http.ResponseWriter, r *http.Request) {
	user, ok := apimiddleware.UserFromContext(r.Context())
	if !ok {
		RespondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	stored, _, err := h.localizer.store.GetUserProperty(r.Context(), user.ID, models.KeyUserLocale)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load user locale")
		RespondError(w, http.StatusInternalServerError, "Failed to load locale")
		return
	}

	RespondJSON(w, http.StatusOK, h.response(r, stored))
}

// SetLocale stores the user's preferred locale.
func (h *LocaleHandler) SetLocale(w http.ResponseWriter, r *http.Request) {
	user, ok := apimiddleware.UserFromContext(r.Context())
	if !ok {
		RespondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	var req SetLocaleRequest
	if err := DecodeAndValidate(r, &req); err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Locale == "" {
		if err := h.localizer.store.DeleteUserProperty(r.Context(), user.ID, models.KeyUserLocale); err != nil {
			log.Error().Err(err).Msg("Failed to clear user locale")
			RespondError(w, http.StatusInternalServerError, "Failed to save locale")
			return
		}
		RespondJSON(w, http.StatusOK, h.response(r, ""))
		return
	}

	if !h.localizer.catalog.IsSupported(req.Locale) {
		RespondError(w, http.StatusBadRequest, "Unsupported locale")
		return
	}

	if err := h.localizer.store.SetUserProperty(r.Context(), user.ID, models.KeyUserLocale, req.Locale); err != nil {
		log.Error().Err(err).Msg("Failed to save user locale")
		RespondError(w, http.StatusInternalServerError, "Failed to save locale")
		return
	}

	RespondJSON(w, http.StatusOK, h.response(r, req.Locale))
}

func (h *LocaleHandler) response(r *http.Request, stored string) LocaleResponse {
	supported := h.localizer.catalog.Supported()
	names := make([]string, 0, len(supported))
	for _, tag := range supported {
		names = append(names, tag.String())
	}
	return LocaleResponse{
		Locale:    h.localizer.catalog.Match(stored, r.Header.Get("Accept-Language")).String(),
		Stored:    stored,
		Supported: names,
	}
}
