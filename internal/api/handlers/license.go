// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apimiddleware "github.com/autobrr/licman/internal/api/middleware"
	"github.com/autobrr/licman/internal/banner"
	"github.com/autobrr/licman/internal/license"
	"github.com/autobrr/licman/internal/models"
	"github.com/autobrr/licman/internal/services"
)

type LicenseHandler struct {
	licenseService *services.LicenseService
	localizer      *Localizer
}

func NewLicenseHandler(licenseService *services.LicenseService, localizer *Localizer) *LicenseHandler {
	return &LicenseHandler{
		licenseService: licenseService,
		localizer:      localizer,
	}
}

// LicenseStatusResponse is the license status with its messages rendered in
// the caller's language.
type LicenseStatusResponse struct {
	License     *services.Status `json:"license"`
	Locale      string           `json:"locale"`
	Status      LocalizedMessage `json:"status"`
	Expiry      LocalizedMessage `json:"expiry"`
	Maintenance LocalizedMessage `json:"maintenance"`
}

type SetLicenseRequest struct {
	License string `json:"license" validate:"required"`
}

type RoleGroupsRequest struct {
	Groups []string `json:"groups" validate:"required,dive,required,max=255"`
}

type AddRoleGroupRequest struct {
	Group string `json:"group" validate:"required,max=255"`
}

type BannerResponse struct {
	Kind           banner.Kind      `json:"kind"`
	Message        LocalizedMessage `json:"message"`
	CanRemindLater bool             `json:"canRemindLater"`
	CanRemindNever bool             `json:"canRemindNever"`
}

// GetLicense returns the current license status
func (h *LicenseHandler) GetLicense(w http.ResponseWriter, r *http.Request) {
	h.respondStatus(w, r)
}

func (h *LicenseHandler) respondStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.licenseService.GetStatus(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to get license status")
		RespondError(w, http.StatusInternalServerError, "Failed to get license status")
		return
	}

	tag := h.localizer.Tag(r)
	RespondJSON(w, http.StatusOK, LicenseStatusResponse{
		License:     status,
		Locale:      tag.String(),
		Status:      h.localizer.localize(tag, status.Status),
		Expiry:      h.localizer.localize(tag, status.Expiry),
		Maintenance: h.localizer.localize(tag, status.Maintenance),
	})
}

// SetLicense validates and installs a license
func (h *LicenseHandler) SetLicense(w http.ResponseWriter, r *http.Request) {
	var req SetLicenseRequest
	if err := DecodeAndValidate(r, &req); err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.licenseService.SetLicense(r.Context(), req.License); err != nil {
		h.localizer.RespondLicenseError(w, r, err, "Failed to set license")
		return
	}

	h.respondStatus(w, r)
}

// ClearLicense removes the installed license
func (h *LicenseHandler) ClearLicense(w http.ResponseWriter, r *http.Request) {
	if err := h.licenseService.ClearLicense(r.Context()); err != nil {
		log.Error().Err(err).Msg("Failed to clear license")
		RespondError(w, http.StatusInternalServerError, "Failed to clear license")
		return
	}

	h.respondStatus(w, r)
}

// GetBanners lists the license banners the current user should see
func (h *LicenseHandler) GetBanners(w http.ResponseWriter, r *http.Request) {
	user, ok := apimiddleware.UserFromContext(r.Context())
	if !ok {
		RespondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	banners, err := h.licenseService.Banners(r.Context(), user.ID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get license banners")
		RespondError(w, http.StatusInternalServerError, "Failed to get license banners")
		return
	}

	tag := h.localizer.Tag(r)
	response := make([]BannerResponse, 0, len(banners))
	for _, b := range banners {
		response = append(response, BannerResponse{
			Kind:           b.Kind,
			Message:        h.localizer.localize(tag, b.Message),
			CanRemindLater: b.CanRemindLater,
			CanRemindNever: b.CanRemindNever,
		})
	}
	RespondJSON(w, http.StatusOK, response)
}

// RemindLater defers a banner to the next threshold
func (h *LicenseHandler) RemindLater(w http.ResponseWriter, r *http.Request) {
	h.dismissBanner(w, r, h.licenseService.RemindLater)
}

// RemindNever hides the maintenance banner until the license changes
func (h *LicenseHandler) RemindNever(w http.ResponseWriter, r *http.Request) {
	h.dismissBanner(w, r, h.licenseService.RemindNever)
}

func (h *LicenseHandler) dismissBanner(w http.ResponseWriter, r *http.Request, dismiss func(context.Context, int, banner.Kind) error) {
	user, ok := apimiddleware.UserFromContext(r.Context())
	if !ok {
		RespondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	kind, err := banner.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		RespondError(w, http.StatusNotFound, "Unknown banner")
		return
	}

	if err := dismiss(r.Context(), user.ID, kind); err != nil {
		switch {
		case errors.Is(err, banner.ErrCannotDefer), errors.Is(err, banner.ErrNotDismissible):
			RespondError(w, http.StatusConflict, err.Error())
		case errors.Is(err, banner.ErrNoLicense), errors.Is(err, banner.ErrUnknownKind):
			RespondError(w, http.StatusNotFound, err.Error())
		default:
			log.Error().Err(err).Str("kind", string(kind)).Msg("Failed to dismiss banner")
			RespondError(w, http.StatusInternalServerError, "Failed to dismiss banner")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListRoles returns the licensed roles with their mapped groups
func (h *LicenseHandler) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.licenseService.Roles(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list license roles")
		RespondError(w, http.StatusInternalServerError, "Failed to list license roles")
		return
	}
	RespondJSON(w, http.StatusOK, roles)
}

// GetRoleGroups returns the groups mapped to a role
func (h *LicenseHandler) GetRoleGroups(w http.ResponseWriter, r *http.Request) {
	role := chi.URLParam(r, "role")

	groups, err := h.licenseService.RoleGroups(r.Context(), role)
	if err != nil {
		h.localizer.RespondLicenseError(w, r, err, "Failed to get role groups")
		return
	}
	if groups == nil {
		groups = []string{}
	}

	RespondJSON(w, http.StatusOK, services.RoleMapping{Role: role, Groups: groups})
}

// SetRoleGroups replaces the groups mapped to a role
func (h *LicenseHandler) SetRoleGroups(w http.ResponseWriter, r *http.Request) {
	var req RoleGroupsRequest
	if err := DecodeAndValidate(r, &req); err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.licenseService.SetRoleGroups(r.Context(), chi.URLParam(r, "role"), req.Groups); err != nil {
		if errors.Is(err, license.ErrEmptyGroup) {
			RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.localizer.RespondLicenseError(w, r, err, "Failed to set role groups")
		return
	}

	h.GetRoleGroups(w, r)
}

// AddRoleGroup maps one more group to a role
func (h *LicenseHandler) AddRoleGroup(w http.ResponseWriter, r *http.Request) {
	var req AddRoleGroupRequest
	if err := DecodeAndValidate(r, &req); err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.licenseService.AddRoleGroup(r.Context(), chi.URLParam(r, "role"), req.Group); err != nil {
		if errors.Is(err, license.ErrEmptyGroup) {
			RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.localizer.RespondLicenseError(w, r, err, "Failed to add role group")
		return
	}

	h.GetRoleGroups(w, r)
}

// RemoveRoleGroup unmaps a single group from a role
func (h *LicenseHandler) RemoveRoleGroup(w http.ResponseWriter, r *http.Request) {
	// URL.Path is already decoded unless the router matched on RawPath
	group := chi.URLParam(r, "group")
	if r.URL.RawPath != "" {
		unescaped, err := url.PathUnescape(group)
		if err != nil {
			RespondError(w, http.StatusBadRequest, "Invalid group name")
			return
		}
		group = unescaped
	}

	if err := h.licenseService.RemoveRoleGroup(r.Context(), chi.URLParam(r, "role"), group); err != nil {
		switch {
		case errors.Is(err, models.ErrRoleGroupNotFound):
			RespondError(w, http.StatusNotFound, "Group is not mapped to this role")
			return
		case errors.Is(err, license.ErrEmptyGroup):
			RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.localizer.RespondLicenseError(w, r, err, "Failed to remove role group")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SearchGroups finds mapped groups matching the q parameter
func (h *LicenseHandler) SearchGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.licenseService.SearchGroups(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		log.Error().Err(err).Msg("Failed to search groups")
		RespondError(w, http.StatusInternalServerError, "Failed to search groups")
		return
	}
	if groups == nil {
		groups = []string{}
	}
	RespondJSON(w, http.StatusOK, groups)
}

// ClearRoleCache drops cached role mappings
func (h *LicenseHandler) ClearRoleCache(w http.ResponseWriter, r *http.Request) {
	h.licenseService.ClearRoleCache()
	log.Info().Msg("License role cache cleared")
	w.WriteHeader(http.StatusNoContent)
}
