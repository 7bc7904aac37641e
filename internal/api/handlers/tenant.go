// tenant.go — обработчики /api/v1/tenant endpoints:
// настройки компании и role overrides.
package handlers

import (
	"net/http"

	apierrors "github.com/bigkaa/goartstore/custody-module/internal/api/errors"
)

// GetTenantSettings — GET /api/v1/tenant/settings.
func (h *APIHandler) GetTenantSettings(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}

	view, err := h.settings.Get(r.Context(), a)
	if err != nil {
		h.writeServiceError(w, "настройки компании", err)
		return
	}
	writeJSON(w, http.StatusOK, mapTenantSettings(view))
}

// UpdateTenantSettings — PUT /api/v1/tenant/settings.
// Доступ: admin. Срок применяется только к новым загрузкам.
func (h *APIHandler) UpdateTenantSettings(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}

	var req TenantSettingsUpdate
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RetentionDays == nil {
		apierrors.ValidationError(w, "Поле retentionDays обязательно")
		return
	}

	view, err := h.settings.SetRetentionDays(r.Context(), a, *req.RetentionDays)
	if err != nil {
		h.writeServiceError(w, "изменение настроек компании", err)
		return
	}
	writeJSON(w, http.StatusOK, mapTenantSettings(view))
}

// ListRoleOverrides — GET /api/v1/tenant/role-overrides. Доступ: admin.
func (h *APIHandler) ListRoleOverrides(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}

	list, err := h.roleOverrides.List(r.Context(), a)
	if err != nil {
		h.writeServiceError(w, "список role overrides", err)
		return
	}

	items := make([]RoleOverride, len(list))
	for i, ro := range list {
		items[i] = mapRoleOverride(ro)
	}
	writeJSON(w, http.StatusOK, RoleOverrideList{Items: items})
}

// SetRoleOverride — PUT /api/v1/tenant/role-overrides/{user_id}. Доступ: admin.
func (h *APIHandler) SetRoleOverride(w http.ResponseWriter, r *http.Request, userID UserID) {
	a, ok := actor(w, r)
	if !ok {
		return
	}

	var req RoleOverrideRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ro, err := h.roleOverrides.Set(r.Context(), a, userID, req.AdditionalRole)
	if err != nil {
		h.writeServiceError(w, "установка role override", err)
		return
	}
	writeJSON(w, http.StatusOK, mapRoleOverride(ro))
}

// DeleteRoleOverride — DELETE /api/v1/tenant/role-overrides/{user_id}. Доступ: admin.
func (h *APIHandler) DeleteRoleOverride(w http.ResponseWriter, r *http.Request, userID UserID) {
	a, ok := actor(w, r)
	if !ok {
		return
	}

	if err := h.roleOverrides.Delete(r.Context(), a, userID); err != nil {
		h.writeServiceError(w, "удаление role override", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
