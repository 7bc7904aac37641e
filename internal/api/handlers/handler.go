// Пакет handlers — HTTP-обработчики Custody Module.
// handler.go — основной обработчик API, реализующий ServerInterface.
// Объединяет доменные обработчики и делегирует запросы в сервисный слой.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/goartstore/custody-module/internal/api/errors"
	"github.com/bigkaa/goartstore/custody-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/custody-module/internal/domain/model"
	"github.com/bigkaa/goartstore/custody-module/internal/service"
)

// APIHandler — основной обработчик API Custody Module.
type APIHandler struct {
	health        *HealthHandler
	docs          *service.DocumentService
	settings      *service.TenantSettingsService
	roleOverrides *service.RoleOverrideService
	maxUploadSize int64
	logger        *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
// maxUploadSize — предел размера тела загрузки в байтах.
func NewAPIHandler(
	health *HealthHandler,
	docs *service.DocumentService,
	settings *service.TenantSettingsService,
	roleOverrides *service.RoleOverrideService,
	maxUploadSize int64,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:        health,
		docs:          docs,
		settings:      settings,
		roleOverrides: roleOverrides,
		maxUploadSize: maxUploadSize,
		logger:        logger.With(slog.String("component", "api_handler")),
	}
}

var _ ServerInterface = (*APIHandler)(nil)

// HealthLive — liveness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// actor извлекает субъекта запроса. При отсутствии claims пишет 401.
func actor(w http.ResponseWriter, r *http.Request) (model.Actor, bool) {
	a, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		apierrors.Unauthorized(w, "Отсутствуют claims")
	}
	return a, ok
}

// writeServiceError переводит ошибку сервисного слоя в HTTP-ответ.
// Причина ошибок хранилища логируется, клиенту уходит общее сообщение.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, "Ресурс не найден")
	case errors.Is(err, service.ErrForbidden):
		apierrors.Forbidden(w, "Недостаточно прав для операции")
	case errors.Is(err, service.ErrInvalidContentType):
		apierrors.InvalidFileType(w, err.Error())
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrLegalHoldActive):
		apierrors.LegalHoldActive(w, err.Error())
	case errors.Is(err, service.ErrDocumentDeleted):
		apierrors.DocumentDeleted(w, err.Error())
	case errors.Is(err, service.ErrBlobMissing):
		apierrors.FileNotFound(w, err.Error())
	case errors.Is(err, service.ErrStorageFailure):
		h.logger.Error("Ошибка хранилища", slog.String("operation", op), slog.String("error", err.Error()))
		apierrors.StorageFailure(w, "Ошибка хранилища, повторите запрос позже")
	default:
		h.logger.Error("Внутренняя ошибка", slog.String("operation", op), slog.String("error", err.Error()))
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}

// decodeJSON читает JSON-тело запроса. Неизвестные поля — ошибка.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return false
	}
	return true
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// paginationDefaults нормализует параметры пагинации.
// Возвращает корректные limit и offset.
func paginationDefaults(limit *int, offset *int) (int, int) {
	l := 100
	o := 0

	if limit != nil {
		l = *limit
		if l < 1 {
			l = 1
		}
		if l > 1000 {
			l = 1000
		}
	}

	if offset != nil {
		o = *offset
		if o < 0 {
			o = 0
		}
	}

	return l, o
}
