// routes.go — ServerInterface и маршрутизация chi по OpenAPI контракту
// (internal/api/openapi/openapi.yaml). Параметры пути и query связываются
// через oapi-codegen runtime, так же как в сгенерированном коде.
package handlers

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	apierrors "github.com/bigkaa/goartstore/custody-module/internal/api/errors"
)

// DocumentID — параметр пути document_id.
type DocumentID = string

// UserID — параметр пути user_id.
type UserID = string

// ListDocumentsParams — query-параметры GET /api/v1/documents.
type ListDocumentsParams struct {
	HashStatus     *string `form:"hashStatus,omitempty" json:"hashStatus,omitempty"`
	UploadedBy     *string `form:"uploadedBy,omitempty" json:"uploadedBy,omitempty"`
	IncludeDeleted *bool   `form:"includeDeleted,omitempty" json:"includeDeleted,omitempty"`
	Limit          *int    `form:"limit,omitempty" json:"limit,omitempty"`
	Offset         *int    `form:"offset,omitempty" json:"offset,omitempty"`
}

// ServerInterface — все операции API.
type ServerInterface interface {
	// (GET /health/live)
	HealthLive(w http.ResponseWriter, r *http.Request)
	// (GET /health/ready)
	HealthReady(w http.ResponseWriter, r *http.Request)
	// (GET /metrics)
	GetMetrics(w http.ResponseWriter, r *http.Request)

	// (GET /api/v1/documents)
	ListDocuments(w http.ResponseWriter, r *http.Request, params ListDocumentsParams)
	// (POST /api/v1/documents)
	UploadDocument(w http.ResponseWriter, r *http.Request)
	// (GET /api/v1/documents/{document_id})
	GetDocument(w http.ResponseWriter, r *http.Request, documentID DocumentID)
	// (DELETE /api/v1/documents/{document_id})
	DeleteDocument(w http.ResponseWriter, r *http.Request, documentID DocumentID)
	// (GET /api/v1/documents/{document_id}/download)
	DownloadDocument(w http.ResponseWriter, r *http.Request, documentID DocumentID)
	// (POST /api/v1/documents/{document_id}/send)
	SendDocument(w http.ResponseWriter, r *http.Request, documentID DocumentID)
	// (PUT /api/v1/documents/{document_id}/legal-hold)
	SetLegalHold(w http.ResponseWriter, r *http.Request, documentID DocumentID)
	// (GET /api/v1/documents/{document_id}/audit)
	GetAuditTrail(w http.ResponseWriter, r *http.Request, documentID DocumentID)

	// (GET /api/v1/tenant/settings)
	GetTenantSettings(w http.ResponseWriter, r *http.Request)
	// (PUT /api/v1/tenant/settings)
	UpdateTenantSettings(w http.ResponseWriter, r *http.Request)
	// (GET /api/v1/tenant/role-overrides)
	ListRoleOverrides(w http.ResponseWriter, r *http.Request)
	// (PUT /api/v1/tenant/role-overrides/{user_id})
	SetRoleOverride(w http.ResponseWriter, r *http.Request, userID UserID)
	// (DELETE /api/v1/tenant/role-overrides/{user_id})
	DeleteRoleOverride(w http.ResponseWriter, r *http.Request, userID UserID)
}

// InvalidParamFormatError — параметр запроса не удалось разобрать.
type InvalidParamFormatError struct {
	ParamName string
	Err       error
}

func (e *InvalidParamFormatError) Error() string {
	return fmt.Sprintf("некорректный формат параметра %s: %s", e.ParamName, e.Err.Error())
}

func (e *InvalidParamFormatError) Unwrap() error {
	return e.Err
}

// serverInterfaceWrapper разбирает параметры и вызывает ServerInterface.
type serverInterfaceWrapper struct {
	handler          ServerInterface
	errorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

// pathParam связывает параметр пути в стиле simple.
func pathParam(r *http.Request, name string, dest *string) error {
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), dest,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return &InvalidParamFormatError{ParamName: name, Err: err}
	}
	return nil
}

func (siw *serverInterfaceWrapper) ListDocuments(w http.ResponseWriter, r *http.Request) {
	var params ListDocumentsParams
	query := r.URL.Query()

	bindings := []struct {
		name string
		dest any
	}{
		{"hashStatus", &params.HashStatus},
		{"uploadedBy", &params.UploadedBy},
		{"includeDeleted", &params.IncludeDeleted},
		{"limit", &params.Limit},
		{"offset", &params.Offset},
	}
	for _, b := range bindings {
		if err := runtime.BindQueryParameter("form", true, false, b.name, query, b.dest); err != nil {
			siw.errorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: b.name, Err: err})
			return
		}
	}

	siw.handler.ListDocuments(w, r, params)
}

// withDocumentID связывает document_id и вызывает обработчик.
func (siw *serverInterfaceWrapper) withDocumentID(
	fn func(w http.ResponseWriter, r *http.Request, documentID DocumentID),
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var documentID DocumentID
		if err := pathParam(r, "document_id", &documentID); err != nil {
			siw.errorHandlerFunc(w, r, err)
			return
		}
		fn(w, r, documentID)
	}
}

// withUserID связывает user_id и вызывает обработчик.
func (siw *serverInterfaceWrapper) withUserID(
	fn func(w http.ResponseWriter, r *http.Request, userID UserID),
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var userID UserID
		if err := pathParam(r, "user_id", &userID); err != nil {
			siw.errorHandlerFunc(w, r, err)
			return
		}
		fn(w, r, userID)
	}
}

// defaultErrorHandler — ошибка разбора параметров → 400 VALIDATION_ERROR.
func defaultErrorHandler(w http.ResponseWriter, _ *http.Request, err error) {
	apierrors.ValidationError(w, err.Error())
}

// HandlerFromMux регистрирует все маршруты ServerInterface на роутере r.
func HandlerFromMux(si ServerInterface, r chi.Router) http.Handler {
	siw := &serverInterfaceWrapper{
		handler:          si,
		errorHandlerFunc: defaultErrorHandler,
	}

	r.Get("/health/live", si.HealthLive)
	r.Get("/health/ready", si.HealthReady)
	r.Get("/metrics", si.GetMetrics)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/documents", siw.ListDocuments)
		r.Post("/documents", si.UploadDocument)
		r.Get("/documents/{document_id}", siw.withDocumentID(si.GetDocument))
		r.Delete("/documents/{document_id}", siw.withDocumentID(si.DeleteDocument))
		r.Get("/documents/{document_id}/download", siw.withDocumentID(si.DownloadDocument))
		r.Post("/documents/{document_id}/send", siw.withDocumentID(si.SendDocument))
		r.Put("/documents/{document_id}/legal-hold", siw.withDocumentID(si.SetLegalHold))
		r.Get("/documents/{document_id}/audit", siw.withDocumentID(si.GetAuditTrail))

		r.Get("/tenant/settings", si.GetTenantSettings)
		r.Put("/tenant/settings", si.UpdateTenantSettings)
		r.Get("/tenant/role-overrides", si.ListRoleOverrides)
		r.Put("/tenant/role-overrides/{user_id}", siw.withUserID(si.SetRoleOverride))
		r.Delete("/tenant/role-overrides/{user_id}", siw.withUserID(si.DeleteRoleOverride))
	})

	return r
}
