// documents.go — обработчики /api/v1/documents endpoints.
// Загрузка, список, получение, скачивание, отправка, логическое удаление,
// legal hold и журнал аудита.
package handlers

import (
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	apierrors "github.com/bigkaa/goartstore/custody-module/internal/api/errors"
	"github.com/bigkaa/goartstore/custody-module/internal/domain/model"
	"github.com/bigkaa/goartstore/custody-module/internal/service"
)

// multipartMemory — часть multipart, которая держится в памяти.
// Остальное ParseMultipartForm пишет во временные файлы.
const multipartMemory = 8 << 20

// UploadDocument — POST /api/v1/documents (multipart/form-data).
// Поле file обязательно, creationTool опционально.
func (h *APIHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}

	if r.ContentLength > h.maxUploadSize {
		apierrors.PayloadTooLarge(w, "Превышен максимальный размер файла")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			apierrors.PayloadTooLarge(w, "Превышен максимальный размер файла")
			return
		}
		apierrors.ValidationError(w, "Некорректный multipart запрос: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck // временные файлы multipart

	file, header, err := r.FormFile("file")
	if err != nil {
		apierrors.ValidationError(w, "Поле file обязательно")
		return
	}
	defer file.Close()

	var creationTool *string
	if v := strings.TrimSpace(r.FormValue("creationTool")); v != "" {
		creationTool = &v
	}

	doc, err := h.docs.Upload(r.Context(), a, service.UploadInput{
		FileName:     header.Filename,
		ContentType:  header.Header.Get("Content-Type"),
		Content:      file,
		CreationTool: creationTool,
	})
	if err != nil {
		h.writeServiceError(w, "загрузка документа", err)
		return
	}

	writeJSON(w, http.StatusCreated, mapDocument(doc))
}

// ListDocuments — GET /api/v1/documents.
// Обычный пользователь видит только свои документы.
func (h *APIHandler) ListDocuments(w http.ResponseWriter, r *http.Request, params ListDocumentsParams) {
	a, ok := actor(w, r)
	if !ok {
		return
	}

	limit, offset := paginationDefaults(params.Limit, params.Offset)
	in := service.ListInput{
		UploadedBy: params.UploadedBy,
		Limit:      limit,
		Offset:     offset,
	}
	if params.HashStatus != nil {
		hs := model.HashStatus(*params.HashStatus)
		in.HashStatus = &hs
	}
	if params.IncludeDeleted != nil {
		in.IncludeDeleted = *params.IncludeDeleted
	}

	docs, total, err := h.docs.List(r.Context(), a, in)
	if err != nil {
		h.writeServiceError(w, "список документов", err)
		return
	}

	items := make([]Document, len(docs))
	for i, d := range docs {
		items[i] = mapDocument(d)
	}

	writeJSON(w, http.StatusOK, DocumentList{
		Items:   items,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+limit < total,
	})
}

// GetDocument — GET /api/v1/documents/{document_id}.
func (h *APIHandler) GetDocument(w http.ResponseWriter, r *http.Request, documentID DocumentID) {
	a, ok := actor(w, r)
	if !ok {
		return
	}

	doc, err := h.docs.Get(r.Context(), a, documentID)
	if err != nil {
		h.writeServiceError(w, "получение документа", err)
		return
	}
	writeJSON(w, http.StatusOK, mapDocument(doc))
}

// DownloadDocument — GET /api/v1/documents/{document_id}/download.
// Отдаёт содержимое с поддержкой Range, отпечаток — в заголовке X-Content-SHA256.
func (h *APIHandler) DownloadDocument(w http.ResponseWriter, r *http.Request, documentID DocumentID) {
	a, ok := actor(w, r)
	if !ok {
		return
	}

	doc, f, err := h.docs.Download(r.Context(), a, documentID)
	if err != nil {
		h.writeServiceError(w, "скачивание документа", err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", contentTypeFor(doc.FileType))
	w.Header().Set("Content-Disposition",
		mime.FormatMediaType("attachment", map[string]string{"filename": doc.CurrentFileName}))
	w.Header().Set("X-Content-SHA256", doc.InitialHash)

	h.logger.Debug("Скачивание документа",
		slog.String("document_id", doc.ID),
		slog.String("user_id", a.ID),
	)
	http.ServeContent(w, r, doc.CurrentFileName, doc.UploadedAt, f)
}

// SendDocument — POST /api/v1/documents/{document_id}/send.
func (h *APIHandler) SendDocument(w http.ResponseWriter, r *http.Request, documentID DocumentID) {
	a, ok := actor(w, r)
	if !ok {
		return
	}

	var req SendRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.docs.Send(r.Context(), a, documentID, model.Channel(req.Channel), req.Recipient)
	if err != nil {
		h.writeServiceError(w, "отправка документа", err)
		return
	}

	writeJSON(w, http.StatusOK, SendResponse{
		Success: result.Success,
		Message: result.Message,
		AuditID: result.AuditID,
	})
}

// DeleteDocument — DELETE /api/v1/documents/{document_id}.
// Логическое удаление: blob и журнал сохраняются.
func (h *APIHandler) DeleteDocument(w http.ResponseWriter, r *http.Request, documentID DocumentID) {
	a, ok := actor(w, r)
	if !ok {
		return
	}

	if err := h.docs.Delete(r.Context(), a, documentID); err != nil {
		h.writeServiceError(w, "удаление документа", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetLegalHold — PUT /api/v1/documents/{document_id}/legal-hold.
// Доступ: admin.
func (h *APIHandler) SetLegalHold(w http.ResponseWriter, r *http.Request, documentID DocumentID) {
	a, ok := actor(w, r)
	if !ok {
		return
	}

	var req LegalHoldRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.LegalHold == nil {
		apierrors.ValidationError(w, "Поле legalHold обязательно")
		return
	}

	doc, err := h.docs.SetLegalHold(r.Context(), a, documentID, *req.LegalHold)
	if err != nil {
		h.writeServiceError(w, "изменение legal hold", err)
		return
	}
	writeJSON(w, http.StatusOK, mapDocument(doc))
}

// GetAuditTrail — GET /api/v1/documents/{document_id}/audit.
func (h *APIHandler) GetAuditTrail(w http.ResponseWriter, r *http.Request, documentID DocumentID) {
	a, ok := actor(w, r)
	if !ok {
		return
	}

	events, err := h.docs.AuditTrail(r.Context(), a, documentID)
	if err != nil {
		h.writeServiceError(w, "журнал аудита", err)
		return
	}

	items := make([]AuditEvent, len(events))
	for i, e := range events {
		items[i] = mapAuditEvent(e)
	}
	writeJSON(w, http.StatusOK, AuditTrail{DocumentID: documentID, Events: items})
}

// contentTypeFor возвращает MIME по типу документа.
func contentTypeFor(ft model.FileType) string {
	switch ft {
	case model.FileTypePDF:
		return model.MimePDF
	case model.FileTypeDOCX:
		return model.MimeDOCX
	default:
		return "application/octet-stream"
	}
}
