// documents.go — жизненный цикл документа: загрузка, чтение, отправка,
// логическое удаление, legal hold и журнал аудита.
//
// Каждая изменяющая операция — одна транзакция: строка документа
// блокируется (GetForUpdate), проверяются права, меняется состояние
// и добавляется ровно одно событие аудита. Либо всё, либо ничего.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/custody-module/internal/domain/access"
	"github.com/bigkaa/goartstore/custody-module/internal/domain/integrity"
	"github.com/bigkaa/goartstore/custody-module/internal/domain/model"
	"github.com/bigkaa/goartstore/custody-module/internal/domain/retention"
	"github.com/bigkaa/goartstore/custody-module/internal/repository"
	"github.com/bigkaa/goartstore/custody-module/internal/storage/filestore"
)

// Prometheus метрики документов
var (
	documentsUploadedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cm_documents_uploaded_total",
		Help: "Количество загруженных документов",
	}, []string{"file_type"})

	documentBytesUploadedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cm_document_bytes_uploaded_total",
		Help: "Объём загруженных документов в байтах",
	})

	auditEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cm_audit_events_total",
		Help: "Количество записанных событий аудита",
	}, []string{"action"})

	orphanBlobsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cm_orphan_blobs_total",
		Help: "Blob'ы, сохранённые без записи в БД (транзакция загрузки не выполнена)",
	})
)

// Пагинация списка документов.
const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// BlobStore — файловое хранилище содержимого документов.
// Реализуется *filestore.FileStore.
type BlobStore interface {
	Persist(tenantID, documentID, ext string, r io.Reader) (*filestore.SaveResult, error)
	Open(storagePath string) (*os.File, error)
}

// RetentionLookup — источник срока хранения тенанта.
// Реализуется *TenantSettingsService.
type RetentionLookup interface {
	RetentionDays(ctx context.Context, tenantID string) (*int, error)
}

// UploadInput — параметры загрузки.
type UploadInput struct {
	// FileName — имя файла от клиента
	FileName string
	// ContentType — MIME от клиента; если указан, должен быть PDF или DOCX
	ContentType string
	// Content — содержимое
	Content io.Reader
	// CreationTool — инструмент создания документа (опционально)
	CreationTool *string
}

// ListInput — фильтры и пагинация списка.
type ListInput struct {
	HashStatus     *model.HashStatus
	UploadedBy     *string
	IncludeDeleted bool
	Limit          int
	Offset         int
}

// SendResult — результат отправки документа.
type SendResult struct {
	Success bool
	Message string
	// AuditID — ID события SEND
	AuditID string
}

// DocumentService — оркестратор жизненного цикла документов.
type DocumentService struct {
	store     repository.Store
	blobs     BlobStore
	policy    retention.Policy
	retention RetentionLookup
	logger    *slog.Logger
	now       func() time.Time
}

// NewDocumentService создаёт сервис документов.
// retentionLookup может быть nil — тогда действует срок policy по умолчанию.
func NewDocumentService(
	store repository.Store,
	blobs BlobStore,
	policy retention.Policy,
	retentionLookup RetentionLookup,
	logger *slog.Logger,
) *DocumentService {
	return &DocumentService{
		store:     store,
		blobs:     blobs,
		policy:    policy,
		retention: retentionLookup,
		logger:    logger.With(slog.String("component", "documents")),
		now:       time.Now,
	}
}

// Upload сохраняет blob, вычисляет отпечаток и регистрирует документ
// вместе с событием UPLOAD.
//
// Blob пишется до транзакции. Если транзакция не прошла, файл остаётся
// на диске без записи в БД (логируется как WARN).
func (s *DocumentService) Upload(ctx context.Context, actor model.Actor, in UploadInput) (*model.Document, error) {
	if actor.ID == "" || actor.TenantID == "" {
		return nil, ErrForbidden
	}

	fileType, ext, ok := model.ResolveFileType(in.FileName, in.ContentType)
	if !ok {
		return nil, fmt.Errorf("%w: %q (%s)", ErrInvalidContentType, in.FileName, in.ContentType)
	}
	if in.Content == nil {
		return nil, fmt.Errorf("%w: пустое содержимое", ErrValidation)
	}

	docID := uuid.NewString()
	saved, err := s.blobs.Persist(actor.TenantID, docID, ext, in.Content)
	if err != nil {
		return nil, storageFailure("сохранение blob", err)
	}

	tenantDays, err := s.tenantRetention(ctx, actor.TenantID)
	if err != nil {
		s.orphaned(docID, saved.StoragePath, err)
		return nil, storageFailure("настройки тенанта", err)
	}

	fileName := strings.TrimSpace(in.FileName)
	if fileName == "" {
		fileName = docID + ext
	}

	now := s.now().UTC()
	doc := &model.Document{
		ID:                  docID,
		TenantID:            actor.TenantID,
		OriginalFileName:    fileName,
		CurrentFileName:     fileName,
		FileType:            fileType,
		FileSize:            saved.Size,
		StoragePath:         saved.StoragePath,
		InitialHash:         saved.Checksum,
		HashAlgorithm:       integrity.Algorithm,
		HashStatus:          model.HashStatusValid,
		UploadedByUser:      actor.ID,
		UploadedAt:          now,
		CreatedByUser:       actor.ID,
		CreationTool:        in.CreationTool,
		RetentionExpiryDate: s.policy.ExpiryFor(now, tenantDays),
	}

	newHash := doc.InitialHash
	err = s.store.InTx(ctx, func(q repository.Queries) error {
		if err := q.Documents.Create(ctx, doc); err != nil {
			return storageFailure("создание документа", err)
		}
		return s.appendEvent(ctx, q, &model.AuditEvent{
			DocumentID:  doc.ID,
			Action:      model.AuditActionUpload,
			PerformedBy: actor.ID,
			NewHash:     &newHash,
			Notes:       "uploaded: " + fileName,
		})
	})
	if err != nil {
		s.orphaned(docID, saved.StoragePath, err)
		return nil, txError(err)
	}

	auditEventsTotal.WithLabelValues(string(model.AuditActionUpload)).Inc()
	documentsUploadedTotal.WithLabelValues(string(fileType)).Inc()
	documentBytesUploadedTotal.Add(float64(saved.Size))

	s.logger.Info("Документ загружен",
		slog.String("document_id", doc.ID),
		slog.String("tenant_id", doc.TenantID),
		slog.String("uploaded_by", actor.ID),
		slog.String("file_type", string(fileType)),
		slog.Int64("size", doc.FileSize),
		slog.String("hash", doc.InitialHash),
	)

	return doc, nil
}

// List возвращает документы тенанта. Обычный пользователь видит только
// свои загрузки, фильтр uploadedBy для него игнорируется.
func (s *DocumentService) List(ctx context.Context, actor model.Actor, in ListInput) ([]*model.Document, int, error) {
	if actor.TenantID == "" {
		return nil, 0, ErrForbidden
	}
	if in.HashStatus != nil && !in.HashStatus.IsValid() {
		return nil, 0, fmt.Errorf("%w: неизвестный hashStatus %q", ErrValidation, *in.HashStatus)
	}

	filters := repository.DocumentListFilters{
		HashStatus:     in.HashStatus,
		UploadedBy:     in.UploadedBy,
		IncludeDeleted: in.IncludeDeleted,
	}
	if !actor.Role.IsAdmin() {
		self := actor.ID
		filters.UploadedBy = &self
	}

	limit, offset := in.Limit, in.Offset
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	docs, err := s.store.Documents().List(ctx, actor.TenantID, filters, limit, offset)
	if err != nil {
		return nil, 0, storageFailure("список документов", err)
	}
	total, err := s.store.Documents().Count(ctx, actor.TenantID, filters)
	if err != nil {
		return nil, 0, storageFailure("подсчёт документов", err)
	}
	return docs, total, nil
}

// Get возвращает документ. Логически удалённые документы читаются.
func (s *DocumentService) Get(ctx context.Context, actor model.Actor, id string) (*model.Document, error) {
	return s.load(ctx, s.store.Documents(), actor, id, false)
}

// Download возвращает документ и открытый blob. Вызывающий закрывает файл.
func (s *DocumentService) Download(ctx context.Context, actor model.Actor, id string) (*model.Document, *os.File, error) {
	doc, err := s.load(ctx, s.store.Documents(), actor, id, false)
	if err != nil {
		return nil, nil, err
	}

	f, err := s.blobs.Open(doc.StoragePath)
	if err != nil {
		if errors.Is(err, filestore.ErrBlobNotFound) {
			s.logger.Warn("Blob документа отсутствует",
				slog.String("document_id", doc.ID),
				slog.String("storage_path", doc.StoragePath),
			)
			return nil, nil, ErrBlobMissing
		}
		return nil, nil, storageFailure("чтение blob", err)
	}
	return doc, f, nil
}

// Send фиксирует внешнюю отправку документа. Сама доставка сообщения
// выполняется вне сервиса.
//
// Параметры отправки проверяются после загрузки документа: чужой или
// несуществующий документ всегда даёт ErrNotFound/ErrForbidden.
func (s *DocumentService) Send(ctx context.Context, actor model.Actor, id string, channel model.Channel, recipient string) (*SendResult, error) {
	recipient = strings.TrimSpace(recipient)

	var event *model.AuditEvent
	err := s.store.InTx(ctx, func(q repository.Queries) error {
		doc, err := s.load(ctx, q.Documents, actor, id, true)
		if err != nil {
			return err
		}
		if doc.LogicalDeleted {
			return ErrDocumentDeleted
		}
		if !channel.IsValid() {
			return fmt.Errorf("%w: неизвестный канал %q", ErrValidation, channel)
		}
		if recipient == "" {
			return fmt.Errorf("%w: не указан получатель", ErrValidation)
		}

		hash := doc.CurrentHash()
		if err := q.Documents.MarkSent(ctx, doc.ID, channel, hash); err != nil {
			return storageFailure("отметка отправки", err)
		}

		ch := channel
		event = &model.AuditEvent{
			DocumentID:   doc.ID,
			Action:       model.AuditActionSend,
			PerformedBy:  actor.ID,
			PreviousHash: &hash,
			NewHash:      &hash,
			Channel:      &ch,
			Notes:        fmt.Sprintf("sent via %s to %s", channel, recipient),
		}
		return s.appendEvent(ctx, q, event)
	})
	if err != nil {
		return nil, txError(err)
	}
	auditEventsTotal.WithLabelValues(string(model.AuditActionSend)).Inc()

	s.logger.Info("Документ отправлен",
		slog.String("document_id", id),
		slog.String("channel", string(channel)),
		slog.String("performed_by", actor.ID),
	)

	return &SendResult{
		Success: true,
		Message: fmt.Sprintf("Документ отправлен через %s", channel),
		AuditID: event.ID,
	}, nil
}

// Delete выполняет логическое удаление. Blob не удаляется.
// Повторное удаление и удаление под legal hold отклоняются без события.
func (s *DocumentService) Delete(ctx context.Context, actor model.Actor, id string) error {
	err := s.store.InTx(ctx, func(q repository.Queries) error {
		doc, err := s.load(ctx, q.Documents, actor, id, true)
		if err != nil {
			return err
		}
		if doc.LogicalDeleted {
			return ErrDocumentDeleted
		}
		if doc.LegalHold {
			return ErrLegalHoldActive
		}

		if err := q.Documents.MarkDeleted(ctx, doc.ID, s.now().UTC()); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrDocumentDeleted
			}
			return storageFailure("логическое удаление", err)
		}

		prev := doc.CurrentHash()
		return s.appendEvent(ctx, q, &model.AuditEvent{
			DocumentID:   doc.ID,
			Action:       model.AuditActionDelete,
			PerformedBy:  actor.ID,
			PreviousHash: &prev,
			Notes:        "logical delete",
		})
	})
	if err != nil {
		return txError(err)
	}
	auditEventsTotal.WithLabelValues(string(model.AuditActionDelete)).Inc()

	s.logger.Info("Документ удалён (логически)",
		slog.String("document_id", id),
		slog.String("performed_by", actor.ID),
	)
	return nil
}

// SetLegalHold устанавливает или снимает legal hold. Только администратор.
// Если документ уже в запрошенном состоянии, событие не пишется.
func (s *DocumentService) SetLegalHold(ctx context.Context, actor model.Actor, id string, hold bool) (*model.Document, error) {
	var result *model.Document
	var event *model.AuditEvent
	err := s.store.InTx(ctx, func(q repository.Queries) error {
		doc, err := s.load(ctx, q.Documents, actor, id, true)
		if err != nil {
			return err
		}
		if err := access.RequireAdmin(actor); err != nil {
			return err
		}
		if doc.LogicalDeleted {
			return ErrDocumentDeleted
		}
		result = doc
		if doc.LegalHold == hold {
			return nil
		}

		if err := q.Documents.SetLegalHold(ctx, doc.ID, hold); err != nil {
			return storageFailure("изменение legal hold", err)
		}
		doc.LegalHold = hold

		action, notes := model.AuditActionLegalHoldSet, "legal hold set"
		if !hold {
			action, notes = model.AuditActionLegalHoldReleased, "legal hold released"
		}
		hash := doc.CurrentHash()
		event = &model.AuditEvent{
			DocumentID:   doc.ID,
			Action:       action,
			PerformedBy:  actor.ID,
			PreviousHash: &hash,
			NewHash:      &hash,
			Notes:        notes,
		}
		return s.appendEvent(ctx, q, event)
	})
	if err != nil {
		return nil, txError(err)
	}
	if event != nil {
		auditEventsTotal.WithLabelValues(string(event.Action)).Inc()
		s.logger.Info("Legal hold изменён",
			slog.String("document_id", result.ID),
			slog.Bool("legal_hold", hold),
			slog.String("performed_by", actor.ID),
		)
	}
	return result, nil
}

// AuditTrail возвращает журнал документа в порядке фиксации.
// Доступен и для логически удалённых документов.
func (s *DocumentService) AuditTrail(ctx context.Context, actor model.Actor, id string) ([]*model.AuditEvent, error) {
	doc, err := s.load(ctx, s.store.Documents(), actor, id, false)
	if err != nil {
		return nil, err
	}

	events, err := s.store.AuditEvents().ListByDocument(ctx, doc.ID)
	if err != nil {
		return nil, storageFailure("журнал аудита", err)
	}
	return events, nil
}

// load — единая точка чтения документа: граница тенанта, затем права.
// Некорректный UUID неотличим от отсутствующего документа.
func (s *DocumentService) load(
	ctx context.Context,
	docs repository.DocumentRepository,
	actor model.Actor,
	id string,
	forUpdate bool,
) (*model.Document, error) {
	if _, err := uuid.Parse(id); err != nil || actor.TenantID == "" {
		return nil, ErrNotFound
	}

	var doc *model.Document
	var err error
	if forUpdate {
		doc, err = docs.GetForUpdate(ctx, actor.TenantID, id)
	} else {
		doc, err = docs.Get(ctx, actor.TenantID, id)
	}
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, storageFailure("чтение документа", err)
	}

	if err := access.RequireAccess(actor, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// appendEvent добавляет событие аудита внутри транзакции.
func (s *DocumentService) appendEvent(ctx context.Context, q repository.Queries, e *model.AuditEvent) error {
	if err := q.AuditEvents.Append(ctx, e); err != nil {
		return storageFailure("запись события аудита", err)
	}
	return nil
}

func (s *DocumentService) tenantRetention(ctx context.Context, tenantID string) (*int, error) {
	if s.retention == nil {
		return nil, nil
	}
	return s.retention.RetentionDays(ctx, tenantID)
}

// orphaned логирует blob, оставшийся без записи в БД.
func (s *DocumentService) orphaned(docID, storagePath string, cause error) {
	orphanBlobsTotal.Inc()
	s.logger.Warn("Blob сохранён, но документ не зарегистрирован",
		slog.String("document_id", docID),
		slog.String("storage_path", storagePath),
		slog.String("error", cause.Error()),
	)
}
