package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/custody-module/internal/domain/model"
)

// DocumentRepository — доступ к таблице documents.
// Все чтения ограничены тенантом, кроме ListActive (сверка целостности).
type DocumentRepository interface {
	// Create вставляет новый документ.
	Create(ctx context.Context, d *model.Document) error
	// Get возвращает документ тенанта. Чужой или отсутствующий → ErrNotFound.
	Get(ctx context.Context, tenantID, id string) (*model.Document, error)
	// GetForUpdate — Get с блокировкой строки до конца транзакции.
	GetForUpdate(ctx context.Context, tenantID, id string) (*model.Document, error)
	// List возвращает страницу документов тенанта.
	List(ctx context.Context, tenantID string, filters DocumentListFilters, limit, offset int) ([]*model.Document, error)
	// Count возвращает количество документов тенанта по фильтрам.
	Count(ctx context.Context, tenantID string, filters DocumentListFilters) (int, error)
	// MarkSent фиксирует внешнюю отправку.
	MarkSent(ctx context.Context, id string, channel model.Channel, hashAtSend string) error
	// MarkDeleted выполняет логическое удаление. Уже удалённый → ErrNotFound.
	MarkDeleted(ctx context.Context, id string, at time.Time) error
	// SetLegalHold устанавливает или снимает юридическое удержание.
	SetLegalHold(ctx context.Context, id string, hold bool) error
	// ListActive — keyset-страница неудалённых документов всех тенантов по id.
	ListActive(ctx context.Context, afterID string, limit int) ([]*model.Document, error)
}

// DocumentListFilters — фильтры списка документов.
type DocumentListFilters struct {
	UploadedBy     *string
	HashStatus     *model.HashStatus
	IncludeDeleted bool
}

// documentRepo — реализация DocumentRepository.
type documentRepo struct {
	db DBTX
}

// NewDocumentRepository создаёт репозиторий документов.
func NewDocumentRepository(db DBTX) DocumentRepository {
	return &documentRepo{db: db}
}

const documentColumns = `id, tenant_id, original_file_name, current_file_name, file_type, file_size,
	storage_path, initial_hash, hash_algorithm, hash_status,
	uploaded_by_user, uploaded_at, created_by_user, creation_tool, created_at,
	content_modified, rename_only, last_modified_at, modification_tool,
	sent_externally, sent_via, sent_version_hash,
	legal_hold, logical_deleted, logical_deleted_at, retention_expiry_date`

// scanDocument читает строку в порядке documentColumns.
func scanDocument(row pgx.Row) (*model.Document, error) {
	d := &model.Document{}
	var fileType, hashStatus string
	var sentVia *string

	err := row.Scan(
		&d.ID, &d.TenantID, &d.OriginalFileName, &d.CurrentFileName, &fileType, &d.FileSize,
		&d.StoragePath, &d.InitialHash, &d.HashAlgorithm, &hashStatus,
		&d.UploadedByUser, &d.UploadedAt, &d.CreatedByUser, &d.CreationTool, &d.CreatedAt,
		&d.ContentModified, &d.RenameOnly, &d.LastModifiedAt, &d.ModificationTool,
		&d.SentExternally, &sentVia, &d.SentVersionHash,
		&d.LegalHold, &d.LogicalDeleted, &d.LogicalDeletedAt, &d.RetentionExpiryDate,
	)
	if err != nil {
		return nil, err
	}

	d.FileType = model.FileType(fileType)
	d.HashStatus = model.HashStatus(hashStatus)
	if sentVia != nil {
		ch := model.Channel(*sentVia)
		d.SentVia = &ch
	}
	d.AuditStatus = d.DeriveAuditStatus()
	return d, nil
}

func (r *documentRepo) Create(ctx context.Context, d *model.Document) error {
	query := `
		INSERT INTO documents (id, tenant_id, original_file_name, current_file_name, file_type,
			file_size, storage_path, initial_hash, hash_algorithm, hash_status,
			uploaded_by_user, uploaded_at, created_by_user, creation_tool,
			retention_expiry_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at`

	err := r.db.QueryRow(ctx, query,
		d.ID, d.TenantID, d.OriginalFileName, d.CurrentFileName, string(d.FileType),
		d.FileSize, d.StoragePath, d.InitialHash, d.HashAlgorithm, string(d.HashStatus),
		d.UploadedByUser, d.UploadedAt, d.CreatedByUser, d.CreationTool,
		d.RetentionExpiryDate,
	).Scan(&d.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: документ %s уже существует", ErrConflict, d.ID)
		}
		return fmt.Errorf("ошибка создания документа: %w", err)
	}
	d.AuditStatus = d.DeriveAuditStatus()
	return nil
}

func (r *documentRepo) Get(ctx context.Context, tenantID, id string) (*model.Document, error) {
	return r.get(ctx, tenantID, id, "")
}

func (r *documentRepo) GetForUpdate(ctx context.Context, tenantID, id string) (*model.Document, error) {
	return r.get(ctx, tenantID, id, "FOR UPDATE")
}

func (r *documentRepo) get(ctx context.Context, tenantID, id, lock string) (*model.Document, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM documents
		WHERE id = $1 AND tenant_id = $2
		%s`, documentColumns, lock)

	d, err := scanDocument(r.db.QueryRow(ctx, query, id, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения документа: %w", err)
	}
	return d, nil
}

// buildDocumentWhere строит WHERE-условие и аргументы для фильтрации документов.
// Тенант всегда первый аргумент.
func buildDocumentWhere(tenantID string, filters DocumentListFilters) (string, []any) {
	conditions := []string{"tenant_id = $1"}
	args := []any{tenantID}
	argNum := 2

	if !filters.IncludeDeleted {
		conditions = append(conditions, "logical_deleted = FALSE")
	}
	if filters.UploadedBy != nil {
		conditions = append(conditions, fmt.Sprintf("uploaded_by_user = $%d", argNum))
		args = append(args, *filters.UploadedBy)
		argNum++
	}
	if filters.HashStatus != nil {
		conditions = append(conditions, fmt.Sprintf("hash_status = $%d", argNum))
		args = append(args, string(*filters.HashStatus))
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

func (r *documentRepo) List(ctx context.Context, tenantID string, filters DocumentListFilters, limit, offset int) ([]*model.Document, error) {
	where, args := buildDocumentWhere(tenantID, filters)
	argNum := len(args) + 1

	query := fmt.Sprintf(`
		SELECT %s
		FROM documents
		%s
		ORDER BY uploaded_at DESC, id DESC
		LIMIT $%d OFFSET $%d`, documentColumns, where, argNum, argNum+1)

	args = append(args, limit, offset)
	return r.query(ctx, query, args...)
}

func (r *documentRepo) Count(ctx context.Context, tenantID string, filters DocumentListFilters) (int, error) {
	where, args := buildDocumentWhere(tenantID, filters)
	query := fmt.Sprintf(`SELECT COUNT(*) FROM documents %s`, where)

	var count int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта документов: %w", err)
	}
	return count, nil
}

func (r *documentRepo) MarkSent(ctx context.Context, id string, channel model.Channel, hashAtSend string) error {
	query := `
		UPDATE documents
		SET sent_externally = TRUE, sent_via = $2, sent_version_hash = $3
		WHERE id = $1`

	return r.exec(ctx, "отметки отправки", query, id, string(channel), hashAtSend)
}

func (r *documentRepo) MarkDeleted(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE documents
		SET logical_deleted = TRUE, logical_deleted_at = $2
		WHERE id = $1 AND logical_deleted = FALSE`

	return r.exec(ctx, "логического удаления", query, id, at)
}

func (r *documentRepo) SetLegalHold(ctx context.Context, id string, hold bool) error {
	query := `UPDATE documents SET legal_hold = $2 WHERE id = $1`
	return r.exec(ctx, "изменения legal hold", query, id, hold)
}

func (r *documentRepo) ListActive(ctx context.Context, afterID string, limit int) ([]*model.Document, error) {
	if afterID == "" {
		query := fmt.Sprintf(`
			SELECT %s
			FROM documents
			WHERE logical_deleted = FALSE
			ORDER BY id
			LIMIT $1`, documentColumns)
		return r.query(ctx, query, limit)
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM documents
		WHERE logical_deleted = FALSE AND id > $1
		ORDER BY id
		LIMIT $2`, documentColumns)
	return r.query(ctx, query, afterID, limit)
}

// exec выполняет UPDATE одной строки. Ноль затронутых строк → ErrNotFound.
func (r *documentRepo) exec(ctx context.Context, op, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("ошибка %s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *documentRepo) query(ctx context.Context, query string, args ...any) ([]*model.Document, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка документов: %w", err)
	}
	defer rows.Close()

	var result []*model.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования документа: %w", err)
		}
		result = append(result, d)
	}
	return result, rows.Err()
}
