package repository

import (
	"context"
	"fmt"

	"github.com/bigkaa/goartstore/custody-module/internal/domain/model"
	"github.com/bigkaa/goartstore/custody-module/internal/ids"
)

// AuditEventRepository — журнал аудита (таблица audit_events).
// Записи только добавляются: методов изменения и удаления нет.
type AuditEventRepository interface {
	// Append добавляет событие, заполняя ID и PerformedAt.
	Append(ctx context.Context, e *model.AuditEvent) error
	// ListByDocument возвращает события документа по возрастанию времени.
	ListByDocument(ctx context.Context, documentID string) ([]*model.AuditEvent, error)
	// CountByDocument возвращает количество событий документа.
	CountByDocument(ctx context.Context, documentID string) (int, error)
}

type auditEventRepo struct {
	db DBTX
}

// NewAuditEventRepository создаёт репозиторий журнала аудита.
func NewAuditEventRepository(db DBTX) AuditEventRepository {
	return &auditEventRepo{db: db}
}

// Append вставляет событие. performed_at задаёт БД (clock_timestamp()),
// то есть время фиксации внутри транзакции, после блокировки документа.
func (r *auditEventRepo) Append(ctx context.Context, e *model.AuditEvent) error {
	if e.ID == "" {
		e.ID = ids.New()
	}

	var channel *string
	if e.Channel != nil {
		s := string(*e.Channel)
		channel = &s
	}

	query := `
		INSERT INTO audit_events (id, document_id, action, performed_by,
			previous_hash, new_hash, channel, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING performed_at`

	err := r.db.QueryRow(ctx, query,
		e.ID, e.DocumentID, string(e.Action), e.PerformedBy,
		e.PreviousHash, e.NewHash, channel, e.Notes,
	).Scan(&e.PerformedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: документ %s", ErrDanglingReference, e.DocumentID)
		}
		return fmt.Errorf("ошибка записи события аудита: %w", err)
	}
	return nil
}

func (r *auditEventRepo) ListByDocument(ctx context.Context, documentID string) ([]*model.AuditEvent, error) {
	query := `
		SELECT id, document_id, action, performed_by, performed_at,
			previous_hash, new_hash, channel, notes
		FROM audit_events
		WHERE document_id = $1
		ORDER BY performed_at ASC, id ASC`

	rows, err := r.db.Query(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения журнала аудита: %w", err)
	}
	defer rows.Close()

	var result []*model.AuditEvent
	for rows.Next() {
		e := &model.AuditEvent{}
		var action string
		var channel *string
		if err := rows.Scan(
			&e.ID, &e.DocumentID, &action, &e.PerformedBy, &e.PerformedAt,
			&e.PreviousHash, &e.NewHash, &channel, &e.Notes,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования события аудита: %w", err)
		}
		e.Action = model.AuditAction(action)
		if channel != nil {
			ch := model.Channel(*channel)
			e.Channel = &ch
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (r *auditEventRepo) CountByDocument(ctx context.Context, documentID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM audit_events WHERE document_id = $1`, documentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта событий аудита: %w", err)
	}
	return count, nil
}
