package model

import "time"

// AuditAction — действие, зафиксированное в журнале.
type AuditAction string

const (
	AuditActionUpload            AuditAction = "UPLOAD"
	AuditActionSend              AuditAction = "SEND"
	AuditActionDelete            AuditAction = "DELETE"
	AuditActionLegalHoldSet      AuditAction = "LEGAL_HOLD_SET"
	AuditActionLegalHoldReleased AuditAction = "LEGAL_HOLD_RELEASED"
)

// AuditEvent — запись журнала аудита. Только добавляется.
// Хранится в таблице audit_events.
type AuditEvent struct {
	// ID — ULID, задаётся при добавлении
	ID string
	// DocumentID — документ, к которому относится событие
	DocumentID string
	// Action — тип действия
	Action AuditAction
	// PerformedBy — кто выполнил действие
	PerformedBy string
	// PerformedAt — время фиксации (задаёт хранилище)
	PerformedAt time.Time
	// PreviousHash — хэш до действия (nil для UPLOAD)
	PreviousHash *string
	// NewHash — хэш после действия (nil для DELETE)
	NewHash *string
	// Channel — канал, только для SEND
	Channel *Channel
	// Notes — комментарий
	Notes string
}
