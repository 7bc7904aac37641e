// types.go — JSON-представления запросов и ответов API.
package handlers

import (
	"time"

	"github.com/bigkaa/goartstore/custody-module/internal/domain/model"
	"github.com/bigkaa/goartstore/custody-module/internal/service"
)

// Document — метаданные документа в ответах API.
type Document struct {
	ID                  string     `json:"id"`
	OriginalFileName    string     `json:"originalFileName"`
	CurrentFileName     string     `json:"currentFileName"`
	FileType            string     `json:"fileType"`
	FileSize            int64      `json:"fileSize"`
	InitialHash         string     `json:"initialHash"`
	HashAlgorithm       string     `json:"hashAlgorithm"`
	HashStatus          string     `json:"hashStatus"`
	AuditStatus         string     `json:"auditStatus"`
	UploadedBy          string     `json:"uploadedBy"`
	UploadedAt          time.Time  `json:"uploadedAt"`
	CreatedBy           string     `json:"createdBy"`
	CreationTool        *string    `json:"creationTool,omitempty"`
	ContentModified     bool       `json:"contentModified"`
	RenameOnly          bool       `json:"renameOnly"`
	LastModifiedAt      *time.Time `json:"lastModifiedAt,omitempty"`
	ModificationTool    *string    `json:"modificationTool,omitempty"`
	SentExternally      bool       `json:"sentExternally"`
	SentVia             *string    `json:"sentVia,omitempty"`
	SentVersionHash     *string    `json:"sentVersionHash,omitempty"`
	LegalHold           bool       `json:"legalHold"`
	LogicalDeleted      bool       `json:"logicalDeleted"`
	LogicalDeletedAt    *time.Time `json:"logicalDeletedAt,omitempty"`
	RetentionExpiryDate time.Time  `json:"retentionExpiryDate"`
}

// DocumentList — страница документов.
type DocumentList struct {
	Items   []Document `json:"items"`
	Total   int        `json:"total"`
	Limit   int        `json:"limit"`
	Offset  int        `json:"offset"`
	HasMore bool       `json:"hasMore"`
}

// SendRequest — тело POST /documents/{id}/send.
type SendRequest struct {
	Channel   string `json:"channel"`
	Recipient string `json:"recipient"`
}

// SendResponse — результат отправки.
type SendResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	AuditID string `json:"auditId"`
}

// LegalHoldRequest — тело PUT /documents/{id}/legal-hold.
type LegalHoldRequest struct {
	LegalHold *bool `json:"legalHold"`
}

// AuditEvent — событие журнала аудита.
type AuditEvent struct {
	ID           string    `json:"id"`
	DocumentID   string    `json:"documentId"`
	Action       string    `json:"action"`
	PerformedBy  string    `json:"performedBy"`
	PerformedAt  time.Time `json:"performedAt"`
	PreviousHash *string   `json:"previousHash,omitempty"`
	NewHash      *string   `json:"newHash,omitempty"`
	Channel      *string   `json:"channel,omitempty"`
	Notes        string    `json:"notes,omitempty"`
}

// AuditTrail — журнал аудита документа.
type AuditTrail struct {
	DocumentID string       `json:"documentId"`
	Events     []AuditEvent `json:"events"`
}

// TenantSettings — настройки компании.
type TenantSettings struct {
	TenantID               string     `json:"tenantId"`
	RetentionDays          *int       `json:"retentionDays,omitempty"`
	EffectiveRetentionDays int        `json:"effectiveRetentionDays"`
	DefaultRetentionDays   int        `json:"defaultRetentionDays"`
	UpdatedAt              *time.Time `json:"updatedAt,omitempty"`
	UpdatedBy              string     `json:"updatedBy,omitempty"`
}

// TenantSettingsUpdate — тело PUT /tenant/settings.
type TenantSettingsUpdate struct {
	RetentionDays *int `json:"retentionDays"`
}

// RoleOverride — локальное повышение роли.
type RoleOverride struct {
	UserID         string    `json:"userId"`
	AdditionalRole string    `json:"additionalRole"`
	CreatedBy      string    `json:"createdBy"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// RoleOverrideList — список overrides компании.
type RoleOverrideList struct {
	Items []RoleOverride `json:"items"`
}

// RoleOverrideRequest — тело PUT /tenant/role-overrides/{user_id}.
type RoleOverrideRequest struct {
	AdditionalRole string `json:"additionalRole"`
}

// --- Маппинг domain → API ---

func mapDocument(d *model.Document) Document {
	result := Document{
		ID:                  d.ID,
		OriginalFileName:    d.OriginalFileName,
		CurrentFileName:     d.CurrentFileName,
		FileType:            string(d.FileType),
		FileSize:            d.FileSize,
		InitialHash:         d.InitialHash,
		HashAlgorithm:       d.HashAlgorithm,
		HashStatus:          string(d.HashStatus),
		AuditStatus:         string(d.DeriveAuditStatus()),
		UploadedBy:          d.UploadedByUser,
		UploadedAt:          d.UploadedAt,
		CreatedBy:           d.CreatedByUser,
		CreationTool:        d.CreationTool,
		ContentModified:     d.ContentModified,
		RenameOnly:          d.RenameOnly,
		LastModifiedAt:      d.LastModifiedAt,
		ModificationTool:    d.ModificationTool,
		SentExternally:      d.SentExternally,
		SentVersionHash:     d.SentVersionHash,
		LegalHold:           d.LegalHold,
		LogicalDeleted:      d.LogicalDeleted,
		LogicalDeletedAt:    d.LogicalDeletedAt,
		RetentionExpiryDate: d.RetentionExpiryDate,
	}
	if d.SentVia != nil {
		s := string(*d.SentVia)
		result.SentVia = &s
	}
	return result
}

func mapAuditEvent(e *model.AuditEvent) AuditEvent {
	result := AuditEvent{
		ID:           e.ID,
		DocumentID:   e.DocumentID,
		Action:       string(e.Action),
		PerformedBy:  e.PerformedBy,
		PerformedAt:  e.PerformedAt,
		PreviousHash: e.PreviousHash,
		NewHash:      e.NewHash,
		Notes:        e.Notes,
	}
	if e.Channel != nil {
		s := string(*e.Channel)
		result.Channel = &s
	}
	return result
}

func mapTenantSettings(v *service.TenantSettingsView) TenantSettings {
	return TenantSettings{
		TenantID:               v.TenantID,
		RetentionDays:          v.RetentionDays,
		EffectiveRetentionDays: v.EffectiveRetentionDays,
		DefaultRetentionDays:   v.DefaultRetentionDays,
		UpdatedAt:              v.UpdatedAt,
		UpdatedBy:              v.UpdatedBy,
	}
}

func mapRoleOverride(ro *model.RoleOverride) RoleOverride {
	return RoleOverride{
		UserID:         ro.UserID,
		AdditionalRole: string(ro.AdditionalRole),
		CreatedBy:      ro.CreatedBy,
		CreatedAt:      ro.CreatedAt,
		UpdatedAt:      ro.UpdatedAt,
	}
}
