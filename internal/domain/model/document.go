// Пакет model — доменные модели Custody Module.
package model

import (
	"path/filepath"
	"strings"
	"time"
)

// FileType — допустимый тип документа.
type FileType string

const (
	FileTypePDF  FileType = "PDF"
	FileTypeDOCX FileType = "DOCX"
)

// MIME-типы допустимых документов.
const (
	MimePDF  = "application/pdf"
	MimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// allowedExtensions — расширение → тип документа.
var allowedExtensions = map[string]FileType{
	".pdf":  FileTypePDF,
	".docx": FileTypeDOCX,
}

// mimeExtensions — MIME → каноническое расширение.
var mimeExtensions = map[string]string{
	MimePDF:  ".pdf",
	MimeDOCX: ".docx",
}

// ResolveFileType определяет тип документа по имени файла и MIME.
// Заявленный MIME, если он указан, должен входить в список допустимых.
// Расширение имени имеет приоритет при выборе типа; если его нет,
// расширение выводится из MIME.
// Возвращает тип, каноническое расширение и false, если тип не допустим.
func ResolveFileType(fileName, mimeType string) (FileType, string, bool) {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	mimeExt, mimeAllowed := mimeExtensions[mt]
	if mt != "" && !mimeAllowed {
		return "", "", false
	}

	ext := strings.ToLower(filepath.Ext(fileName))
	if ext == "" {
		ext = mimeExt
	}
	ft, ok := allowedExtensions[ext]
	if !ok {
		return "", "", false
	}
	return ft, ext, true
}

// HashStatus — статус сверки хэша документа.
type HashStatus string

const (
	HashStatusValid   HashStatus = "VALID"
	HashStatusMissing HashStatus = "MISSING"
	HashStatusRemoved HashStatus = "REMOVED"
	HashStatusSystem  HashStatus = "SYSTEM"
)

// IsValid проверяет, что значение входит в перечисление.
func (s HashStatus) IsValid() bool {
	switch s {
	case HashStatusValid, HashStatusMissing, HashStatusRemoved, HashStatusSystem:
		return true
	}
	return false
}

// Channel — канал внешней отправки документа.
type Channel string

const (
	ChannelEmail Channel = "EMAIL"
	ChannelViber Channel = "VIBER"
)

// IsValid проверяет, что канал поддерживается.
func (c Channel) IsValid() bool {
	return c == ChannelEmail || c == ChannelViber
}

// AuditStatus — производная метка соответствия.
type AuditStatus string

const (
	AuditStatusCompliant      AuditStatus = "COMPLIANT"
	AuditStatusModified       AuditStatus = "MODIFIED"
	AuditStatusReviewRequired AuditStatus = "REVIEW_REQUIRED"
)

// Document — документ под хранением.
// Хранится в таблице documents, blob — в filestore по StoragePath.
type Document struct {
	// ID — UUID документа, неизменяем
	ID string
	// TenantID — идентификатор компании-владельца
	TenantID string
	// OriginalFileName — имя файла при загрузке, неизменяемо
	OriginalFileName string
	// CurrentFileName — текущее имя (переименования пока не реализованы)
	CurrentFileName string
	// FileType — PDF или DOCX
	FileType FileType
	// FileSize — размер в байтах
	FileSize int64
	// StoragePath — относительный путь blob'а в filestore
	StoragePath string

	// InitialHash — hex SHA-256 на момент загрузки, неизменяем
	InitialHash string
	// HashAlgorithm — всегда SHA-256
	HashAlgorithm string
	// HashStatus — результат последней сверки
	HashStatus HashStatus

	// UploadedByUser — кто загрузил
	UploadedByUser string
	// UploadedAt — время загрузки
	UploadedAt time.Time
	// CreatedByUser — автор документа (по умолчанию загрузивший)
	CreatedByUser string
	// CreationTool — инструмент создания (опционально)
	CreationTool *string
	// CreatedAt — время создания записи
	CreatedAt time.Time

	// ContentModified — содержимое изменено (выставляет внешняя сверка)
	ContentModified bool
	// RenameOnly — изменение только в имени
	RenameOnly bool
	// LastModifiedAt — время обнаруженного изменения
	LastModifiedAt *time.Time
	// ModificationTool — инструмент изменения
	ModificationTool *string

	// SentExternally — документ отправлялся наружу
	SentExternally bool
	// SentVia — канал последней отправки
	SentVia *Channel
	// SentVersionHash — хэш версии на момент последней отправки
	SentVersionHash *string

	// LegalHold — удаление запрещено
	LegalHold bool
	// LogicalDeleted — документ логически удалён
	LogicalDeleted bool
	// LogicalDeletedAt — время логического удаления
	LogicalDeletedAt *time.Time
	// RetentionExpiryDate — окончание срока хранения
	RetentionExpiryDate time.Time
	// AuditStatus — производная метка, вычисляется при чтении
	AuditStatus AuditStatus
}

// CurrentHash возвращает хэш, действующий на текущий момент.
// Содержимое документа после загрузки не заменяется.
func (d *Document) CurrentHash() string {
	return d.InitialHash
}

// DeriveAuditStatus вычисляет метку соответствия по полям целостности.
func (d *Document) DeriveAuditStatus() AuditStatus {
	switch {
	case d.HashStatus != HashStatusValid:
		return AuditStatusReviewRequired
	case d.ContentModified:
		return AuditStatusModified
	default:
		return AuditStatusCompliant
	}
}
