package model

import "time"

// TenantSettings — настройки компании.
// Хранится в таблице tenant_settings.
type TenantSettings struct {
	// TenantID — компания
	TenantID string
	// RetentionDays — срок хранения документов в днях (nil — глобальное значение)
	RetentionDays *int
	// UpdatedAt — время последнего изменения
	UpdatedAt time.Time
	// UpdatedBy — кто изменил
	UpdatedBy string
}
