// Пакет retention — политика срока хранения документов.
package retention

import "time"

// DefaultDays — срок хранения по умолчанию (~7 лет).
const DefaultDays = 2555

// Policy вычисляет дату окончания срока хранения.
type Policy struct {
	// DefaultDays — срок, если для тенанта не задан собственный
	DefaultDays int
}

// New создаёт политику. Неположительное значение заменяется на DefaultDays.
func New(defaultDays int) Policy {
	if defaultDays <= 0 {
		defaultDays = DefaultDays
	}
	return Policy{DefaultDays: defaultDays}
}

// ExpiryFor возвращает дату окончания хранения для документа,
// загруженного в uploadedAt. tenantDays — настройка тенанта (может быть nil).
func (p Policy) ExpiryFor(uploadedAt time.Time, tenantDays *int) time.Time {
	days := p.DefaultDays
	if tenantDays != nil && *tenantDays > 0 {
		days = *tenantDays
	}
	return uploadedAt.AddDate(0, 0, days)
}
