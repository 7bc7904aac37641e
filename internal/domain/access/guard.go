// Пакет access — единая проверка прав субъекта на документ.
// Граница тенанта проверяется первой: чужой тенант неотличим от
// отсутствующего документа.
package access

import (
	"errors"

	"github.com/bigkaa/goartstore/custody-module/internal/domain/model"
	"github.com/bigkaa/goartstore/custody-module/internal/domain/rbac"
)

var (
	// ErrNotFound — документ отсутствует или принадлежит другому тенанту.
	ErrNotFound = errors.New("документ не найден")
	// ErrForbidden — документ существует в тенанте, но недоступен субъекту.
	ErrForbidden = errors.New("доступ запрещён")
)

// CanAccess сообщает, может ли субъект читать и изменять документ.
func CanAccess(actor model.Actor, doc *model.Document) bool {
	return RequireAccess(actor, doc) == nil
}

// RequireAccess возвращает ErrNotFound при несовпадении тенанта,
// ErrForbidden при отсутствии прав и nil, если доступ разрешён.
func RequireAccess(actor model.Actor, doc *model.Document) error {
	if doc == nil || actor.TenantID == "" || doc.TenantID != actor.TenantID {
		return ErrNotFound
	}

	switch actor.Role {
	case rbac.RoleAdmin:
		return nil
	case rbac.RoleUser:
		if doc.UploadedByUser == actor.ID {
			return nil
		}
	}
	return ErrForbidden
}

// RequireAdmin проверяет административную роль субъекта.
func RequireAdmin(actor model.Actor) error {
	if !actor.Role.IsAdmin() {
		return ErrForbidden
	}
	return nil
}
