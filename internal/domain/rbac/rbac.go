// Пакет rbac — закрытый набор ролей и вычисление эффективной роли.
// Итоговая роль = max(роль из IdP, локальное повышение).
// Роль можно только повысить, не понизить.
package rbac

import "strings"

// Role — роль субъекта внутри тенанта.
type Role string

// Роли в порядке возрастания привилегий.
const (
	// RoleUser — стандартный пользователь: доступ только к своим документам.
	RoleUser Role = "user"
	// RoleAdmin — администратор компании: доступ ко всем документам тенанта.
	RoleAdmin Role = "admin"
)

// roleWeight — вес роли для сравнения.
var roleWeight = map[Role]int{
	RoleUser:  1,
	RoleAdmin: 2,
}

// ParseRole преобразует строку в роль. Регистр не учитывается.
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleUser:
		return RoleUser, true
	case RoleAdmin:
		return RoleAdmin, true
	}
	return "", false
}

// IsAdmin сообщает, является ли роль административной.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin
}

// EffectiveRole вычисляет итоговую роль = max(idpRole, roleOverride).
// Если обе роли пусты — возвращает RoleUser (минимальные права).
func EffectiveRole(idpRole Role, roleOverride *Role) Role {
	role := idpRole
	if roleOverride != nil {
		role = maxRole(idpRole, *roleOverride)
	}
	if role == "" {
		return RoleUser
	}
	return role
}

// maxRole возвращает роль с максимальными привилегиями из двух.
func maxRole(a, b Role) Role {
	if roleWeight[a] >= roleWeight[b] {
		return a
	}
	return b
}

// HighestRole возвращает максимальную роль из набора.
// Если набор пуст — возвращает пустую роль.
func HighestRole(roles []Role) Role {
	if len(roles) == 0 {
		return ""
	}
	highest := roles[0]
	for _, r := range roles[1:] {
		highest = maxRole(highest, r)
	}
	return highest
}

// MapGroupsToRole определяет роль пользователя по группам IdP.
// Если ни одна группа не совпала — возвращает пустую роль.
func MapGroupsToRole(groups []string, adminGroups, userGroups []string) Role {
	adminSet := toSet(adminGroups)
	userSet := toSet(userGroups)

	var roles []Role
	for _, g := range groups {
		if adminSet[g] {
			roles = append(roles, RoleAdmin)
		}
		if userSet[g] {
			roles = append(roles, RoleUser)
		}
	}

	return HighestRole(roles)
}

// toSet конвертирует срез строк в map для быстрого поиска.
func toSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, item := range items {
		s[item] = true
	}
	return s
}
