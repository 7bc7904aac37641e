// auth.go — JWT middleware аутентификации Custody Module.
// Проверяет подпись токена через JWKS провайдера идентификации, извлекает
// субъекта и компанию (company_id), маппит группы в роль и применяет
// role override из БД. Результат — model.Actor в контексте запроса.
package middleware

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/goartstore/custody-module/internal/api/errors"
	"github.com/bigkaa/goartstore/custody-module/internal/domain/model"
	"github.com/bigkaa/goartstore/custody-module/internal/domain/rbac"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

const (
	// ContextKeyClaims — извлечённые claims в контексте запроса.
	ContextKeyClaims contextKey = "jwt_claims"
)

// AuthClaims — обработанные claims токена.
type AuthClaims struct {
	// Subject — sub из JWT (ID пользователя в IdP).
	Subject string
	// TenantID — company_id из JWT.
	TenantID string
	// PreferredUsername — preferred_username из JWT.
	PreferredUsername string
	// Email — email из JWT.
	Email string
	// Roles — роли из realm_access.roles.
	Roles []string
	// Groups — группы из JWT.
	Groups []string
	// IdpRole — роль, вычисленная из групп или ролей IdP ("" если не определена).
	IdpRole rbac.Role
	// RoleOverride — локальное повышение роли из БД (может быть nil).
	RoleOverride *rbac.Role
	// EffectiveRole — итоговая роль = max(IdpRole, RoleOverride).
	EffectiveRole rbac.Role
}

// Actor возвращает субъекта операции для сервисного слоя.
func (c *AuthClaims) Actor() model.Actor {
	return model.Actor{
		ID:       c.Subject,
		TenantID: c.TenantID,
		Role:     c.EffectiveRole,
	}
}

// RoleOverrideProvider — источник role overrides.
// Реализуется service.RoleOverrideService.
type RoleOverrideProvider interface {
	// GetRoleOverride возвращает дополнительную роль пользователя в компании.
	// Если override не найден — nil, nil.
	GetRoleOverride(ctx context.Context, tenantID, userID string) (*rbac.Role, error)
}

// idpClaims — raw claims токена IdP.
type idpClaims struct {
	jwt.RegisteredClaims
	PreferredUsername string       `json:"preferred_username"`
	Email             string       `json:"email"`
	CompanyID         string       `json:"company_id"`
	RealmAccess       *realmAccess `json:"realm_access,omitempty"`
	Groups            []string     `json:"groups,omitempty"`
}

type realmAccess struct {
	Roles []string `json:"roles"`
}

// JWTAuth — middleware JWT-аутентификации через JWKS.
type JWTAuth struct {
	jwks         keyfunc.Keyfunc
	logger       *slog.Logger
	roleProvider RoleOverrideProvider
	adminGroups  []string
	userGroups   []string
	issuer       string
	jwtLeeway    time.Duration
}

// JWTOptions — параметры JWT middleware.
type JWTOptions struct {
	// JWKSURL — JWKS endpoint провайдера идентификации (CM_JWT_JWKS_URL)
	JWKSURL string
	// CACertPath — опциональный CA-сертификат для TLS к IdP
	CACertPath string
	// Issuer — ожидаемый iss; пусто — не проверяется
	Issuer string
	// AdminGroups, UserGroups — группы IdP для маппинга в роли
	AdminGroups []string
	UserGroups  []string
	// JWKSClientTimeout — таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// JWKSRefreshInterval — интервал фонового обновления ключей
	JWKSRefreshInterval time.Duration
	// Leeway — допустимое отклонение часов
	Leeway time.Duration
}

// NewJWTAuth создаёт JWT middleware с фоновым обновлением JWKS.
// roleProvider может быть nil.
func NewJWTAuth(opts JWTOptions, roleProvider RoleOverrideProvider, logger *slog.Logger) (*JWTAuth, error) {
	httpClient := &http.Client{Timeout: opts.JWKSClientTimeout}
	if opts.CACertPath != "" {
		var err error
		httpClient, err = httpClientWithCA(opts.CACertPath, opts.JWKSClientTimeout)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата %s: %w", opts.CACertPath, err)
		}
		logger.Info("CA-сертификат для JWKS добавлен в пул доверия",
			slog.String("ca_cert", opts.CACertPath),
		)
	}

	// NoErrorReturnFirstHTTPReq — стартуем, даже если IdP ещё недоступен.
	storage, err := jwkset.NewStorageFromHTTP(opts.JWKSURL, jwkset.HTTPClientStorageOptions{
		Client:                    httpClient,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           opts.JWKSRefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", opts.JWKSURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	auth := NewJWTAuthWithKeyfunc(k, opts.Issuer, roleProvider, opts.AdminGroups, opts.UserGroups, logger)
	auth.jwtLeeway = opts.Leeway
	return auth, nil
}

// httpClientWithCA создаёт HTTP-клиент с дополнительным CA-сертификатом.
func httpClientWithCA(caCertPath string, timeout time.Duration) (*http.Client, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, err
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("файл %s не содержит PEM-сертификатов", caCertPath)
	}

	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				RootCAs:    caCertPool,
				MinVersion: tls.VersionTLS12,
			},
		},
	}, nil
}

// NewJWTAuthWithKeyfunc создаёт JWT middleware с готовой keyfunc.
// Используется в тестах для подстановки mock JWKS.
func NewJWTAuthWithKeyfunc(
	kf keyfunc.Keyfunc,
	issuer string,
	roleProvider RoleOverrideProvider,
	adminGroups, userGroups []string,
	logger *slog.Logger,
) *JWTAuth {
	return &JWTAuth{
		jwks:         kf,
		logger:       logger.With(slog.String("component", "jwt_auth")),
		roleProvider: roleProvider,
		adminGroups:  adminGroups,
		userGroups:   userGroups,
		issuer:       issuer,
	}
}

// Middleware возвращает HTTP middleware JWT-аутентификации.
// Bearer token → проверка RS256 подписи и exp → sub и company_id →
// effective role → AuthClaims в контексте.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apierrors.Unauthorized(w, "Отсутствует заголовок Authorization")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				apierrors.Unauthorized(w, "Неверный формат Authorization: ожидается Bearer <token>")
				return
			}

			tokenString := strings.TrimSpace(parts[1])
			if tokenString == "" {
				apierrors.Unauthorized(w, "Пустой Bearer token")
				return
			}

			rawClaims := &idpClaims{}
			parserOpts := []jwt.ParserOption{
				jwt.WithValidMethods([]string{"RS256"}),
				jwt.WithExpirationRequired(),
				jwt.WithLeeway(j.jwtLeeway),
			}
			if j.issuer != "" {
				parserOpts = append(parserOpts, jwt.WithIssuer(j.issuer))
			}

			token, err := jwt.ParseWithClaims(tokenString, rawClaims, j.jwks.KeyfuncCtx(r.Context()), parserOpts...)
			if err != nil || !token.Valid {
				j.logger.Debug("JWT валидация не пройдена",
					slog.Any("error", err),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			subject, err := rawClaims.GetSubject()
			if err != nil || subject == "" {
				apierrors.Unauthorized(w, "Отсутствует sub в токене")
				return
			}
			if strings.TrimSpace(rawClaims.CompanyID) == "" {
				apierrors.Unauthorized(w, "Отсутствует company_id в токене")
				return
			}

			authClaims := j.buildAuthClaims(r.Context(), rawClaims)

			ctx := context.WithValue(r.Context(), ContextKeyClaims, authClaims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// buildAuthClaims маппит группы в роль и применяет role override.
func (j *JWTAuth) buildAuthClaims(ctx context.Context, raw *idpClaims) *AuthClaims {
	claims := &AuthClaims{
		Subject:           raw.Subject,
		TenantID:          strings.TrimSpace(raw.CompanyID),
		PreferredUsername: raw.PreferredUsername,
		Email:             raw.Email,
		Groups:            raw.Groups,
	}
	if raw.RealmAccess != nil {
		claims.Roles = raw.RealmAccess.Roles
	}

	claims.IdpRole = rbac.MapGroupsToRole(claims.Groups, j.adminGroups, j.userGroups)

	// Группы не дали роли — пробуем realm_access.roles
	if claims.IdpRole == "" {
		var mapped []rbac.Role
		for _, r := range claims.Roles {
			if role, ok := rbac.ParseRole(r); ok {
				mapped = append(mapped, role)
			}
		}
		claims.IdpRole = rbac.HighestRole(mapped)
	}

	if j.roleProvider != nil {
		override, err := j.roleProvider.GetRoleOverride(ctx, claims.TenantID, claims.Subject)
		if err != nil {
			j.logger.Warn("Ошибка получения role override",
				slog.String("tenant_id", claims.TenantID),
				slog.String("user_id", claims.Subject),
				slog.String("error", err.Error()),
			)
		} else {
			claims.RoleOverride = override
		}
	}

	claims.EffectiveRole = rbac.EffectiveRole(claims.IdpRole, claims.RoleOverride)
	return claims
}

// RequireRole возвращает middleware, требующий одну из указанных ролей.
// Должен использоваться ПОСЛЕ JWTAuth.Middleware().
func RequireRole(roles ...rbac.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				apierrors.Unauthorized(w, "Отсутствуют claims в контексте")
				return
			}

			for _, role := range roles {
				if claims.EffectiveRole == role {
					next.ServeHTTP(w, r)
					return
				}
			}

			names := make([]string, len(roles))
			for i, role := range roles {
				names[i] = string(role)
			}
			apierrors.Forbidden(w, fmt.Sprintf("Недостаточно прав: требуется роль %s", strings.Join(names, " или ")))
		})
	}
}

// --- Context helpers ---

// ClaimsFromContext извлекает AuthClaims из контекста запроса.
// Возвращает nil, если claims не найдены.
func ClaimsFromContext(ctx context.Context) *AuthClaims {
	claims, _ := ctx.Value(ContextKeyClaims).(*AuthClaims)
	return claims
}

// ActorFromContext возвращает субъекта запроса. ok=false, если запрос
// не прошёл JWT middleware.
func ActorFromContext(ctx context.Context) (model.Actor, bool) {
	claims := ClaimsFromContext(ctx)
	if claims == nil {
		return model.Actor{}, false
	}
	return claims.Actor(), true
}

// WithClaims кладёт claims в контекст. Используется в тестах обработчиков.
func WithClaims(ctx context.Context, claims *AuthClaims) context.Context {
	return context.WithValue(ctx, ContextKeyClaims, claims)
}

// --- ReadinessChecker для IdP ---

// IdPReadinessChecker — проверка доступности JWKS endpoint.
type IdPReadinessChecker struct {
	jwksURL string
	client  *http.Client
}

// NewIdPReadinessChecker создаёт checker доступности IdP.
func NewIdPReadinessChecker(jwksURL, caCertPath string, timeout time.Duration) (*IdPReadinessChecker, error) {
	client := &http.Client{Timeout: timeout}
	if caCertPath != "" {
		var err error
		client, err = httpClientWithCA(caCertPath, timeout)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA для readiness checker: %w", err)
		}
	}

	return &IdPReadinessChecker{
		jwksURL: jwksURL,
		client:  client,
	}, nil
}

// Статусы readiness.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusFail     = "fail"
)

// CheckReady проверяет, что JWKS endpoint отвечает и содержит ключи.
func (k *IdPReadinessChecker) CheckReady() (status, message string) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, k.jwksURL, http.NoBody)
	if err != nil {
		return StatusFail, "ошибка создания запроса: " + err.Error()
	}
	resp, err := k.client.Do(req) //nolint:gosec // URL из конфигурации
	if err != nil {
		return StatusFail, fmt.Sprintf("JWKS недоступен: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return StatusFail, fmt.Sprintf("JWKS вернул статус %d", resp.StatusCode)
	}

	var jwksResp struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jwksResp); err != nil {
		return StatusDegraded, fmt.Sprintf("JWKS: невалидный JSON: %v", err)
	}
	if len(jwksResp.Keys) == 0 {
		return StatusDegraded, "JWKS: нет ключей"
	}

	return StatusOK, fmt.Sprintf("JWKS доступен, ключей: %d", len(jwksResp.Keys))
}
