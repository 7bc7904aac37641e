// Пакет config — загрузка и валидация конфигурации Custody Module
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Custody Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера (диапазон 8020-8029)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Валидация запросов по встроенному OpenAPI-контракту
	OpenAPIValidation bool

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- Хранилище документов ---

	// Корневая директория blob'ов
	StorageDir string
	// Максимальный размер загружаемого файла в байтах
	MaxUploadSize int64
	// Срок хранения документов по умолчанию (дни)
	RetentionDays int

	// --- JWT ---

	// URL JWKS endpoint IdP
	JWTJWKSURL string
	// Ожидаемый issuer (пусто — не проверяется)
	JWTIssuer string
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Интервал обновления JWKS
	JWKSRefreshInterval time.Duration
	// Допустимое отклонение часов при проверке exp/nbf
	JWTLeeway time.Duration
	// Путь к CA-сертификату для TLS к IdP (опционально)
	CACertPath string

	// --- Маппинг групп → ролей ---

	RoleAdminGroups []string
	RoleUserGroups  []string

	// --- Ограничения и кэши ---

	// Допустимая частота загрузок на субъекта (в секунду)
	UploadRateLimit float64
	// Допустимый всплеск загрузок на субъекта
	UploadRateBurst int
	// Размер LRU-кэша настроек тенантов
	TenantCacheSize int
	// TTL записи кэша настроек тенантов
	TenantCacheTTL time.Duration

	// --- Фоновые задачи ---

	// Интервал сверки хэшей (0 — сверка отключена)
	IntegrityScanInterval time.Duration
	// Размер страницы сверки
	IntegrityScanPageSize int
	// Группа в метриках topologymetrics
	DephealthGroup string
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
//
//nolint:gocyclo,cyclop // линейный разбор переменных окружения
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	cfg.Port, err = getEnvInt("CM_PORT", 8020)
	if err != nil {
		return nil, fmt.Errorf("CM_PORT: %w", err)
	}
	if cfg.Port < 8020 || cfg.Port > 8029 {
		return nil, fmt.Errorf("CM_PORT: значение %d вне допустимого диапазона 8020-8029", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("CM_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("CM_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("CM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("CM_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.OpenAPIValidation, err = getEnvBool("CM_OPENAPI_VALIDATION", true)
	if err != nil {
		return nil, fmt.Errorf("CM_OPENAPI_VALIDATION: %w", err)
	}

	// --- PostgreSQL ---

	if cfg.DBHost, err = getEnvRequired("CM_DB_HOST"); err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("CM_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("CM_DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("CM_DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("CM_DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("CM_DB_PASSWORD"); err != nil {
		return nil, err
	}

	cfg.DBSSLMode = getEnvDefault("CM_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("CM_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- Хранилище документов ---

	cfg.StorageDir = getEnvDefault("CM_STORAGE_DIR", "./uploads")

	cfg.MaxUploadSize, err = getEnvInt64("CM_MAX_UPLOAD_SIZE", 50*1024*1024)
	if err != nil {
		return nil, fmt.Errorf("CM_MAX_UPLOAD_SIZE: %w", err)
	}
	if cfg.MaxUploadSize <= 0 {
		return nil, fmt.Errorf("CM_MAX_UPLOAD_SIZE: значение должно быть положительным")
	}

	cfg.RetentionDays, err = getEnvInt("CM_RETENTION_DAYS", 2555)
	if err != nil {
		return nil, fmt.Errorf("CM_RETENTION_DAYS: %w", err)
	}
	if cfg.RetentionDays < 1 || cfg.RetentionDays > 36500 {
		return nil, fmt.Errorf("CM_RETENTION_DAYS: значение %d вне допустимого диапазона 1-36500", cfg.RetentionDays)
	}

	// --- JWT ---

	if cfg.JWTJWKSURL, err = getEnvRequired("CM_JWT_JWKS_URL"); err != nil {
		return nil, err
	}
	if _, err := url.ParseRequestURI(cfg.JWTJWKSURL); err != nil {
		return nil, fmt.Errorf("CM_JWT_JWKS_URL: некорректный URL %q", cfg.JWTJWKSURL)
	}
	cfg.JWTIssuer = getEnvDefault("CM_JWT_ISSUER", "")

	cfg.JWKSClientTimeout, err = getEnvDuration("CM_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CM_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	cfg.JWKSRefreshInterval, err = getEnvDuration("CM_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("CM_JWKS_REFRESH_INTERVAL: %w", err)
	}
	cfg.JWTLeeway, err = getEnvDuration("CM_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CM_JWT_LEEWAY: %w", err)
	}
	cfg.CACertPath = getEnvDefault("CM_CA_CERT_PATH", "")

	// --- Маппинг групп → ролей ---

	cfg.RoleAdminGroups = parseCSV(getEnvDefault("CM_ROLE_ADMIN_GROUPS", "custody-admins"))
	cfg.RoleUserGroups = parseCSV(getEnvDefault("CM_ROLE_USER_GROUPS", "custody-users"))

	// --- Ограничения и кэши ---

	cfg.UploadRateLimit, err = getEnvFloat("CM_UPLOAD_RATE_LIMIT", 5)
	if err != nil {
		return nil, fmt.Errorf("CM_UPLOAD_RATE_LIMIT: %w", err)
	}
	if cfg.UploadRateLimit <= 0 {
		return nil, fmt.Errorf("CM_UPLOAD_RATE_LIMIT: значение должно быть положительным")
	}
	cfg.UploadRateBurst, err = getEnvInt("CM_UPLOAD_RATE_BURST", 10)
	if err != nil {
		return nil, fmt.Errorf("CM_UPLOAD_RATE_BURST: %w", err)
	}
	if cfg.UploadRateBurst < 1 {
		return nil, fmt.Errorf("CM_UPLOAD_RATE_BURST: значение должно быть не меньше 1")
	}

	cfg.TenantCacheSize, err = getEnvInt("CM_TENANT_CACHE_SIZE", 1024)
	if err != nil {
		return nil, fmt.Errorf("CM_TENANT_CACHE_SIZE: %w", err)
	}
	if cfg.TenantCacheSize < 1 {
		return nil, fmt.Errorf("CM_TENANT_CACHE_SIZE: значение должно быть не меньше 1")
	}
	cfg.TenantCacheTTL, err = getEnvDuration("CM_TENANT_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("CM_TENANT_CACHE_TTL: %w", err)
	}

	// --- Фоновые задачи ---

	cfg.IntegrityScanInterval, err = getEnvDuration("CM_INTEGRITY_SCAN_INTERVAL", 0)
	if err != nil {
		return nil, fmt.Errorf("CM_INTEGRITY_SCAN_INTERVAL: %w", err)
	}
	cfg.IntegrityScanPageSize, err = getEnvInt("CM_INTEGRITY_SCAN_PAGE_SIZE", 500)
	if err != nil {
		return nil, fmt.Errorf("CM_INTEGRITY_SCAN_PAGE_SIZE: %w", err)
	}
	if cfg.IntegrityScanPageSize < 1 || cfg.IntegrityScanPageSize > 10000 {
		return nil, fmt.Errorf("CM_INTEGRITY_SCAN_PAGE_SIZE: значение %d вне допустимого диапазона 1-10000", cfg.IntegrityScanPageSize)
	}

	cfg.DephealthGroup = getEnvDefault("CM_DEPHEALTH_GROUP", "goartstore")
	cfg.DephealthCheckInterval, err = getEnvDuration("CM_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("CM_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CM_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL для pgxpool.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL подключения к PostgreSQL (postgres://...).
// Используется для меток topologymetrics и как основа URL миграций.
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + c.DBSSLMode,
	}
	return u.String()
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 — как getEnvInt, для размеров в байтах.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

func getEnvFloat(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное число: %q", val)
	}
	return f, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное логическое значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	if d < 0 {
		return 0, fmt.Errorf("длительность не может быть отрицательной: %q", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
