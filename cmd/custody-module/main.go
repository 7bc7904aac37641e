// Точка входа Custody Module — хранение документов компаний с
// отпечатком SHA-256 и неизменяемым журналом аудита.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL,
// создаёт файловое хранилище, сервисный слой и API handlers,
// запускает фоновые задачи (сверка целостности, topologymetrics),
// HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/bigkaa/goartstore/custody-module/internal/api/handlers"
	"github.com/bigkaa/goartstore/custody-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/custody-module/internal/api/openapi"
	"github.com/bigkaa/goartstore/custody-module/internal/config"
	"github.com/bigkaa/goartstore/custody-module/internal/database"
	"github.com/bigkaa/goartstore/custody-module/internal/domain/retention"
	"github.com/bigkaa/goartstore/custody-module/internal/repository"
	"github.com/bigkaa/goartstore/custody-module/internal/server"
	"github.com/bigkaa/goartstore/custody-module/internal/service"
	"github.com/bigkaa/goartstore/custody-module/internal/storage/filestore"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Custody Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	if os.Getenv("CM_DEPHEALTH_GROUP") == "" {
		logger.Warn("CM_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 *sql.DB поверх пула для readiness и topologymetrics:
	// проверки идут через тот же пул и видят его исчерпание.
	sqlDB := database.OpenSQLDB(pool)
	defer sqlDB.Close()

	// 5. Файловое хранилище blob'ов
	blobs, err := filestore.New(cfg.StorageDir)
	if err != nil {
		logger.Error("Ошибка инициализации хранилища", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Хранилище документов готово", slog.String("dir", blobs.DataDir()))

	// 6. Repositories
	store := repository.NewStore(pool)
	settingsRepo := repository.NewTenantSettingsRepository(pool)
	roleRepo := repository.NewRoleOverrideRepository(pool)

	// 7. Services
	policy := retention.New(cfg.RetentionDays)
	settingsSvc := service.NewTenantSettingsService(
		settingsRepo, policy,
		cfg.TenantCacheSize, cfg.TenantCacheTTL,
		logger,
	)
	documentsSvc := service.NewDocumentService(store, blobs, policy, settingsSvc, logger)
	roleOverridesSvc := service.NewRoleOverrideService(roleRepo, logger)

	// 8. JWT middleware (role overrides подмешиваются из БД)
	jwtAuth, err := middleware.NewJWTAuth(middleware.JWTOptions{
		JWKSURL:             cfg.JWTJWKSURL,
		CACertPath:          cfg.CACertPath,
		Issuer:              cfg.JWTIssuer,
		AdminGroups:         cfg.RoleAdminGroups,
		UserGroups:          cfg.RoleUserGroups,
		JWKSClientTimeout:   cfg.JWKSClientTimeout,
		JWKSRefreshInterval: cfg.JWKSRefreshInterval,
		Leeway:              cfg.JWTLeeway,
	}, roleOverridesSvc, logger)
	if err != nil {
		logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWTJWKSURL),
		slog.String("issuer", cfg.JWTIssuer),
	)

	// 9. Readiness checkers (PostgreSQL + IdP)
	pgChecker := database.NewReadinessChecker(sqlDB)
	idpChecker, err := middleware.NewIdPReadinessChecker(cfg.JWTJWKSURL, cfg.CACertPath, cfg.JWKSClientTimeout)
	if err != nil {
		logger.Error("Ошибка создания IdP readiness checker", slog.String("error", err.Error()))
		os.Exit(1)
	}
	healthHandler := handlers.NewHealthHandler(pgChecker, idpChecker)

	// 10. API handler (реализует handlers.ServerInterface)
	apiHandler := handlers.NewAPIHandler(
		healthHandler,
		documentsSvc,
		settingsSvc,
		roleOverridesSvc,
		cfg.MaxUploadSize,
		logger,
	)

	// 11. Валидация запросов по OpenAPI контракту
	var validator *middleware.OpenAPIValidator
	if cfg.OpenAPIValidation {
		doc, loadErr := openapi.Load()
		if loadErr != nil {
			logger.Error("Ошибка загрузки OpenAPI контракта", slog.String("error", loadErr.Error()))
			os.Exit(1)
		}
		validator, err = middleware.NewOpenAPIValidator(doc, logger)
		if err != nil {
			logger.Error("Ошибка создания OpenAPI валидатора", slog.String("error", err.Error()))
			os.Exit(1)
		}
	} else {
		logger.Info("Валидация OpenAPI отключена (CM_OPENAPI_VALIDATION=false)")
	}

	// 12. Фоновая сверка целостности (CM_INTEGRITY_SCAN_INTERVAL > 0)
	var scanSvc *service.IntegrityScanService
	if cfg.IntegrityScanInterval > 0 {
		scanSvc = service.NewIntegrityScanService(
			store.Documents(), blobs,
			service.NewLogReporter(logger),
			cfg.IntegrityScanInterval, cfg.IntegrityScanPageSize,
			logger,
		)
		scanSvc.Start(ctx)
	} else {
		logger.Info("Сверка целостности отключена (CM_INTEGRITY_SCAN_INTERVAL=0)")
	}

	// 13. topologymetrics — мониторинг зависимостей (PostgreSQL + IdP JWKS)
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthOptions{
		ServiceID:     "custody-module",
		Group:         cfg.DephealthGroup,
		DB:            sqlDB,
		PostgresURL:   cfg.DatabaseURL(),
		JWKSURL:       cfg.JWTJWKSURL,
		CheckInterval: cfg.DephealthCheckInterval,
	}, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics",
			slog.String("error", startErr.Error()),
		)
		dephealthSvc = nil
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 14. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler, server.Options{
		JWTAuth:       jwtAuth,
		Validator:     validator,
		UploadLimiter: middleware.NewRateLimiter(cfg.UploadRateLimit, cfg.UploadRateBurst),
	})
	runErr := srv.Run()

	// 15. Graceful shutdown фоновых задач
	logger.Info("Останавливаем фоновые задачи...")
	if scanSvc != nil {
		scanSvc.Stop()
	}
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	if runErr != nil {
		logger.Error("Ошибка сервера", slog.String("error", runErr.Error()))
		os.Exit(1)
	}
	logger.Info("Custody Module остановлен")
}
