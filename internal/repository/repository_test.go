package repository

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/goartstore/custody-module/internal/config"
	"github.com/bigkaa/goartstore/custody-module/internal/database"
	"github.com/bigkaa/goartstore/custody-module/internal/domain/integrity"
	"github.com/bigkaa/goartstore/custody-module/internal/domain/model"
	"github.com/bigkaa/goartstore/custody-module/internal/domain/rbac"
)

// setupTestDB запускает PostgreSQL контейнер, применяет миграции.
// Возвращает pgxpool.Pool, закрываемый в t.Cleanup.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("custody_test"),
		postgres.WithUsername("custody"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	t.Setenv("CM_DB_HOST", host)
	t.Setenv("CM_DB_PORT", port.Port())
	t.Setenv("CM_DB_NAME", "custody_test")
	t.Setenv("CM_DB_USER", "custody")
	t.Setenv("CM_DB_PASSWORD", "test-password")
	t.Setenv("CM_DB_SSL_MODE", "disable")
	t.Setenv("CM_JWT_JWKS_URL", "http://localhost:8080/certs")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Ошибка миграций: %v", err)
	}

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	return pool
}

// newDocument собирает документ с заполненными обязательными полями.
func newDocument(tenantID, uploadedBy string, uploadedAt time.Time) *model.Document {
	id := uuid.New().String()
	return &model.Document{
		ID:                  id,
		TenantID:            tenantID,
		OriginalFileName:    "contract.pdf",
		CurrentFileName:     "contract.pdf",
		FileType:            model.FileTypePDF,
		FileSize:            3,
		StoragePath:         tenantID + "/" + id + ".pdf",
		InitialHash:         integrity.FingerprintBytes([]byte(id)),
		HashAlgorithm:       integrity.Algorithm,
		HashStatus:          model.HashStatusValid,
		UploadedByUser:      uploadedBy,
		UploadedAt:          uploadedAt,
		CreatedByUser:       uploadedBy,
		RetentionExpiryDate: uploadedAt.AddDate(0, 0, 2555),
	}
}

func strPtr(s string) *string { return &s }

// --- Тесты DocumentRepository ---

func TestDocumentCRUD(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewDocumentRepository(pool)

	now := time.Now().UTC().Truncate(time.Microsecond)
	d1 := newDocument("company-1", "u1", now.Add(-time.Hour))
	d2 := newDocument("company-1", "u2", now)
	foreign := newDocument("company-2", "u1", now)

	for _, d := range []*model.Document{d1, d2, foreign} {
		if err := repo.Create(ctx, d); err != nil {
			t.Fatalf("Create() ошибка: %v", err)
		}
	}
	if d1.CreatedAt.IsZero() {
		t.Error("CreatedAt не установлен")
	}

	// Повторная вставка — конфликт
	if err := repo.Create(ctx, d1); !errors.Is(err, ErrConflict) {
		t.Errorf("повторный Create(): хотели ErrConflict, получили %v", err)
	}

	got, err := repo.Get(ctx, "company-1", d1.ID)
	if err != nil {
		t.Fatalf("Get() ошибка: %v", err)
	}
	if got.InitialHash != d1.InitialHash || got.FileType != model.FileTypePDF {
		t.Errorf("Get() = %+v", got)
	}
	if got.AuditStatus != model.AuditStatusCompliant {
		t.Errorf("AuditStatus = %q, хотели COMPLIANT", got.AuditStatus)
	}

	// Чужой тенант не видит документ
	if _, err := repo.Get(ctx, "company-2", d1.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() чужого тенанта: хотели ErrNotFound, получили %v", err)
	}

	// Сортировка: новые первыми
	list, err := repo.List(ctx, "company-1", DocumentListFilters{}, 10, 0)
	if err != nil {
		t.Fatalf("List() ошибка: %v", err)
	}
	if len(list) != 2 || list[0].ID != d2.ID || list[1].ID != d1.ID {
		t.Errorf("List() вернул неверный порядок или количество: %d", len(list))
	}

	list, err = repo.List(ctx, "company-1", DocumentListFilters{UploadedBy: strPtr("u1")}, 10, 0)
	if err != nil {
		t.Fatalf("List(uploadedBy) ошибка: %v", err)
	}
	if len(list) != 1 || list[0].ID != d1.ID {
		t.Errorf("List(uploadedBy=u1) вернул %d записей, хотели 1", len(list))
	}

	// MarkSent
	if err := repo.MarkSent(ctx, d1.ID, model.ChannelEmail, d1.InitialHash); err != nil {
		t.Fatalf("MarkSent() ошибка: %v", err)
	}
	got, _ = repo.Get(ctx, "company-1", d1.ID)
	if !got.SentExternally || got.SentVia == nil || *got.SentVia != model.ChannelEmail {
		t.Errorf("после MarkSent: SentExternally=%v SentVia=%v", got.SentExternally, got.SentVia)
	}
	if got.SentVersionHash == nil || *got.SentVersionHash != d1.InitialHash {
		t.Error("SentVersionHash не совпадает с хэшем документа")
	}

	// MarkDeleted и повтор
	if err := repo.MarkDeleted(ctx, d1.ID, now); err != nil {
		t.Fatalf("MarkDeleted() ошибка: %v", err)
	}
	if err := repo.MarkDeleted(ctx, d1.ID, now); !errors.Is(err, ErrNotFound) {
		t.Errorf("повторный MarkDeleted(): хотели ErrNotFound, получили %v", err)
	}

	count, err := repo.Count(ctx, "company-1", DocumentListFilters{})
	if err != nil {
		t.Fatalf("Count() ошибка: %v", err)
	}
	if count != 1 {
		t.Errorf("Count() = %d, хотели 1 (удалённый исключён)", count)
	}
	count, _ = repo.Count(ctx, "company-1", DocumentListFilters{IncludeDeleted: true})
	if count != 2 {
		t.Errorf("Count(includeDeleted) = %d, хотели 2", count)
	}

	// Удалённый документ читается
	got, err = repo.Get(ctx, "company-1", d1.ID)
	if err != nil {
		t.Fatalf("Get() удалённого ошибка: %v", err)
	}
	if !got.LogicalDeleted || got.LogicalDeletedAt == nil {
		t.Error("LogicalDeleted не установлен")
	}

	// Legal hold
	if err := repo.SetLegalHold(ctx, d2.ID, true); err != nil {
		t.Fatalf("SetLegalHold() ошибка: %v", err)
	}
	got, _ = repo.Get(ctx, "company-1", d2.ID)
	if !got.LegalHold {
		t.Error("LegalHold не установлен")
	}

	// ListActive видит всех тенантов, но не удалённые
	active, err := repo.ListActive(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListActive() ошибка: %v", err)
	}
	if len(active) != 2 {
		t.Errorf("ListActive() вернул %d, хотели 2", len(active))
	}
	rest, err := repo.ListActive(ctx, active[0].ID, 10)
	if err != nil {
		t.Fatalf("ListActive(after) ошибка: %v", err)
	}
	if len(rest) != 1 || rest[0].ID != active[1].ID {
		t.Errorf("ListActive(after) вернул неверную страницу")
	}
}

func TestDocument_ImmutableHash(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewDocumentRepository(pool)

	d := newDocument("company-1", "u1", time.Now().UTC())
	if err := repo.Create(ctx, d); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}

	_, err := pool.Exec(ctx, `UPDATE documents SET initial_hash = 'x' WHERE id = $1`, d.ID)
	if err == nil {
		t.Error("изменение initial_hash должно быть запрещено")
	}
}

// --- Тесты AuditEventRepository ---

func TestAuditEvents(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	docs := NewDocumentRepository(pool)
	audit := NewAuditEventRepository(pool)

	d := newDocument("company-1", "u1", time.Now().UTC())
	if err := docs.Create(ctx, d); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}

	h := d.InitialHash
	ch := model.ChannelViber
	events := []*model.AuditEvent{
		{DocumentID: d.ID, Action: model.AuditActionUpload, PerformedBy: "u1", NewHash: &h, Notes: "uploaded: contract.pdf"},
		{DocumentID: d.ID, Action: model.AuditActionSend, PerformedBy: "u1", PreviousHash: &h, NewHash: &h, Channel: &ch},
		{DocumentID: d.ID, Action: model.AuditActionDelete, PerformedBy: "u1", PreviousHash: &h},
	}
	for _, e := range events {
		if err := audit.Append(ctx, e); err != nil {
			t.Fatalf("Append(%s) ошибка: %v", e.Action, err)
		}
		if e.ID == "" || e.PerformedAt.IsZero() {
			t.Errorf("Append(%s) не заполнил ID/PerformedAt", e.Action)
		}
	}

	trail, err := audit.ListByDocument(ctx, d.ID)
	if err != nil {
		t.Fatalf("ListByDocument() ошибка: %v", err)
	}
	if len(trail) != 3 {
		t.Fatalf("ListByDocument() вернул %d, хотели 3", len(trail))
	}
	for i, want := range []model.AuditAction{model.AuditActionUpload, model.AuditActionSend, model.AuditActionDelete} {
		if trail[i].Action != want {
			t.Errorf("trail[%d].Action = %s, хотели %s", i, trail[i].Action, want)
		}
	}
	if trail[0].PreviousHash != nil || trail[2].NewHash != nil {
		t.Error("nullable хэши не сохранились как NULL")
	}
	if trail[1].Channel == nil || *trail[1].Channel != model.ChannelViber {
		t.Error("канал SEND не сохранился")
	}

	count, err := audit.CountByDocument(ctx, d.ID)
	if err != nil || count != 3 {
		t.Errorf("CountByDocument() = %d, %v; хотели 3", count, err)
	}

	// Ссылка на несуществующий документ
	err = audit.Append(ctx, &model.AuditEvent{DocumentID: uuid.New().String(), Action: model.AuditActionUpload, PerformedBy: "u1"})
	if !errors.Is(err, ErrDanglingReference) {
		t.Errorf("Append() без документа: хотели ErrDanglingReference, получили %v", err)
	}

	// Журнал только дополняется
	if _, err := pool.Exec(ctx, `DELETE FROM audit_events WHERE document_id = $1`, d.ID); err == nil {
		t.Error("удаление событий аудита должно быть запрещено")
	}
}

// --- Тесты Store ---

func TestStore_InTxRollback(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	store := NewStore(pool)

	d := newDocument("company-1", "u1", time.Now().UTC())
	boom := errors.New("boom")

	err := store.InTx(ctx, func(q Queries) error {
		if err := q.Documents.Create(ctx, d); err != nil {
			return err
		}
		h := d.InitialHash
		if err := q.AuditEvents.Append(ctx, &model.AuditEvent{
			DocumentID: d.ID, Action: model.AuditActionUpload, PerformedBy: "u1", NewHash: &h,
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx() вернул %v, хотели boom", err)
	}

	if _, err := store.Documents().Get(ctx, "company-1", d.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("после отката документ не должен существовать: %v", err)
	}
	count, _ := store.AuditEvents().CountByDocument(ctx, d.ID)
	if count != 0 {
		t.Errorf("после отката событий = %d, хотели 0", count)
	}
}

// --- Тесты TenantSettingsRepository ---

func TestTenantSettings(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewTenantSettingsRepository(pool)

	if _, err := repo.Get(ctx, "company-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() без настроек: хотели ErrNotFound, получили %v", err)
	}

	s, err := repo.SetRetentionDays(ctx, "company-1", 365, "admin")
	if err != nil {
		t.Fatalf("SetRetentionDays() ошибка: %v", err)
	}
	if s.RetentionDays == nil || *s.RetentionDays != 365 {
		t.Errorf("RetentionDays = %v, хотели 365", s.RetentionDays)
	}

	if _, err := repo.SetRetentionDays(ctx, "company-1", 730, "admin2"); err != nil {
		t.Fatalf("повторный SetRetentionDays() ошибка: %v", err)
	}
	got, err := repo.Get(ctx, "company-1")
	if err != nil {
		t.Fatalf("Get() ошибка: %v", err)
	}
	if *got.RetentionDays != 730 || got.UpdatedBy != "admin2" {
		t.Errorf("после обновления: days=%d, updatedBy=%q", *got.RetentionDays, got.UpdatedBy)
	}
}

// --- Тесты RoleOverrideRepository ---

func TestRoleOverrideCRUD(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewRoleOverrideRepository(pool)

	ro := &model.RoleOverride{
		TenantID:       "company-1",
		UserID:         "u1",
		AdditionalRole: rbac.RoleAdmin,
		CreatedBy:      "root",
	}
	if err := repo.Upsert(ctx, ro); err != nil {
		t.Fatalf("Upsert() ошибка: %v", err)
	}
	if ro.CreatedAt.IsZero() {
		t.Error("CreatedAt не установлен")
	}

	got, err := repo.Get(ctx, "company-1", "u1")
	if err != nil {
		t.Fatalf("Get() ошибка: %v", err)
	}
	if got.AdditionalRole != rbac.RoleAdmin {
		t.Errorf("AdditionalRole = %q, хотели admin", got.AdditionalRole)
	}

	// Override другого тенанта не виден
	if _, err := repo.Get(ctx, "company-2", "u1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() чужого тенанта: хотели ErrNotFound, получили %v", err)
	}

	list, err := repo.ListByTenant(ctx, "company-1")
	if err != nil || len(list) != 1 {
		t.Errorf("ListByTenant() = %d, %v; хотели 1", len(list), err)
	}

	if err := repo.Delete(ctx, "company-1", "u1"); err != nil {
		t.Fatalf("Delete() ошибка: %v", err)
	}
	if err := repo.Delete(ctx, "company-1", "u1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("повторный Delete(): хотели ErrNotFound, получили %v", err)
	}
}
