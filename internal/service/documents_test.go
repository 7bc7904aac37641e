package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/custody-module/internal/domain/integrity"
	"github.com/bigkaa/goartstore/custody-module/internal/domain/model"
	"github.com/bigkaa/goartstore/custody-module/internal/domain/rbac"
	"github.com/bigkaa/goartstore/custody-module/internal/domain/retention"
	"github.com/bigkaa/goartstore/custody-module/internal/repository/memory"
	"github.com/bigkaa/goartstore/custody-module/internal/storage/filestore"
)

const (
	tenantA = "company-a"
	tenantB = "company-b"
)

var (
	userU1   = model.Actor{ID: "u1", TenantID: tenantA, Role: rbac.RoleUser}
	userU2   = model.Actor{ID: "u2", TenantID: tenantA, Role: rbac.RoleUser}
	adminA   = model.Actor{ID: "admin-a", TenantID: tenantA, Role: rbac.RoleAdmin}
	adminB   = model.Actor{ID: "admin-b", TenantID: tenantB, Role: rbac.RoleAdmin}
	outsider = model.Actor{ID: "u1", TenantID: tenantB, Role: rbac.RoleUser}
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type docEnv struct {
	svc      *DocumentService
	store    *memory.Store
	blobs    *filestore.FileStore
	settings *TenantSettingsService
}

func newDocEnv(t *testing.T) *docEnv {
	t.Helper()

	blobs, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}
	store := memory.New()
	policy := retention.New(365)
	settings := NewTenantSettingsService(memory.NewTenantSettings(), policy, 16, time.Minute, testLogger())

	return &docEnv{
		svc:      NewDocumentService(store, blobs, policy, settings, testLogger()),
		store:    store,
		blobs:    blobs,
		settings: settings,
	}
}

func (e *docEnv) upload(t *testing.T, actor model.Actor, name string, content []byte) *model.Document {
	t.Helper()
	doc, err := e.svc.Upload(context.Background(), actor, UploadInput{
		FileName:    name,
		ContentType: model.MimePDF,
		Content:     bytes.NewReader(content),
	})
	if err != nil {
		t.Fatalf("ошибка загрузки %s: %v", name, err)
	}
	return doc
}

func (e *docEnv) trail(t *testing.T, actor model.Actor, id string) []*model.AuditEvent {
	t.Helper()
	events, err := e.svc.AuditTrail(context.Background(), actor, id)
	if err != nil {
		t.Fatalf("ошибка чтения журнала: %v", err)
	}
	return events
}

func actions(events []*model.AuditEvent) []model.AuditAction {
	result := make([]model.AuditAction, len(events))
	for i, e := range events {
		result[i] = e.Action
	}
	return result
}

func assertActions(t *testing.T, events []*model.AuditEvent, want ...model.AuditAction) {
	t.Helper()
	got := actions(events)
	if len(got) != len(want) {
		t.Fatalf("журнал: ожидалось %v, получено %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("журнал: ожидалось %v, получено %v", want, got)
		}
	}
}

func pdfBytes(n int) []byte {
	b := bytes.Repeat([]byte{'x'}, n)
	copy(b, "%PDF-1.7")
	return b
}

// TestLifecycle_Scenario — загрузка U1, отправка, отказ в удалении U2,
// удаление U1 с previousHash = initialHash.
func TestLifecycle_Scenario(t *testing.T) {
	env := newDocEnv(t)
	ctx := context.Background()
	content := pdfBytes(1024)

	doc := env.upload(t, userU1, "contract.pdf", content)
	if doc.ID == "" {
		t.Fatal("пустой ID документа")
	}
	if doc.HashStatus != model.HashStatusValid {
		t.Errorf("hashStatus: ожидалось VALID, получено %s", doc.HashStatus)
	}
	if want := integrity.FingerprintBytes(content); doc.InitialHash != want {
		t.Errorf("initialHash: ожидалось %s, получено %s", want, doc.InitialHash)
	}
	if doc.FileSize != 1024 || doc.FileType != model.FileTypePDF {
		t.Errorf("ожидался PDF на 1024 байта, получено %s/%d", doc.FileType, doc.FileSize)
	}
	assertActions(t, env.trail(t, userU1, doc.ID), model.AuditActionUpload)

	res, err := env.svc.Send(ctx, userU1, doc.ID, model.ChannelEmail, "x@example.com")
	if err != nil {
		t.Fatalf("ошибка отправки: %v", err)
	}
	if !res.Success || res.AuditID == "" {
		t.Errorf("ожидался успешный результат с AuditID, получено %+v", res)
	}
	got, err := env.svc.Get(ctx, userU1, doc.ID)
	if err != nil {
		t.Fatalf("ошибка получения: %v", err)
	}
	if !got.SentExternally || got.SentVia == nil || *got.SentVia != model.ChannelEmail {
		t.Errorf("ожидалось sentExternally=true, sentVia=EMAIL, получено %v/%v", got.SentExternally, got.SentVia)
	}
	assertActions(t, env.trail(t, userU1, doc.ID), model.AuditActionUpload, model.AuditActionSend)

	if err := env.svc.Delete(ctx, userU2, doc.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("удаление U2: ожидалась ErrForbidden, получено %v", err)
	}
	assertActions(t, env.trail(t, userU1, doc.ID), model.AuditActionUpload, model.AuditActionSend)

	if err := env.svc.Delete(ctx, userU1, doc.ID); err != nil {
		t.Fatalf("удаление U1: %v", err)
	}
	got, _ = env.svc.Get(ctx, userU1, doc.ID)
	if !got.LogicalDeleted || got.LogicalDeletedAt == nil {
		t.Error("ожидалось logicalDeleted=true с датой удаления")
	}

	events := env.trail(t, userU1, doc.ID)
	assertActions(t, events, model.AuditActionUpload, model.AuditActionSend, model.AuditActionDelete)
	del := events[2]
	if del.PreviousHash == nil || *del.PreviousHash != doc.InitialHash {
		t.Errorf("DELETE previousHash: ожидалось %s, получено %v", doc.InitialHash, del.PreviousHash)
	}
}

func TestUpload_AuditEvent(t *testing.T) {
	env := newDocEnv(t)
	doc := env.upload(t, userU1, "a.pdf", pdfBytes(64))

	events := env.trail(t, userU1, doc.ID)
	assertActions(t, events, model.AuditActionUpload)

	e := events[0]
	if e.PreviousHash != nil {
		t.Error("UPLOAD: previousHash должен отсутствовать")
	}
	if e.NewHash == nil || *e.NewHash != doc.InitialHash {
		t.Errorf("UPLOAD: newHash должен быть равен initialHash")
	}
	if e.PerformedBy != userU1.ID {
		t.Errorf("performedBy: ожидалось %s, получено %s", userU1.ID, e.PerformedBy)
	}
	if e.Notes != "uploaded: a.pdf" {
		t.Errorf("notes: получено %q", e.Notes)
	}
}

// TestUpload_RoundTrip — blob читается обратно без изменений.
func TestUpload_RoundTrip(t *testing.T) {
	env := newDocEnv(t)
	content := pdfBytes(4096)
	doc := env.upload(t, userU1, "round.pdf", content)

	_, f, err := env.svc.Download(context.Background(), userU1, doc.ID)
	if err != nil {
		t.Fatalf("ошибка скачивания: %v", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}
	if len(data) != len(content) {
		t.Errorf("размер: ожидалось %d, получено %d", len(content), len(data))
	}
	if integrity.FingerprintBytes(data) != doc.InitialHash {
		t.Error("отпечаток прочитанных данных не совпадает с initialHash")
	}
}

func TestUpload_ContentTypeFromMime(t *testing.T) {
	env := newDocEnv(t)

	doc, err := env.svc.Upload(context.Background(), userU1, UploadInput{
		FileName:    "report",
		ContentType: model.MimeDOCX,
		Content:     bytes.NewReader([]byte("PK docx")),
	})
	if err != nil {
		t.Fatalf("ошибка загрузки: %v", err)
	}
	if doc.FileType != model.FileTypeDOCX {
		t.Errorf("fileType: ожидалось DOCX, получено %s", doc.FileType)
	}
	if filepath.Ext(doc.StoragePath) != ".docx" {
		t.Errorf("storagePath: ожидалось расширение .docx, получено %s", doc.StoragePath)
	}
}

// TestUpload_InvalidContentType — отказ до записи на диск.
func TestUpload_InvalidContentType(t *testing.T) {
	env := newDocEnv(t)

	_, err := env.svc.Upload(context.Background(), userU1, UploadInput{
		FileName:    "virus.exe",
		ContentType: "application/octet-stream",
		Content:     bytes.NewReader([]byte("MZ")),
	})
	if !errors.Is(err, ErrInvalidContentType) {
		t.Fatalf("ожидалась ErrInvalidContentType, получено %v", err)
	}

	entries, _ := os.ReadDir(env.blobs.DataDir())
	if len(entries) != 0 {
		t.Errorf("ожидалась пустая директория хранения, получено %d записей", len(entries))
	}
	docs, total, err := env.svc.List(context.Background(), adminA, ListInput{})
	if err != nil || total != 0 || len(docs) != 0 {
		t.Errorf("ожидался пустой список, получено %d/%d (%v)", len(docs), total, err)
	}
}

// TestUpload_DisguisedContentType — допустимое расширение не спасает
// файл с MIME вне списка: ни blob'а, ни документа, ни событий.
func TestUpload_DisguisedContentType(t *testing.T) {
	env := newDocEnv(t)
	ctx := context.Background()

	for _, mt := range []string{"application/x-msdownload", "application/octet-stream", "text/html; charset=utf-8"} {
		_, err := env.svc.Upload(ctx, userU1, UploadInput{
			FileName:    "payload.pdf",
			ContentType: mt,
			Content:     bytes.NewReader([]byte("MZ")),
		})
		if !errors.Is(err, ErrInvalidContentType) {
			t.Errorf("%s: ожидалась ErrInvalidContentType, получено %v", mt, err)
		}
	}

	entries, _ := os.ReadDir(env.blobs.DataDir())
	if len(entries) != 0 {
		t.Errorf("ожидалась пустая директория хранения, получено %d записей", len(entries))
	}
	_, total, err := env.svc.List(ctx, adminA, ListInput{IncludeDeleted: true})
	if err != nil || total != 0 {
		t.Errorf("ожидалось 0 документов, получено %d (%v)", total, err)
	}
}

func TestUpload_RejectsAnonymousActor(t *testing.T) {
	env := newDocEnv(t)

	_, err := env.svc.Upload(context.Background(), model.Actor{TenantID: tenantA, Role: rbac.RoleUser}, UploadInput{
		FileName: "a.pdf",
		Content:  bytes.NewReader([]byte("x")),
	})
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("ожидалась ErrForbidden, получено %v", err)
	}
}

// TestUpload_AppendFailureRollsBack — сбой записи журнала откатывает
// документ; blob остаётся сиротой.
func TestUpload_AppendFailureRollsBack(t *testing.T) {
	env := newDocEnv(t)
	env.store.FailNextAppend(errors.New("диск переполнен"))

	_, err := env.svc.Upload(context.Background(), userU1, UploadInput{
		FileName: "a.pdf",
		Content:  bytes.NewReader(pdfBytes(10)),
	})
	if !errors.Is(err, ErrStorageFailure) {
		t.Fatalf("ожидалась ErrStorageFailure, получено %v", err)
	}

	_, total, err := env.svc.List(context.Background(), adminA, ListInput{IncludeDeleted: true})
	if err != nil {
		t.Fatalf("ошибка списка: %v", err)
	}
	if total != 0 {
		t.Errorf("документ не должен быть зарегистрирован, total=%d", total)
	}
}

func TestUpload_RetentionFromTenantSettings(t *testing.T) {
	env := newDocEnv(t)
	ctx := context.Background()

	doc := env.upload(t, userU1, "default.pdf", pdfBytes(8))
	if want := doc.UploadedAt.AddDate(0, 0, 365); !doc.RetentionExpiryDate.Equal(want) {
		t.Errorf("срок по умолчанию: ожидалось %v, получено %v", want, doc.RetentionExpiryDate)
	}

	if _, err := env.settings.SetRetentionDays(ctx, adminA, 30); err != nil {
		t.Fatalf("ошибка изменения срока: %v", err)
	}
	doc = env.upload(t, userU1, "short.pdf", pdfBytes(8))
	if want := doc.UploadedAt.AddDate(0, 0, 30); !doc.RetentionExpiryDate.Equal(want) {
		t.Errorf("срок компании: ожидалось %v, получено %v", want, doc.RetentionExpiryDate)
	}

	// Другая компания по-прежнему получает срок по умолчанию
	other, err := env.svc.Upload(ctx, adminB, UploadInput{FileName: "b.pdf", Content: bytes.NewReader(pdfBytes(8))})
	if err != nil {
		t.Fatalf("ошибка загрузки: %v", err)
	}
	if want := other.UploadedAt.AddDate(0, 0, 365); !other.RetentionExpiryDate.Equal(want) {
		t.Errorf("срок тенанта B: ожидалось %v, получено %v", want, other.RetentionExpiryDate)
	}
}

func TestDelete_Repeat(t *testing.T) {
	env := newDocEnv(t)
	ctx := context.Background()
	doc := env.upload(t, userU1, "a.pdf", pdfBytes(8))

	if err := env.svc.Delete(ctx, userU1, doc.ID); err != nil {
		t.Fatalf("первое удаление: %v", err)
	}
	if err := env.svc.Delete(ctx, userU1, doc.ID); !errors.Is(err, ErrDocumentDeleted) {
		t.Fatalf("повторное удаление: ожидалась ErrDocumentDeleted, получено %v", err)
	}
	assertActions(t, env.trail(t, userU1, doc.ID), model.AuditActionUpload, model.AuditActionDelete)

	// Отправка удалённого документа запрещена
	if _, err := env.svc.Send(ctx, userU1, doc.ID, model.ChannelViber, "+380000000000"); !errors.Is(err, ErrDocumentDeleted) {
		t.Errorf("отправка удалённого: ожидалась ErrDocumentDeleted, получено %v", err)
	}
}

func TestDelete_LegalHold(t *testing.T) {
	env := newDocEnv(t)
	ctx := context.Background()
	doc := env.upload(t, userU1, "held.pdf", pdfBytes(8))

	held, err := env.svc.SetLegalHold(ctx, adminA, doc.ID, true)
	if err != nil {
		t.Fatalf("ошибка установки legal hold: %v", err)
	}
	if !held.LegalHold {
		t.Error("ожидался legalHold=true")
	}

	for _, actor := range []model.Actor{userU1, adminA} {
		if err := env.svc.Delete(ctx, actor, doc.ID); !errors.Is(err, ErrLegalHoldActive) {
			t.Errorf("удаление %s: ожидалась ErrLegalHoldActive, получено %v", actor.ID, err)
		}
	}
	assertActions(t, env.trail(t, adminA, doc.ID), model.AuditActionUpload, model.AuditActionLegalHoldSet)

	if _, err := env.svc.SetLegalHold(ctx, adminA, doc.ID, false); err != nil {
		t.Fatalf("ошибка снятия legal hold: %v", err)
	}
	if err := env.svc.Delete(ctx, userU1, doc.ID); err != nil {
		t.Fatalf("удаление после снятия legal hold: %v", err)
	}
	assertActions(t, env.trail(t, adminA, doc.ID),
		model.AuditActionUpload, model.AuditActionLegalHoldSet,
		model.AuditActionLegalHoldReleased, model.AuditActionDelete)
}

func TestSetLegalHold_Rules(t *testing.T) {
	env := newDocEnv(t)
	ctx := context.Background()
	doc := env.upload(t, userU1, "a.pdf", pdfBytes(8))

	if _, err := env.svc.SetLegalHold(ctx, userU1, doc.ID, true); !errors.Is(err, ErrForbidden) {
		t.Errorf("пользователь: ожидалась ErrForbidden, получено %v", err)
	}
	if _, err := env.svc.SetLegalHold(ctx, adminB, doc.ID, true); !errors.Is(err, ErrNotFound) {
		t.Errorf("чужой тенант: ожидалась ErrNotFound, получено %v", err)
	}

	// Повтор текущего состояния не пишет событие
	if _, err := env.svc.SetLegalHold(ctx, adminA, doc.ID, false); err != nil {
		t.Fatalf("снятие без удержания: %v", err)
	}
	assertActions(t, env.trail(t, adminA, doc.ID), model.AuditActionUpload)
}

// TestForeignUser_Forbidden — чужой документ своего тенанта.
func TestForeignUser_Forbidden(t *testing.T) {
	env := newDocEnv(t)
	ctx := context.Background()
	doc := env.upload(t, userU1, "a.pdf", pdfBytes(8))

	ops := map[string]func() error{
		"get": func() error {
			_, err := env.svc.Get(ctx, userU2, doc.ID)
			return err
		},
		"send": func() error {
			_, err := env.svc.Send(ctx, userU2, doc.ID, model.ChannelEmail, "x@example.com")
			return err
		},
		"delete": func() error {
			return env.svc.Delete(ctx, userU2, doc.ID)
		},
		"auditTrail": func() error {
			_, err := env.svc.AuditTrail(ctx, userU2, doc.ID)
			return err
		},
		"download": func() error {
			_, _, err := env.svc.Download(ctx, userU2, doc.ID)
			return err
		},
	}
	for name, op := range ops {
		if err := op(); !errors.Is(err, ErrForbidden) {
			t.Errorf("%s: ожидалась ErrForbidden, получено %v", name, err)
		}
	}
	assertActions(t, env.trail(t, userU1, doc.ID), model.AuditActionUpload)

	// Администратор тенанта видит документ
	if _, err := env.svc.Get(ctx, adminA, doc.ID); err != nil {
		t.Errorf("администратор: %v", err)
	}
}

// TestCrossTenant_NotFound — чужой тенант неотличим от несуществующего id.
func TestCrossTenant_NotFound(t *testing.T) {
	env := newDocEnv(t)
	ctx := context.Background()
	doc := env.upload(t, userU1, "a.pdf", pdfBytes(8))

	for _, actor := range []model.Actor{adminB, outsider} {
		if _, err := env.svc.Get(ctx, actor, doc.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("get %s/%s: ожидалась ErrNotFound, получено %v", actor.TenantID, actor.ID, err)
		}
		if err := env.svc.Delete(ctx, actor, doc.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("delete %s/%s: ожидалась ErrNotFound, получено %v", actor.TenantID, actor.ID, err)
		}
		if _, err := env.svc.AuditTrail(ctx, actor, doc.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("auditTrail: ожидалась ErrNotFound, получено %v", err)
		}
	}

	for _, id := range []string{"00000000-0000-0000-0000-000000000000", "not-a-uuid", ""} {
		if _, err := env.svc.Get(ctx, adminA, id); !errors.Is(err, ErrNotFound) {
			t.Errorf("get %q: ожидалась ErrNotFound, получено %v", id, err)
		}
	}
}

// TestAuditTrail_OrderAndLength — длина журнала равна числу успешных
// изменяющих операций, время не убывает.
func TestAuditTrail_OrderAndLength(t *testing.T) {
	env := newDocEnv(t)
	ctx := context.Background()
	doc := env.upload(t, userU1, "a.pdf", pdfBytes(8))

	successful := 1
	for i := 0; i < 3; i++ {
		if _, err := env.svc.Send(ctx, userU1, doc.ID, model.ChannelViber, "+380000000000"); err != nil {
			t.Fatalf("отправка %d: %v", i, err)
		}
		successful++
	}
	// Неуспешные операции не попадают в журнал
	_ = env.svc.Delete(ctx, userU2, doc.ID)
	_, _ = env.svc.Send(ctx, userU1, doc.ID, "SMS", "x")
	if _, err := env.svc.SetLegalHold(ctx, adminA, doc.ID, true); err != nil {
		t.Fatalf("legal hold: %v", err)
	}
	successful++
	_ = env.svc.Delete(ctx, userU1, doc.ID)

	events := env.trail(t, adminA, doc.ID)
	if len(events) != successful {
		t.Fatalf("длина журнала: ожидалось %d, получено %d", successful, len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].PerformedAt.Before(events[i-1].PerformedAt) {
			t.Errorf("событие %d раньше предыдущего", i)
		}
	}
}

func TestSend_Validation(t *testing.T) {
	env := newDocEnv(t)
	ctx := context.Background()
	doc := env.upload(t, userU1, "a.pdf", pdfBytes(8))

	if _, err := env.svc.Send(ctx, userU1, doc.ID, "SMS", "x"); !errors.Is(err, ErrValidation) {
		t.Errorf("неизвестный канал: ожидалась ErrValidation, получено %v", err)
	}
	if _, err := env.svc.Send(ctx, userU1, doc.ID, model.ChannelEmail, "  "); !errors.Is(err, ErrValidation) {
		t.Errorf("пустой получатель: ожидалась ErrValidation, получено %v", err)
	}

	res, err := env.svc.Send(ctx, userU1, doc.ID, model.ChannelEmail, "x@example.com")
	if err != nil {
		t.Fatalf("ошибка отправки: %v", err)
	}
	if res.Message != "Документ отправлен через EMAIL" {
		t.Errorf("сообщение: получено %q", res.Message)
	}

	events := env.trail(t, userU1, doc.ID)
	send := events[len(events)-1]
	if send.Channel == nil || *send.Channel != model.ChannelEmail {
		t.Error("SEND: ожидался канал EMAIL")
	}
	if send.Notes != "sent via EMAIL to x@example.com" {
		t.Errorf("SEND notes: получено %q", send.Notes)
	}
	if send.ID != res.AuditID {
		t.Errorf("AuditID: ожидалось %s, получено %s", send.ID, res.AuditID)
	}
}

// TestSend_AppendFailureRollsBack — документ не помечается отправленным,
// если событие не записалось.
func TestSend_AppendFailureRollsBack(t *testing.T) {
	env := newDocEnv(t)
	ctx := context.Background()
	doc := env.upload(t, userU1, "a.pdf", pdfBytes(8))

	env.store.FailNextAppend(errors.New("обрыв соединения"))
	if _, err := env.svc.Send(ctx, userU1, doc.ID, model.ChannelEmail, "x@example.com"); !errors.Is(err, ErrStorageFailure) {
		t.Fatalf("ожидалась ErrStorageFailure, получено %v", err)
	}

	got, err := env.svc.Get(ctx, userU1, doc.ID)
	if err != nil {
		t.Fatalf("ошибка получения: %v", err)
	}
	if got.SentExternally || got.SentVia != nil {
		t.Error("состояние отправки должно быть откачено")
	}
	assertActions(t, env.trail(t, userU1, doc.ID), model.AuditActionUpload)
}

// TestSend_ValidationAfterLoad — некорректные параметры не раскрывают
// чужой или несуществующий документ.
func TestSend_ValidationAfterLoad(t *testing.T) {
	env := newDocEnv(t)
	ctx := context.Background()
	doc := env.upload(t, userU1, "a.pdf", pdfBytes(8))

	if _, err := env.svc.Send(ctx, outsider, doc.ID, "SMS", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("другой тенант: ожидалась ErrNotFound, получено %v", err)
	}
	if _, err := env.svc.Send(ctx, userU1, "missing", "SMS", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("нет документа: ожидалась ErrNotFound, получено %v", err)
	}
	if _, err := env.svc.Send(ctx, userU2, doc.ID, "SMS", ""); !errors.Is(err, ErrForbidden) {
		t.Errorf("чужой документ: ожидалась ErrForbidden, получено %v", err)
	}
	assertActions(t, env.trail(t, userU1, doc.ID), model.AuditActionUpload)
}

// TestDelete_AppendFailureRollsBack — удаление откатывается вместе
// с несостоявшимся событием DELETE.
func TestDelete_AppendFailureRollsBack(t *testing.T) {
	env := newDocEnv(t)
	ctx := context.Background()
	doc := env.upload(t, userU1, "a.pdf", pdfBytes(8))

	env.store.FailNextAppend(errors.New("обрыв соединения"))
	if err := env.svc.Delete(ctx, userU1, doc.ID); !errors.Is(err, ErrStorageFailure) {
		t.Fatalf("ожидалась ErrStorageFailure, получено %v", err)
	}

	got, err := env.svc.Get(ctx, userU1, doc.ID)
	if err != nil {
		t.Fatalf("ошибка получения: %v", err)
	}
	if got.LogicalDeleted {
		t.Error("документ не должен быть помечен удалённым")
	}
	assertActions(t, env.trail(t, userU1, doc.ID), model.AuditActionUpload)

	// После сбоя удаление проходит штатно
	if err := env.svc.Delete(ctx, userU1, doc.ID); err != nil {
		t.Fatalf("повторная попытка удаления: %v", err)
	}
	assertActions(t, env.trail(t, userU1, doc.ID), model.AuditActionUpload, model.AuditActionDelete)
}

// TestSetLegalHold_AppendFailureRollsBack — legal hold не меняется,
// если событие не записалось.
func TestSetLegalHold_AppendFailureRollsBack(t *testing.T) {
	env := newDocEnv(t)
	ctx := context.Background()
	doc := env.upload(t, userU1, "a.pdf", pdfBytes(8))

	env.store.FailNextAppend(errors.New("обрыв соединения"))
	if _, err := env.svc.SetLegalHold(ctx, adminA, doc.ID, true); !errors.Is(err, ErrStorageFailure) {
		t.Fatalf("ожидалась ErrStorageFailure, получено %v", err)
	}

	got, err := env.svc.Get(ctx, adminA, doc.ID)
	if err != nil {
		t.Fatalf("ошибка получения: %v", err)
	}
	if got.LegalHold {
		t.Error("legal hold должен быть откачен")
	}
	assertActions(t, env.trail(t, adminA, doc.ID), model.AuditActionUpload)

	if err := env.svc.Delete(ctx, userU1, doc.ID); err != nil {
		t.Errorf("без legal hold удаление должно пройти: %v", err)
	}
}

// TestSend_Concurrent — параллельные отправки одного документа
// сериализуются: каждая фиксирует своё событие SEND.
func TestSend_Concurrent(t *testing.T) {
	env := newDocEnv(t)
	ctx := context.Background()
	doc := env.upload(t, userU1, "a.pdf", pdfBytes(8))

	const senders = 8
	errs := make(chan error, senders)
	var wg sync.WaitGroup
	for i := range senders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.Send(ctx, userU1, doc.ID, model.ChannelEmail, fmt.Sprintf("r%d@example.com", i))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("ошибка отправки: %v", err)
		}
	}

	events := env.trail(t, userU1, doc.ID)
	if len(events) != senders+1 {
		t.Fatalf("ожидалось %d событий, получено %d", senders+1, len(events))
	}
	assertTrailOrdered(t, events)
	for _, e := range events[1:] {
		if e.Action != model.AuditActionSend {
			t.Errorf("ожидалось SEND, получено %s", e.Action)
		}
	}
}

// TestSendDelete_Concurrent — отправки, пришедшие после удаления,
// отклоняются; журнал содержит ровно успешные операции, DELETE последний.
func TestSendDelete_Concurrent(t *testing.T) {
	env := newDocEnv(t)
	ctx := context.Background()
	doc := env.upload(t, userU1, "a.pdf", pdfBytes(8))

	const senders = 6
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		sent    int
		deleted int
	)
	for range senders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.Send(ctx, userU1, doc.ID, model.ChannelViber, "+70000000000")
			switch {
			case err == nil:
				mu.Lock()
				sent++
				mu.Unlock()
			case !errors.Is(err, ErrDocumentDeleted):
				t.Errorf("отправка: неожиданная ошибка %v", err)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := env.svc.Delete(ctx, userU1, doc.ID); err != nil {
			t.Errorf("удаление: %v", err)
			return
		}
		mu.Lock()
		deleted++
		mu.Unlock()
	}()
	wg.Wait()

	if deleted != 1 {
		t.Fatalf("ожидалось одно удаление, получено %d", deleted)
	}
	events := env.trail(t, userU1, doc.ID)
	if len(events) != 1+sent+deleted {
		t.Fatalf("ожидалось %d событий, получено %d", 1+sent+deleted, len(events))
	}
	assertTrailOrdered(t, events)
	if last := events[len(events)-1]; last.Action != model.AuditActionDelete {
		t.Errorf("последнее событие: ожидалось DELETE, получено %s", last.Action)
	}
}

// assertTrailOrdered проверяет порядок журнала: UPLOAD первым,
// время фиксации не убывает, идентификаторы уникальны.
func assertTrailOrdered(t *testing.T, events []*model.AuditEvent) {
	t.Helper()
	if len(events) == 0 || events[0].Action != model.AuditActionUpload {
		t.Fatalf("журнал должен начинаться с UPLOAD")
	}
	seen := make(map[string]bool, len(events))
	for i, e := range events {
		if seen[e.ID] {
			t.Errorf("повторный ID события %s", e.ID)
		}
		seen[e.ID] = true
		if i > 0 && e.PerformedAt.Before(events[i-1].PerformedAt) {
			t.Errorf("событие %d раньше предыдущего: %v < %v", i, e.PerformedAt, events[i-1].PerformedAt)
		}
	}
}

func TestDownload_BlobMissing(t *testing.T) {
	env := newDocEnv(t)
	doc := env.upload(t, userU1, "a.pdf", pdfBytes(8))

	if err := os.Remove(filepath.Join(env.blobs.DataDir(), doc.StoragePath)); err != nil {
		t.Fatalf("ошибка удаления blob: %v", err)
	}
	if _, _, err := env.svc.Download(context.Background(), userU1, doc.ID); !errors.Is(err, ErrBlobMissing) {
		t.Errorf("ожидалась ErrBlobMissing, получено %v", err)
	}
}

func TestList_Scoping(t *testing.T) {
	env := newDocEnv(t)
	ctx := context.Background()

	d1 := env.upload(t, userU1, "u1.pdf", pdfBytes(8))
	env.upload(t, userU2, "u2.pdf", pdfBytes(8))
	env.upload(t, adminB, "b.pdf", pdfBytes(8))

	// Пользователь видит только свои документы, фильтр uploadedBy игнорируется
	other := userU2.ID
	docs, total, err := env.svc.List(ctx, userU1, ListInput{UploadedBy: &other})
	if err != nil {
		t.Fatalf("ошибка списка: %v", err)
	}
	if total != 1 || len(docs) != 1 || docs[0].ID != d1.ID {
		t.Errorf("U1: ожидался только свой документ, получено %d/%d", len(docs), total)
	}

	_, total, _ = env.svc.List(ctx, adminA, ListInput{})
	if total != 2 {
		t.Errorf("администратор A: ожидалось 2 документа, получено %d", total)
	}
	_, total, _ = env.svc.List(ctx, adminA, ListInput{UploadedBy: &other})
	if total != 1 {
		t.Errorf("администратор A с фильтром: ожидался 1 документ, получено %d", total)
	}

	if err := env.svc.Delete(ctx, userU1, d1.ID); err != nil {
		t.Fatalf("удаление: %v", err)
	}
	_, total, _ = env.svc.List(ctx, adminA, ListInput{})
	if total != 1 {
		t.Errorf("без удалённых: ожидался 1 документ, получено %d", total)
	}
	_, total, _ = env.svc.List(ctx, adminA, ListInput{IncludeDeleted: true})
	if total != 2 {
		t.Errorf("с удалёнными: ожидалось 2 документа, получено %d", total)
	}

	bad := model.HashStatus("BROKEN")
	if _, _, err := env.svc.List(ctx, adminA, ListInput{HashStatus: &bad}); !errors.Is(err, ErrValidation) {
		t.Errorf("неизвестный hashStatus: ожидалась ErrValidation, получено %v", err)
	}
}

func TestList_Pagination(t *testing.T) {
	env := newDocEnv(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		env.upload(t, userU1, "p.pdf", pdfBytes(8))
	}

	docs, total, err := env.svc.List(ctx, userU1, ListInput{Limit: 2, Offset: 4})
	if err != nil {
		t.Fatalf("ошибка списка: %v", err)
	}
	if total != 5 || len(docs) != 1 {
		t.Errorf("ожидалось 1 из 5, получено %d из %d", len(docs), total)
	}
}

// TestDeletedDocument_Readable — удалённый документ доступен для чтения.
func TestDeletedDocument_Readable(t *testing.T) {
	env := newDocEnv(t)
	ctx := context.Background()
	doc := env.upload(t, userU1, "a.pdf", pdfBytes(8))
	if err := env.svc.Delete(ctx, userU1, doc.ID); err != nil {
		t.Fatalf("удаление: %v", err)
	}

	if _, err := env.svc.Get(ctx, userU1, doc.ID); err != nil {
		t.Errorf("get удалённого: %v", err)
	}
	_, f, err := env.svc.Download(ctx, userU1, doc.ID)
	if err != nil {
		t.Fatalf("download удалённого: %v", err)
	}
	f.Close()

	if _, err := env.svc.SetLegalHold(ctx, adminA, doc.ID, true); !errors.Is(err, ErrDocumentDeleted) {
		t.Errorf("legal hold удалённого: ожидалась ErrDocumentDeleted, получено %v", err)
	}
}
