// Пакет memory — реализация repository.Store в памяти процесса.
// Используется в unit-тестах сервисов и обработчиков, а также
// для локального запуска без PostgreSQL.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bigkaa/goartstore/custody-module/internal/domain/model"
	"github.com/bigkaa/goartstore/custody-module/internal/ids"
	"github.com/bigkaa/goartstore/custody-module/internal/repository"
)

// Store — хранилище документов и журнала в памяти.
// Транзакции сериализуются одним мьютексом; откат восстанавливает
// снимок состояния на начало транзакции.
type Store struct {
	mu     sync.Mutex
	docs   map[string]*model.Document
	events []*model.AuditEvent
	now    func() time.Time

	// failAppend — ошибка, которую вернёт следующий Append (для тестов атомарности)
	failAppend error
}

// New создаёт пустое хранилище.
func New() *Store {
	return &Store{
		docs: make(map[string]*model.Document),
		now:  time.Now,
	}
}

// FailNextAppend заставляет следующий Append вернуть err.
func (s *Store) FailNextAppend(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAppend = err
}

// Documents возвращает репозиторий документов вне транзакции.
func (s *Store) Documents() repository.DocumentRepository {
	return &documents{s: s}
}

// AuditEvents возвращает журнал вне транзакции.
func (s *Store) AuditEvents() repository.AuditEventRepository {
	return &auditEvents{s: s}
}

// InTx выполняет fn под эксклюзивной блокировкой.
// Ошибка fn откатывает все изменения, сделанные через q.
func (s *Store) InTx(ctx context.Context, fn func(q repository.Queries) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	docsSnapshot := make(map[string]*model.Document, len(s.docs))
	for id, d := range s.docs {
		docsSnapshot[id] = cloneDocument(d)
	}
	eventsLen := len(s.events)

	err := fn(repository.Queries{
		Documents:   &documents{s: s, inTx: true},
		AuditEvents: &auditEvents{s: s, inTx: true},
	})
	if err != nil {
		s.docs = docsSnapshot
		s.events = s.events[:eventsLen]
		return err
	}
	return nil
}

// lock берёт мьютекс, если вызов не внутри InTx.
func (s *Store) lock(inTx bool) func() {
	if inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// --- documents ---

type documents struct {
	s    *Store
	inTx bool
}

func (r *documents) Create(_ context.Context, d *model.Document) error {
	defer r.s.lock(r.inTx)()

	if _, ok := r.s.docs[d.ID]; ok {
		return fmt.Errorf("%w: документ %s уже существует", repository.ErrConflict, d.ID)
	}
	for _, other := range r.s.docs {
		if other.StoragePath == d.StoragePath {
			return fmt.Errorf("%w: путь %s уже занят", repository.ErrConflict, d.StoragePath)
		}
	}

	d.CreatedAt = r.s.now()
	d.AuditStatus = d.DeriveAuditStatus()
	r.s.docs[d.ID] = cloneDocument(d)
	return nil
}

func (r *documents) Get(_ context.Context, tenantID, id string) (*model.Document, error) {
	defer r.s.lock(r.inTx)()
	return r.get(tenantID, id)
}

// GetForUpdate внутри InTx эквивалентен Get: транзакция уже эксклюзивна.
func (r *documents) GetForUpdate(_ context.Context, tenantID, id string) (*model.Document, error) {
	defer r.s.lock(r.inTx)()
	return r.get(tenantID, id)
}

func (r *documents) get(tenantID, id string) (*model.Document, error) {
	d, ok := r.s.docs[id]
	if !ok || d.TenantID != tenantID {
		return nil, repository.ErrNotFound
	}
	return cloneDocument(d), nil
}

func (r *documents) List(_ context.Context, tenantID string, filters repository.DocumentListFilters, limit, offset int) ([]*model.Document, error) {
	defer r.s.lock(r.inTx)()

	matched := r.filter(tenantID, filters)
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].UploadedAt.Equal(matched[j].UploadedAt) {
			return matched[i].UploadedAt.After(matched[j].UploadedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	if offset >= len(matched) {
		return nil, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}

	result := make([]*model.Document, 0, end-offset)
	for _, d := range matched[offset:end] {
		result = append(result, cloneDocument(d))
	}
	return result, nil
}

func (r *documents) Count(_ context.Context, tenantID string, filters repository.DocumentListFilters) (int, error) {
	defer r.s.lock(r.inTx)()
	return len(r.filter(tenantID, filters)), nil
}

func (r *documents) filter(tenantID string, filters repository.DocumentListFilters) []*model.Document {
	var matched []*model.Document
	for _, d := range r.s.docs {
		if d.TenantID != tenantID {
			continue
		}
		if !filters.IncludeDeleted && d.LogicalDeleted {
			continue
		}
		if filters.UploadedBy != nil && d.UploadedByUser != *filters.UploadedBy {
			continue
		}
		if filters.HashStatus != nil && d.HashStatus != *filters.HashStatus {
			continue
		}
		matched = append(matched, d)
	}
	return matched
}

func (r *documents) MarkSent(_ context.Context, id string, channel model.Channel, hashAtSend string) error {
	defer r.s.lock(r.inTx)()

	d, ok := r.s.docs[id]
	if !ok {
		return repository.ErrNotFound
	}
	d.SentExternally = true
	d.SentVia = &channel
	d.SentVersionHash = &hashAtSend
	return nil
}

func (r *documents) MarkDeleted(_ context.Context, id string, at time.Time) error {
	defer r.s.lock(r.inTx)()

	d, ok := r.s.docs[id]
	if !ok || d.LogicalDeleted {
		return repository.ErrNotFound
	}
	d.LogicalDeleted = true
	d.LogicalDeletedAt = &at
	return nil
}

func (r *documents) SetLegalHold(_ context.Context, id string, hold bool) error {
	defer r.s.lock(r.inTx)()

	d, ok := r.s.docs[id]
	if !ok {
		return repository.ErrNotFound
	}
	d.LegalHold = hold
	return nil
}

func (r *documents) ListActive(_ context.Context, afterID string, limit int) ([]*model.Document, error) {
	defer r.s.lock(r.inTx)()

	var active []*model.Document
	for _, d := range r.s.docs {
		if !d.LogicalDeleted && d.ID > afterID {
			active = append(active, d)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].ID < active[j].ID })
	if len(active) > limit {
		active = active[:limit]
	}

	result := make([]*model.Document, 0, len(active))
	for _, d := range active {
		result = append(result, cloneDocument(d))
	}
	return result, nil
}

// --- audit events ---

type auditEvents struct {
	s    *Store
	inTx bool
}

func (r *auditEvents) Append(_ context.Context, e *model.AuditEvent) error {
	defer r.s.lock(r.inTx)()

	if err := r.s.failAppend; err != nil {
		r.s.failAppend = nil
		return err
	}
	if _, ok := r.s.docs[e.DocumentID]; !ok {
		return fmt.Errorf("%w: документ %s", repository.ErrDanglingReference, e.DocumentID)
	}

	e.PerformedAt = r.s.now()
	if e.ID == "" {
		e.ID = ids.NewAt(e.PerformedAt)
	}
	cp := *e
	r.s.events = append(r.s.events, &cp)
	return nil
}

func (r *auditEvents) ListByDocument(_ context.Context, documentID string) ([]*model.AuditEvent, error) {
	defer r.s.lock(r.inTx)()

	var result []*model.AuditEvent
	for _, e := range r.s.events {
		if e.DocumentID == documentID {
			cp := *e
			result = append(result, &cp)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].PerformedAt.Equal(result[j].PerformedAt) {
			return result[i].PerformedAt.Before(result[j].PerformedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (r *auditEvents) CountByDocument(ctx context.Context, documentID string) (int, error) {
	events, err := r.ListByDocument(ctx, documentID)
	return len(events), err
}

// cloneDocument копирует документ вместе с nullable-полями.
func cloneDocument(d *model.Document) *model.Document {
	cp := *d
	if d.CreationTool != nil {
		v := *d.CreationTool
		cp.CreationTool = &v
	}
	if d.LastModifiedAt != nil {
		v := *d.LastModifiedAt
		cp.LastModifiedAt = &v
	}
	if d.ModificationTool != nil {
		v := *d.ModificationTool
		cp.ModificationTool = &v
	}
	if d.SentVia != nil {
		v := *d.SentVia
		cp.SentVia = &v
	}
	if d.SentVersionHash != nil {
		v := *d.SentVersionHash
		cp.SentVersionHash = &v
	}
	if d.LogicalDeletedAt != nil {
		v := *d.LogicalDeletedAt
		cp.LogicalDeletedAt = &v
	}
	return &cp
}
