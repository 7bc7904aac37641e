// Пакет repository — слой доступа к данным PostgreSQL.
// Все запросы — чистый SQL через pgx, без ORM.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — запись уже существует")
	// ErrDanglingReference — ссылка на несуществующую запись (нарушение FK).
	ErrDanglingReference = errors.New("ссылка на несуществующую запись")
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx, что позволяет
// использовать репозитории как внутри, так и вне транзакций.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxRunner позволяет выполнять операции в транзакции.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner создаёт TxRunner для управления транзакциями.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunInTx выполняет fn внутри транзакции.
// При ошибке fn — транзакция откатывается.
// При успехе — коммитится.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита — no-op

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка коммита транзакции: %w", err)
	}
	return nil
}

// Queries — репозитории, привязанные к одной транзакции.
type Queries struct {
	Documents   DocumentRepository
	AuditEvents AuditEventRepository
}

// Store — хранилище документов и журнала аудита.
// Documents и AuditEvents работают вне транзакции (чтение),
// InTx выполняет fn атомарно: либо все изменения, либо ни одного.
type Store interface {
	Documents() DocumentRepository
	AuditEvents() AuditEventRepository
	InTx(ctx context.Context, fn func(q Queries) error) error
}

// pgStore — реализация Store поверх pgxpool.
type pgStore struct {
	tx    *TxRunner
	docs  DocumentRepository
	audit AuditEventRepository
}

// NewStore создаёт Store для PostgreSQL.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{
		tx:    NewTxRunner(pool),
		docs:  NewDocumentRepository(pool),
		audit: NewAuditEventRepository(pool),
	}
}

func (s *pgStore) Documents() DocumentRepository     { return s.docs }
func (s *pgStore) AuditEvents() AuditEventRepository { return s.audit }

func (s *pgStore) InTx(ctx context.Context, fn func(q Queries) error) error {
	return s.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		return fn(Queries{
			Documents:   NewDocumentRepository(tx),
			AuditEvents: NewAuditEventRepository(tx),
		})
	})
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	return pgErrorCode(err) == "23505" // unique_violation
}

// isForeignKeyViolation проверяет нарушение внешнего ключа.
func isForeignKeyViolation(err error) bool {
	return pgErrorCode(err) == "23503" // foreign_key_violation
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
