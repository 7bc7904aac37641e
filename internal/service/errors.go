// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import (
	"errors"
	"fmt"

	"github.com/bigkaa/goartstore/custody-module/internal/domain/access"
)

var (
	// ErrNotFound — документ не найден или принадлежит другому тенанту.
	ErrNotFound = access.ErrNotFound
	// ErrForbidden — у субъекта нет прав на операцию.
	ErrForbidden = access.ErrForbidden
	// ErrInvalidContentType — тип файла не PDF и не DOCX.
	ErrInvalidContentType = errors.New("недопустимый тип файла: разрешены PDF и DOCX")
	// ErrLegalHoldActive — документ под юридическим удержанием.
	ErrLegalHoldActive = errors.New("документ находится под legal hold")
	// ErrDocumentDeleted — документ логически удалён.
	ErrDocumentDeleted = errors.New("документ удалён")
	// ErrBlobMissing — запись есть, а файла в хранилище нет.
	ErrBlobMissing = errors.New("файл документа отсутствует в хранилище")
	// ErrStorageFailure — ошибка БД или файлового хранилища.
	ErrStorageFailure = errors.New("ошибка хранилища")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
)

// domainErrors — ошибки, которые передаются наружу без обёртки.
var domainErrors = []error{
	ErrNotFound, ErrForbidden, ErrInvalidContentType, ErrLegalHoldActive,
	ErrDocumentDeleted, ErrBlobMissing, ErrStorageFailure, ErrValidation,
}

// storageFailure оборачивает ошибку инфраструктуры в ErrStorageFailure.
func storageFailure(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorageFailure, op, err)
}

// txError классифицирует ошибку транзакции: доменные ошибки
// возвращаются как есть, остальные (begin/commit) — как ErrStorageFailure.
func txError(err error) error {
	if err == nil {
		return nil
	}
	for _, de := range domainErrors {
		if errors.Is(err, de) {
			return err
		}
	}
	return storageFailure("транзакция", err)
}
