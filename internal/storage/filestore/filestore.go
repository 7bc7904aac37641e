// Пакет filestore — хранение blob'ов документов на локальном диске.
// Запись идёт потоково с подсчётом SHA-256 на лету, раскладка
// каталогов: <tenant>/<documentID><ext>.
package filestore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bigkaa/goartstore/custody-module/internal/domain/integrity"
)

// ErrBlobNotFound — blob отсутствует на диске.
var ErrBlobNotFound = errors.New("blob не найден")

// FileStore — управление blob'ами документов на диске.
type FileStore struct {
	// dataDir — корневая директория хранения (CM_STORAGE_DIR)
	dataDir string
}

// SaveResult — результат сохранения blob'а.
type SaveResult struct {
	// StoragePath — путь относительно dataDir, уникален для документа
	StoragePath string
	// FullPath — абсолютный путь на диске
	FullPath string
	// Size — размер записанных данных в байтах
	Size int64
	// Checksum — SHA-256 содержимого (hex)
	Checksum string
}

// New создаёт FileStore и при необходимости корневую директорию.
func New(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}
	return &FileStore{dataDir: dataDir}, nil
}

// Persist записывает содержимое r в <tenantID>/<documentID><ext>.
//
// Паттерн: temp файл → запись + SHA-256 → fsync → atomic rename.
// При ошибке temp файл удаляется, итоговый файл не появляется.
func (fs *FileStore) Persist(tenantID, documentID, ext string, r io.Reader) (*SaveResult, error) {
	storagePath, err := BuildStoragePath(tenantID, documentID, ext)
	if err != nil {
		return nil, err
	}
	fullPath := filepath.Join(fs.dataDir, storagePath)

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return nil, fmt.Errorf("ошибка создания директории тенанта: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fullPath), filepath.Base(fullPath)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	tmpPath := tmp.Name()

	digest := integrity.NewDigest()
	size, err := io.Copy(tmp, io.TeeReader(r, digest))
	if err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &SaveResult{
		StoragePath: storagePath,
		FullPath:    fullPath,
		Size:        size,
		Checksum:    digest.Sum(),
	}, nil
}

// Open открывает blob для чтения. Вызывающий код обязан закрыть файл.
// Отсутствующий blob → ErrBlobNotFound.
func (fs *FileStore) Open(storagePath string) (*os.File, error) {
	fullPath, err := fs.resolve(storagePath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, storagePath)
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", storagePath, err)
	}
	return f, nil
}

// ComputeChecksum заново вычисляет SHA-256 сохранённого blob'а.
// Используется сверкой целостности.
func (fs *FileStore) ComputeChecksum(storagePath string) (string, error) {
	f, err := fs.Open(storagePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	sum, err := integrity.Fingerprint(f)
	if err != nil {
		return "", fmt.Errorf("ошибка вычисления checksum %s: %w", storagePath, err)
	}
	return sum, nil
}

// DataDir возвращает путь к директории данных.
func (fs *FileStore) DataDir() string {
	return fs.dataDir
}

// BuildStoragePath строит относительный путь blob'а.
// Идентификаторы тенанта и документа проходят через sanitize,
// расширение обязано начинаться с точки.
func BuildStoragePath(tenantID, documentID, ext string) (string, error) {
	tenant := sanitize(tenantID)
	doc := sanitize(documentID)
	if tenant == "" || doc == "" {
		return "", fmt.Errorf("пустой идентификатор тенанта или документа")
	}
	if ext != "" && (!strings.HasPrefix(ext, ".") || sanitize(ext[1:]) != ext[1:]) {
		return "", fmt.Errorf("некорректное расширение %q", ext)
	}
	return filepath.Join(tenant, doc+ext), nil
}

// resolve переводит относительный путь в абсолютный и не даёт
// выйти за пределы dataDir.
func (fs *FileStore) resolve(storagePath string) (string, error) {
	clean := filepath.Clean(storagePath)
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: недопустимый путь %s", ErrBlobNotFound, storagePath)
	}
	return filepath.Join(fs.dataDir, clean), nil
}

// sanitize оставляет только латинские буквы, цифры, дефис и подчёркивание.
func sanitize(s string) string {
	var result strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' {
			result.WriteRune(r)
		}
	}
	return result.String()
}
