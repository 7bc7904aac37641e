// Пакет integrity — криптографический отпечаток содержимого документа.
// Используется при загрузке (initial hash) и при повторной сверке blob'ов.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
)

// Algorithm — идентификатор алгоритма, сохраняемый в документе.
const Algorithm = "SHA-256"

// Fingerprint вычисляет SHA-256 потока и возвращает hex-строку.
// Ошибка чтения возвращается как есть, частичный хэш не возвращается.
func Fingerprint(r io.Reader) (string, error) {
	d := NewDigest()
	if _, err := io.Copy(d, r); err != nil {
		return "", fmt.Errorf("ошибка чтения данных для хэширования: %w", err)
	}
	return d.Sum(), nil
}

// FingerprintBytes вычисляет SHA-256 среза байт.
func FingerprintBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Digest — накопительный хэш для записи «на лету» (io.TeeReader).
type Digest struct {
	h hash.Hash
	n int64
}

// NewDigest создаёт пустой Digest.
func NewDigest() *Digest {
	return &Digest{h: sha256.New()}
}

// Write реализует io.Writer.
func (d *Digest) Write(p []byte) (int, error) {
	n, err := d.h.Write(p)
	d.n += int64(n)
	return n, err
}

// Size возвращает количество прохэшированных байт.
func (d *Digest) Size() int64 {
	return d.n
}

// Sum возвращает hex-представление текущего хэша.
func (d *Digest) Sum() string {
	return hex.EncodeToString(d.h.Sum(nil))
}
