// Пакет ids — генерация идентификаторов записей журнала аудита.
// ULID монотонно возрастают в пределах процесса, поэтому порядок
// идентификаторов совпадает с порядком вставки.
package ids

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0) //nolint:gosec // не криптографический контекст
)

// New возвращает новый ULID в каноническом текстовом виде (26 символов).
func New() string {
	return NewAt(time.Now())
}

// NewAt возвращает ULID с временной меткой t.
func NewAt(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
