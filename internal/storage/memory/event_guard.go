package memory

import (
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/paybridge/internal/domain"
)

// defaultGuardTTL — окно дедупликации по умолчанию.
const defaultGuardTTL = 10 * time.Minute

// eventGuardInMemory хранит дедлайны ключей; сбрасывается при рестарте процесса,
// поэтому exactly-once здесь best-effort, а не гарантия.
type eventGuardInMemory struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

// NewEventGuard создаёт in-memory «seen-once» множество с TTL.
func NewEventGuard() domain.EventGuard {
	return &eventGuardInMemory{
		seen: make(map[string]time.Time),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// newEventGuardWithClock используется в тестах для управления временем.
func newEventGuardWithClock(now func() time.Time) *eventGuardInMemory {
	return &eventGuardInMemory{
		seen: make(map[string]time.Time),
		now:  now,
	}
}

// Once возвращает true только первому вызову с ключом внутри TTL-окна.
// Просроченная запись считается отсутствующей и перезаписывается.
func (g *eventGuardInMemory) Once(key string, ttl time.Duration) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		return false
	}
	if ttl <= 0 {
		ttl = defaultGuardTTL
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if deadline, ok := g.seen[key]; ok && deadline.After(now) {
		return false
	}
	g.seen[key] = now.Add(ttl)
	return true
}

// DeleteExpired удаляет просроченные ключи; limit > 0 ограничивает размер батча.
func (g *eventGuardInMemory) DeleteExpired(before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = g.now()
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	for key, deadline := range g.seen {
		if deadline.After(before) {
			continue
		}
		delete(g.seen, key)
		removed++
		if limit > 0 && removed >= limit {
			break
		}
	}
	return removed, nil
}

var _ domain.EventGuard = (*eventGuardInMemory)(nil)
