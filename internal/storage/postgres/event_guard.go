package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/paybridge/internal/domain"
)

type eventGuard struct {
	db     *sql.DB
	logger *log.Entry
}

// NewEventGuard создаёт PostgreSQL-реализацию EventGuard, разделяемую
// несколькими экземплярами сервиса.
func NewEventGuard(store *Store, logger *log.Entry) domain.EventGuard {
	if logger == nil {
		logger = log.WithField("component", "event-guard")
	}
	return &eventGuard{db: store.DB(), logger: logger}
}

// Once фиксирует ключ события upsert-ом: вставка выигрывает либо при
// отсутствии записи, либо при истёкшем TTL. При ошибке БД обработка
// пропускается вперёд — CAS статуса сессии всё равно не допустит
// повторной продажи.
func (g *eventGuard) Once(key string, ttl time.Duration) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		return false
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	now := time.Now().UTC()
	res, err := g.db.ExecContext(ctx, `
		INSERT INTO gateway_events (key, ttl_at, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE
		SET ttl_at = EXCLUDED.ttl_at,
		    created_at = EXCLUDED.created_at
		WHERE gateway_events.ttl_at <= $3
	`, key, now.Add(ttl), now)
	if err != nil {
		g.logger.WithError(err).WithField("key", key).Warn("event guard insert failed, passing event through")
		return true
	}

	affected, err := res.RowsAffected()
	if err != nil {
		g.logger.WithError(err).Warn("event guard rows affected failed, passing event through")
		return true
	}
	return affected == 1
}

// DeleteExpired удаляет просроченные ключи порциями limit.
func (g *eventGuard) DeleteExpired(before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		res sql.Result
		err error
	)
	if limit > 0 {
		res, err = g.db.ExecContext(ctx, `
			DELETE FROM gateway_events
			WHERE key IN (
				SELECT key
				FROM gateway_events
				WHERE ttl_at <= $1
				ORDER BY ttl_at ASC
				LIMIT $2
			)
		`, before, limit)
	} else {
		res, err = g.db.ExecContext(ctx, `
			DELETE FROM gateway_events
			WHERE ttl_at <= $1
		`, before)
	}
	if err != nil {
		return 0, fmt.Errorf("delete expired event keys: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("event keys rows affected: %w", err)
	}
	return int(affected), nil
}

var _ domain.EventGuard = (*eventGuard)(nil)
