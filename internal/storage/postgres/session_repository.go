package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/paybridge/internal/domain"
)

const opTimeout = 5 * time.Second

type sessionRepository struct {
	db *sql.DB
}

// NewSessionRepository создаёт PostgreSQL-реализацию SessionRepository.
func NewSessionRepository(store *Store) domain.SessionRepository {
	return &sessionRepository{db: store.DB()}
}

func (r *sessionRepository) Create(session domain.Session) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	customerJSON, linesJSON, gatewayJSON, err := encodeSessionJSON(session)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sessions (
			id, status, customer, lines, total, currency, client_id,
			gateway_meta, in_store, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`,
		session.ID, string(session.Status), customerJSON, linesJSON,
		session.Total, session.Currency, session.ClientID,
		gatewayJSON, session.InStore, session.Version,
		session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrSessionExists
		}
		return fmt.Errorf("insert session: %w", err)
	}

	return nil
}

func (r *sessionRepository) Get(id string) (domain.Session, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.getContext(ctx, r.db, id)
}

// Update применяет частичное обновление под row-lock, чтобы конкурентные
// patch-и не переплетались. Смена статуса проходит только по forward-only
// таблице переходов.
func (r *sessionRepository) Update(id string, patch domain.SessionPatch) (domain.Session, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Session{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	session, err := r.lockSession(ctx, tx, id)
	if err != nil {
		return domain.Session{}, err
	}

	if patch.Status != nil && *patch.Status != session.Status {
		if !session.Status.CanTransition(*patch.Status) {
			err = domain.ErrStatusConflict
			return domain.Session{}, err
		}
		session.Status = *patch.Status
	}
	if patch.ClientID != nil {
		session.ClientID = *patch.ClientID
	}
	if patch.Customer != nil {
		customer := *patch.Customer
		session.Customer = &customer
	}
	if patch.InStore != nil {
		session.InStore = *patch.InStore
	}
	patch.Gateway.Apply(&session.Gateway)

	session.Version++
	session.UpdatedAt = time.Now().UTC()

	customerJSON, linesJSON, gatewayJSON, err := encodeSessionJSON(session)
	if err != nil {
		return domain.Session{}, err
	}

	if _, err = tx.ExecContext(ctx, `
		UPDATE sessions
		SET status = $1,
		    customer = $2,
		    lines = $3,
		    client_id = $4,
		    gateway_meta = $5,
		    in_store = $6,
		    version = $7,
		    updated_at = $8
		WHERE id = $9
	`,
		string(session.Status), customerJSON, linesJSON, session.ClientID,
		gatewayJSON, session.InStore, session.Version, session.UpdatedAt, session.ID,
	); err != nil {
		return domain.Session{}, fmt.Errorf("update session: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return domain.Session{}, fmt.Errorf("commit update session: %w", err)
	}

	return session, nil
}

// TransitionStatus выполняет compare-and-set статуса одним UPDATE: совпадение
// текущего статуса проверяется в WHERE, поэтому из конкурентных переходов
// побеждает ровно один.
func (r *sessionRepository) TransitionStatus(id string, from, to domain.SessionStatus) (domain.Session, error) {
	if !from.CanTransition(to) {
		return domain.Session{}, domain.ErrStatusConflict
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET status = $1,
		    version = version + 1,
		    updated_at = $2
		WHERE id = $3
		  AND status = $4
	`, string(to), time.Now().UTC(), id, string(from))
	if err != nil {
		return domain.Session{}, fmt.Errorf("transition session status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Session{}, fmt.Errorf("transition rows affected: %w", err)
	}
	if affected == 0 {
		if _, getErr := r.getContext(ctx, r.db, id); getErr != nil {
			return domain.Session{}, getErr
		}
		return domain.Session{}, domain.ErrStatusConflict
	}

	return r.getContext(ctx, r.db, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *sessionRepository) getContext(ctx context.Context, q queryer, id string) (domain.Session, error) {
	return scanSession(q.QueryRowContext(ctx, `
		SELECT id, status, customer, lines, total, currency, client_id,
		       gateway_meta, in_store, version, created_at, updated_at
		FROM sessions
		WHERE id = $1
	`, id))
}

func (r *sessionRepository) lockSession(ctx context.Context, tx *sql.Tx, id string) (domain.Session, error) {
	return scanSession(tx.QueryRowContext(ctx, `
		SELECT id, status, customer, lines, total, currency, client_id,
		       gateway_meta, in_store, version, created_at, updated_at
		FROM sessions
		WHERE id = $1
		FOR UPDATE
	`, id))
}

func scanSession(row *sql.Row) (domain.Session, error) {
	var (
		session      domain.Session
		status       string
		customerJSON []byte
		linesJSON    []byte
		gatewayJSON  []byte
	)

	err := row.Scan(
		&session.ID, &status, &customerJSON, &linesJSON,
		&session.Total, &session.Currency, &session.ClientID,
		&gatewayJSON, &session.InStore, &session.Version,
		&session.CreatedAt, &session.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Session{}, domain.ErrSessionNotFound
		}
		return domain.Session{}, fmt.Errorf("scan session: %w", err)
	}

	session.Status = domain.SessionStatus(status)
	if len(customerJSON) > 0 {
		var customer domain.Customer
		if err := json.Unmarshal(customerJSON, &customer); err != nil {
			return domain.Session{}, fmt.Errorf("decode session customer: %w", err)
		}
		session.Customer = &customer
	}
	if len(linesJSON) > 0 {
		if err := json.Unmarshal(linesJSON, &session.Lines); err != nil {
			return domain.Session{}, fmt.Errorf("decode session lines: %w", err)
		}
	}
	if len(gatewayJSON) > 0 {
		if err := json.Unmarshal(gatewayJSON, &session.Gateway); err != nil {
			return domain.Session{}, fmt.Errorf("decode session gateway meta: %w", err)
		}
	}

	return session, nil
}

func encodeSessionJSON(session domain.Session) (customerJSON, linesJSON, gatewayJSON []byte, err error) {
	if session.Customer != nil {
		customerJSON, err = json.Marshal(session.Customer)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("encode session customer: %w", err)
		}
	}

	lines := session.Lines
	if lines == nil {
		lines = []domain.CartLine{}
	}
	linesJSON, err = json.Marshal(lines)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("encode session lines: %w", err)
	}

	gatewayJSON, err = json.Marshal(session.Gateway)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("encode session gateway meta: %w", err)
	}

	return customerJSON, linesJSON, gatewayJSON, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.SessionRepository = (*sessionRepository)(nil)
