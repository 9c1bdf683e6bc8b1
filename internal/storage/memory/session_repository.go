package memory

import (
	"sync"
	"time"

	"github.com/vladislavdragonenkov/paybridge/internal/domain"
)

// sessionRepositoryInMemory — in-memory реализация SessionRepository.
// Каждая операция над сессией выполняется под общим мьютексом, поэтому
// конкурентные Update не переплетаются частично.
type sessionRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Session
}

// NewSessionRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewSessionRepository() domain.SessionRepository {
	return &sessionRepositoryInMemory{
		items: make(map[string]domain.Session),
	}
}

// Create сохраняет новую сессию, если ID ещё не занят.
func (r *sessionRepositoryInMemory) Create(session domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[session.ID]; exists {
		return domain.ErrSessionExists
	}
	r.items[session.ID] = cloneSession(session)
	return nil
}

// Get возвращает копию сессии или ErrSessionNotFound.
func (r *sessionRepositoryInMemory) Get(id string) (domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.items[id]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return cloneSession(session), nil
}

// Update применяет частичное обновление под мьютексом. Смена статуса проходит
// только по forward-only таблице переходов; terminal-статусы неизменяемы.
func (r *sessionRepositoryInMemory) Update(id string, patch domain.SessionPatch) (domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.items[id]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}

	if patch.Status != nil && *patch.Status != session.Status {
		if !session.Status.CanTransition(*patch.Status) {
			return domain.Session{}, domain.ErrStatusConflict
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
	r.items[id] = session

	return cloneSession(session), nil
}

// TransitionStatus выполняет атомарный compare-and-set статуса.
func (r *sessionRepositoryInMemory) TransitionStatus(id string, from, to domain.SessionStatus) (domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.items[id]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if session.Status != from || !from.CanTransition(to) {
		return domain.Session{}, domain.ErrStatusConflict
	}

	session.Status = to
	session.Version++
	session.UpdatedAt = time.Now().UTC()
	r.items[id] = session

	return cloneSession(session), nil
}

// cloneSession копирует сессию вместе со слайсом позиций, чтобы избежать
// непредсказуемых мутаций извне.
func cloneSession(src domain.Session) domain.Session {
	dst := src
	dst.Lines = append([]domain.CartLine(nil), src.Lines...)
	if src.Customer != nil {
		customer := *src.Customer
		dst.Customer = &customer
	}
	return dst
}

var _ domain.SessionRepository = (*sessionRepositoryInMemory)(nil)
