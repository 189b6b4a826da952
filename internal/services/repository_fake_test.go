package services_test

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/example/rayhan/internal/models"
	"github.com/example/rayhan/internal/services"
)

// fakeSessionRepo is an in-memory SessionRepository for adapter tests. It
// hands out copies so tests observe only what Save persisted, like a real
// store would.
type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]models.PaymentSession
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: make(map[uuid.UUID]models.PaymentSession)}
}

func (r *fakeSessionRepo) Create(ctx context.Context, session *models.PaymentSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	r.sessions[session.ID] = *session
	return nil
}

func (r *fakeSessionRepo) FindByID(ctx context.Context, id string) (*models.PaymentSession, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, services.ErrSessionNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[parsed]
	if !ok {
		return nil, services.ErrSessionNotFound
	}
	copied := session
	return &copied, nil
}

func (r *fakeSessionRepo) FindByMerchantTransID(ctx context.Context, provider, merchantTransID string) (*models.PaymentSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, session := range r.sessions {
		if session.ProviderID != provider {
			continue
		}
		if session.ID.String() == merchantTransID {
			copied := session
			return &copied, nil
		}
		data, err := session.DecodeData()
		if err == nil && data.MerchantTransID != "" && data.MerchantTransID == merchantTransID {
			copied := session
			return &copied, nil
		}
	}
	return nil, services.ErrSessionNotFound
}

func (r *fakeSessionRepo) FindByTransactionID(ctx context.Context, provider, transactionID string) (*models.PaymentSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, session := range r.sessions {
		if session.ProviderID != provider {
			continue
		}
		data, err := session.DecodeData()
		if err == nil && data.TransactionID != "" && data.TransactionID == transactionID {
			copied := session
			return &copied, nil
		}
	}
	return nil, services.ErrSessionNotFound
}

func (r *fakeSessionRepo) FindByCreateTimeRange(ctx context.Context, provider string, from, to int64) ([]models.PaymentSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []models.PaymentSession
	for _, session := range r.sessions {
		if session.ProviderID != provider {
			continue
		}
		data, err := session.DecodeData()
		if err != nil {
			continue
		}
		if data.CreateTime >= from && data.CreateTime <= to {
			result = append(result, session)
		}
	}
	return result, nil
}

func (r *fakeSessionRepo) Save(ctx context.Context, session *models.PaymentSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[session.ID]; !ok {
		return services.ErrSessionNotFound
	}
	r.sessions[session.ID] = *session
	return nil
}

func (r *fakeSessionRepo) ListSessions(ctx context.Context, filter services.SessionListFilter, limit, offset int) ([]models.PaymentSession, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []models.PaymentSession
	for _, session := range r.sessions {
		if filter.Provider != "" && session.ProviderID != filter.Provider {
			continue
		}
		if filter.Status != "" && session.Status != filter.Status {
			continue
		}
		result = append(result, session)
	}
	return result, int64(len(result)), nil
}

// seedSession inserts a session and returns its id.
func (r *fakeSessionRepo) seedSession(session models.PaymentSession) uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()

	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	r.sessions[session.ID] = session
	return session.ID
}

// recordingFiscal counts submissions without doing I/O.
type recordingFiscal struct {
	mu        sync.Mutex
	submitted []uuid.UUID
}

func (f *recordingFiscal) Submit(ctx context.Context, session *models.PaymentSession) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, session.ID)
}

func (f *recordingFiscal) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}
