package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/rayhan/internal/models"
)

// ErrSessionNotFound signals that no payment session matches the lookup key.
var ErrSessionNotFound = errors.New("payment session not found")

// SessionListFilter narrows ListSessions for back-office queries.
type SessionListFilter struct {
	Provider string
	Status   string
	UserID   string
}

// SessionRepository is the stable contract over the order platform's payment
// session store. The protocol adapters depend on this interface only; the GORM
// implementation below is the production binding.
type SessionRepository interface {
	Create(ctx context.Context, session *models.PaymentSession) error
	FindByID(ctx context.Context, id string) (*models.PaymentSession, error)
	// FindByMerchantTransID resolves the store's own correlation key: the
	// session id when it parses as one, otherwise the merchant_trans_id
	// recorded in the data blob.
	FindByMerchantTransID(ctx context.Context, provider, merchantTransID string) (*models.PaymentSession, error)
	// FindByTransactionID resolves the processor-issued transaction id.
	FindByTransactionID(ctx context.Context, provider, transactionID string) (*models.PaymentSession, error)
	// FindByCreateTimeRange lists sessions whose transaction create_time falls
	// within [from, to], for statement reconciliation.
	FindByCreateTimeRange(ctx context.Context, provider string, from, to int64) ([]models.PaymentSession, error)
	Save(ctx context.Context, session *models.PaymentSession) error
	ListSessions(ctx context.Context, filter SessionListFilter, limit, offset int) ([]models.PaymentSession, int64, error)
}

// GormSessionRepository implements SessionRepository on the shared Postgres
// store, reading adapter state out of the jsonb data column.
type GormSessionRepository struct {
	db *gorm.DB
}

func NewGormSessionRepository(db *gorm.DB) *GormSessionRepository {
	return &GormSessionRepository{db: db}
}

func (r *GormSessionRepository) Create(ctx context.Context, session *models.PaymentSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *GormSessionRepository) FindByID(ctx context.Context, id string) (*models.PaymentSession, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrSessionNotFound
	}

	var session models.PaymentSession
	if err := r.db.WithContext(ctx).
		Where("id = ?", parsed).
		First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

func (r *GormSessionRepository) FindByMerchantTransID(ctx context.Context, provider, merchantTransID string) (*models.PaymentSession, error) {
	db := r.db.WithContext(ctx).Where("provider_id = ?", provider)

	if parsed, err := uuid.Parse(merchantTransID); err == nil {
		var session models.PaymentSession
		if err := db.Where("id = ?", parsed).First(&session).Error; err == nil {
			return &session, nil
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	var session models.PaymentSession
	if err := r.db.WithContext(ctx).
		Where("provider_id = ? AND data->>'merchant_trans_id' = ?", provider, merchantTransID).
		First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

func (r *GormSessionRepository) FindByTransactionID(ctx context.Context, provider, transactionID string) (*models.PaymentSession, error) {
	var session models.PaymentSession
	if err := r.db.WithContext(ctx).
		Where("provider_id = ? AND data->>'transaction_id' = ?", provider, transactionID).
		First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

func (r *GormSessionRepository) FindByCreateTimeRange(ctx context.Context, provider string, from, to int64) ([]models.PaymentSession, error) {
	var sessions []models.PaymentSession
	if err := r.db.WithContext(ctx).
		Where("provider_id = ? AND (data->>'create_time')::bigint >= ? AND (data->>'create_time')::bigint <= ?", provider, from, to).
		Order("created_at asc").
		Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *GormSessionRepository) Save(ctx context.Context, session *models.PaymentSession) error {
	return r.db.WithContext(ctx).
		Model(&models.PaymentSession{}).
		Where("id = ?", session.ID).
		Updates(map[string]any{
			"amount": session.Amount,
			"status": session.Status,
			"data":   session.Data,
		}).Error
}

func (r *GormSessionRepository) ListSessions(ctx context.Context, filter SessionListFilter, limit, offset int) ([]models.PaymentSession, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.PaymentSession{})

	if filter.Provider != "" {
		query = query.Where("provider_id = ?", filter.Provider)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.UserID != "" {
		parsed, err := uuid.Parse(filter.UserID)
		if err != nil {
			return nil, 0, ErrSessionNotFound
		}
		query = query.Where("user_id = ?", parsed)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var sessions []models.PaymentSession
	if err := query.
		Order("created_at desc").
		Limit(limit).
		Offset(offset).
		Find(&sessions).Error; err != nil {
		return nil, 0, err
	}

	return sessions, total, nil
}
