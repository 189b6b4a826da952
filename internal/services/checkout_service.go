package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/example/rayhan/internal/models"
)

var (
	ErrUnsupportedProvider = errors.New("unsupported payment provider")
	ErrInvalidTransition   = errors.New("invalid payment state transition")
)

// CheckoutConfig carries the merchant identifiers needed to derive hosted
// checkout URLs without a provider round-trip.
type CheckoutConfig struct {
	PaymeMerchantID  string
	PaymeCheckoutURL string
	ClickServiceID   string
	ClickMerchantID  string
	ClickCheckoutURL string
}

// CheckoutService is the provider-facing lifecycle adapter consumed by the
// order platform: initiate, update, capture, cancel, refund, status. It never
// decides when an order is placed, only what state the payment is in.
type CheckoutService struct {
	repo SessionRepository
	cfg  CheckoutConfig
}

func NewCheckoutService(repo SessionRepository, cfg CheckoutConfig) *CheckoutService {
	return &CheckoutService{repo: repo, cfg: cfg}
}

// InitiateParams describes a new checkout.
type InitiateParams struct {
	Provider     string
	UserID       string
	Amount       int64
	CurrencyCode string
	ReturnURL    string
	OrderDetails json.RawMessage
}

// InitiateResult is handed back to the order platform.
type InitiateResult struct {
	SessionID  string `json:"session_id"`
	PaymentURL string `json:"payment_url"`
	Status     string `json:"status"`
}

// Initiate creates a pending session and derives the hosted-checkout redirect
// URL deterministically from the merchant identifiers.
func (s *CheckoutService) Initiate(ctx context.Context, params InitiateParams) (*InitiateResult, error) {
	switch params.Provider {
	case models.ProviderClick, models.ProviderClickPayByCard, models.ProviderPayme, models.ProviderManual:
	default:
		return nil, ErrUnsupportedProvider
	}

	if params.Amount <= 0 {
		return nil, errors.New("amount must be positive")
	}

	currency := params.CurrencyCode
	if currency == "" {
		currency = "UZS"
	}

	var userIDPtr *uuid.UUID
	if params.UserID != "" {
		if id, err := uuid.Parse(params.UserID); err == nil {
			userIDPtr = &id
		}
	}

	session := &models.PaymentSession{
		ProviderID:   params.Provider,
		UserID:       userIDPtr,
		Amount:       params.Amount,
		CurrencyCode: currency,
		Status:       models.SessionStatusPending,
		OrderDetails: params.OrderDetails,
	}
	if err := s.repo.Create(ctx, session); err != nil {
		return nil, err
	}

	data := models.SessionData{MerchantTransID: session.ID.String()}
	data.PaymentURL = s.paymentURL(params.Provider, session.ID.String(), params.Amount, params.ReturnURL)

	if err := session.EncodeData(data); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, session); err != nil {
		return nil, err
	}

	return &InitiateResult{
		SessionID:  session.ID.String(),
		PaymentURL: data.PaymentURL,
		Status:     session.Status,
	}, nil
}

// Update changes the amount of a still-pending session and regenerates its
// payment URL. Sessions the customer already paid for cannot be repriced.
func (s *CheckoutService) Update(ctx context.Context, sessionID string, amount int64, returnURL string) (*InitiateResult, error) {
	if amount <= 0 {
		return nil, errors.New("amount must be positive")
	}

	session, err := s.repo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if session.Status != models.SessionStatusPending {
		return nil, ErrInvalidTransition
	}

	data, err := session.DecodeData()
	if err != nil {
		return nil, err
	}

	session.Amount = amount
	data.PaymentURL = s.paymentURL(session.ProviderID, session.ID.String(), amount, returnURL)

	if err := session.EncodeData(data); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, session); err != nil {
		return nil, err
	}

	return &InitiateResult{
		SessionID:  session.ID.String(),
		PaymentURL: data.PaymentURL,
		Status:     session.Status,
	}, nil
}

// GetStatus maps the session to the small enumeration the order platform's
// own placement workflow consumes.
func (s *CheckoutService) GetStatus(ctx context.Context, sessionID string) (string, error) {
	session, err := s.repo.FindByID(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return session.Status, nil
}

// Capture finalizes an authorized payment (manual provider flows).
func (s *CheckoutService) Capture(ctx context.Context, sessionID string) error {
	return s.transition(ctx, sessionID, models.SessionStatusCaptured, func(status string) bool {
		return status == models.SessionStatusAuthorized
	})
}

// Cancel voids a payment before capture. Cancellation is a status transition,
// never a removal.
func (s *CheckoutService) Cancel(ctx context.Context, sessionID string) error {
	return s.transition(ctx, sessionID, models.SessionStatusCanceled, func(status string) bool {
		return status == models.SessionStatusPending || status == models.SessionStatusAuthorized
	})
}

// Refund reverses a captured payment.
func (s *CheckoutService) Refund(ctx context.Context, sessionID string) error {
	return s.transition(ctx, sessionID, models.SessionStatusCanceled, func(status string) bool {
		return status == models.SessionStatusCaptured
	})
}

func (s *CheckoutService) transition(ctx context.Context, sessionID, target string, allowed func(string) bool) error {
	session, err := s.repo.FindByID(ctx, sessionID)
	if err != nil {
		return err
	}

	if !allowed(session.Status) {
		return ErrInvalidTransition
	}

	session.Status = target
	return s.repo.Save(ctx, session)
}

func (s *CheckoutService) paymentURL(provider, sessionID string, amount int64, returnURL string) string {
	switch provider {
	case models.ProviderPayme:
		payload := fmt.Sprintf("m=%s;ac.order_id=%s;a=%d", s.cfg.PaymeMerchantID, sessionID, amount)
		if returnURL != "" {
			payload = fmt.Sprintf("%s;c=%s", payload, strings.TrimRight(returnURL, "/"))
		}
		encoded := base64.StdEncoding.EncodeToString([]byte(payload))
		return strings.TrimRight(s.cfg.PaymeCheckoutURL, "/") + "/" + encoded
	case models.ProviderClick, models.ProviderClickPayByCard:
		query := url.Values{}
		query.Set("service_id", s.cfg.ClickServiceID)
		query.Set("merchant_id", s.cfg.ClickMerchantID)
		query.Set("amount", fmt.Sprintf("%.2f", float64(amount)/100))
		query.Set("transaction_param", sessionID)
		if returnURL != "" {
			query.Set("return_url", returnURL)
		}
		return s.cfg.ClickCheckoutURL + "?" + query.Encode()
	default:
		return ""
	}
}
