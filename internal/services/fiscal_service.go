package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/example/rayhan/internal/models"
)

// FiscalSubmitter is the side channel the protocol adapters notify after a
// capture. Implementations must never fail the payment path.
type FiscalSubmitter interface {
	Submit(ctx context.Context, session *models.PaymentSession)
}

// ReceiptItem is one fiscal receipt line. Price is the total line amount in
// tiyin, not the unit price.
type ReceiptItem struct {
	Title       string `json:"title"`
	Price       int64  `json:"price"`
	Count       int    `json:"count"`
	Code        string `json:"code"`
	PackageCode string `json:"package_code"`
	VATPercent  int    `json:"vat_percent"`
}

// ReceiptShipping is the delivery pseudo-line of a receipt.
type ReceiptShipping struct {
	Title string `json:"title"`
	Price int64  `json:"price"`
}

// ReceiptDetail is the receipt body shared by fiscal submission and the
// Payme CheckPerformTransaction detail object.
type ReceiptDetail struct {
	ReceiptType int              `json:"receipt_type"`
	Shipping    *ReceiptShipping `json:"shipping,omitempty"`
	Items       []ReceiptItem    `json:"items"`
}

// BuildReceiptDetail assembles receipt lines from the cart payload so that the
// line amounts sum to total exactly. The integer remainder goes to shipping
// when present, otherwise to the last item.
func BuildReceiptDetail(payload models.OrderPayload, total int64) *ReceiptDetail {
	detail := &ReceiptDetail{}

	var sum int64
	for _, line := range payload.Items {
		price := line.Price * int64(line.Count)
		sum += price
		detail.Items = append(detail.Items, ReceiptItem{
			Title:       line.Title,
			Price:       price,
			Count:       line.Count,
			Code:        line.Code,
			PackageCode: line.PackageCode,
			VATPercent:  line.VATPercent,
		})
	}

	if payload.ShippingPrice > 0 || payload.ShippingTitle != "" {
		title := payload.ShippingTitle
		if title == "" {
			title = "Delivery"
		}
		detail.Shipping = &ReceiptShipping{Title: title, Price: payload.ShippingPrice}
		sum += payload.ShippingPrice
	}

	remainder := total - sum
	if remainder != 0 {
		if detail.Shipping != nil {
			detail.Shipping.Price += remainder
		} else if n := len(detail.Items); n > 0 {
			detail.Items[n-1].Price += remainder
		}
	}

	return detail
}

// FiscalService submits tax receipts to the processor's fiscal API after a
// successful capture. Failures are logged and swallowed: fiscalization never
// blocks or reverses an authorized payment.
type FiscalService struct {
	baseURL string
	userID  string
	secret  string
	enabled bool
	client  *http.Client
}

func NewFiscalService(baseURL, userID, secret string, enabled bool) *FiscalService {
	return &FiscalService{
		baseURL: strings.TrimRight(baseURL, "/"),
		userID:  userID,
		secret:  secret,
		enabled: enabled,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type fiscalReceiptRequest struct {
	SessionID   string           `json:"session_id"`
	Amount      int64            `json:"amount"`
	ReceiptType int              `json:"receipt_type"`
	Shipping    *ReceiptShipping `json:"shipping,omitempty"`
	Items       []ReceiptItem    `json:"items"`
}

// Submit builds the receipt from the session's cart payload and posts it,
// retrying once with a refreshed auth header when the processor rejects the
// first one.
func (s *FiscalService) Submit(ctx context.Context, session *models.PaymentSession) {
	if !s.enabled {
		return
	}

	payload, err := session.DecodeOrderDetails()
	if err != nil {
		log.Printf("[Fiscal] bad order details on session %s: %v", session.ID, err)
		return
	}
	if len(payload.Items) == 0 {
		log.Printf("[Fiscal] session %s has no receipt lines, skipping", session.ID)
		return
	}

	detail := BuildReceiptDetail(payload, session.Amount)
	body := fiscalReceiptRequest{
		SessionID:   session.ID.String(),
		Amount:      session.Amount,
		ReceiptType: detail.ReceiptType,
		Shipping:    detail.Shipping,
		Items:       detail.Items,
	}

	status, err := s.post(ctx, body)
	if err == nil && status == http.StatusUnauthorized {
		// Short-lived credential: recompute the header and try once more.
		status, err = s.post(ctx, body)
	}
	if err != nil {
		log.Printf("[Fiscal] receipt submission failed for session %s: %v", session.ID, err)
		return
	}
	if status < 200 || status >= 300 {
		log.Printf("[Fiscal] receipt rejected for session %s: status %d", session.ID, status)
		return
	}

	log.Printf("[Fiscal] receipt submitted for session %s", session.ID)
}

// Warmup verifies the fiscal endpoint is reachable at startup.
func (s *FiscalService) Warmup(ctx context.Context) error {
	if !s.enabled {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api/ping", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Auth", ComputeFiscalAuthHeader(s.userID, s.secret, time.Now().Unix()))

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("fiscal ping: status %d", resp.StatusCode)
	}
	return nil
}

func (s *FiscalService) post(ctx context.Context, body fiscalReceiptRequest) (int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("fiscal request marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/receipts", bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("fiscal request build: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Auth", ComputeFiscalAuthHeader(s.userID, s.secret, time.Now().Unix()))

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fiscal request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}
