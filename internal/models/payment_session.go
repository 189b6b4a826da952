package models

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Session statuses exposed to the order platform.
const (
	SessionStatusPending    = "pending"
	SessionStatusAuthorized = "authorized"
	SessionStatusCaptured   = "captured"
	SessionStatusCanceled   = "canceled"
)

// Payment providers that may own a session.
const (
	ProviderClick          = "click"
	ProviderClickPayByCard = "click_pay_by_card"
	ProviderPayme          = "payme"
	ProviderManual         = "manual"
)

// PaymentSession is the order platform's payment record. The protocol layer
// owns only the Data blob and the Status column; everything else is written
// once at checkout initiation.
type PaymentSession struct {
	BaseModel
	ProviderID   string     `gorm:"column:provider_id;index" json:"provider_id"`
	UserID       *uuid.UUID `gorm:"type:uuid;index" json:"user_id"`
	Amount       int64      `json:"amount"`
	CurrencyCode string     `json:"currency_code"`
	Status       string     `gorm:"index" json:"status"`
	Data         []byte     `gorm:"type:jsonb" json:"data"`
	OrderDetails []byte     `gorm:"type:jsonb" json:"order_details"`
}

// SessionData is the adapter-private state serialized into PaymentSession.Data.
// One session holds at most one non-canceled transaction at a time.
type SessionData struct {
	TransactionID   string `json:"transaction_id,omitempty"`
	State           int    `json:"status,omitempty"`
	CreateTime      int64  `json:"create_time,omitempty"`
	PerformTime     int64  `json:"perform_time,omitempty"`
	CancelTime      int64  `json:"cancel_time,omitempty"`
	Reason          *int   `json:"reason,omitempty"`
	PaymentURL      string `json:"payment_url,omitempty"`
	MerchantTransID string `json:"merchant_trans_id,omitempty"`
	PrepareID       int64  `json:"merchant_prepare_id,omitempty"`
	ConfirmID       int64  `json:"merchant_confirm_id,omitempty"`
}

// DecodeData unmarshals the adapter-private blob. An empty blob decodes to the
// zero value.
func (s *PaymentSession) DecodeData() (SessionData, error) {
	var data SessionData
	if len(s.Data) == 0 {
		return data, nil
	}
	err := json.Unmarshal(s.Data, &data)
	return data, err
}

// EncodeData serializes the adapter-private blob back onto the session.
func (s *PaymentSession) EncodeData(data SessionData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	s.Data = raw
	return nil
}

// OrderLine is a cart line item carried inside OrderDetails for receipt
// assembly.
type OrderLine struct {
	Title       string `json:"title"`
	Price       int64  `json:"price"`
	Count       int    `json:"count"`
	Code        string `json:"code"`
	PackageCode string `json:"package_code"`
	VATPercent  int    `json:"vat_percent"`
}

// OrderPayload mirrors the cart contents the order platform stores on the
// session at checkout initiation.
type OrderPayload struct {
	Items         []OrderLine `json:"items"`
	ShippingTitle string      `json:"shipping_title,omitempty"`
	ShippingPrice int64       `json:"shipping_price,omitempty"`
}

// DecodeOrderDetails unmarshals the cart payload stored on the session.
func (s *PaymentSession) DecodeOrderDetails() (OrderPayload, error) {
	var payload OrderPayload
	if len(s.OrderDetails) == 0 {
		return payload, nil
	}
	err := json.Unmarshal(s.OrderDetails, &payload)
	return payload, err
}
