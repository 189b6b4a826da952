package services

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/example/rayhan/internal/models"
)

// Payme transaction states stored in the session data blob.
const (
	TransactionStatePaid            = 2
	TransactionStatePending         = 1
	TransactionStatePendingCanceled = -1
	TransactionStatePaidCanceled    = -2
)

// A pending transaction older than this is canceled with reason 4 on the next
// call that touches it.
const paymePendingTimeout = 12 * time.Minute

const cancelReasonTimeout = 4

// PaymeErrorInfo describes a Payme-compatible error.
type PaymeErrorInfo struct {
	Name    string
	Code    int
	Message map[string]string
}

var (
	PaymeErrorInvalidAmount = PaymeErrorInfo{
		Name: "InvalidAmount",
		Code: -31001,
		Message: map[string]string{
			"uz": "Noto'g'ri summa",
			"ru": "Недопустимая сумма",
			"en": "Invalid amount",
		},
	}
	PaymeErrorInvalidAccount = PaymeErrorInfo{
		Name: "InvalidAccount",
		Code: -31050,
		Message: map[string]string{
			"uz": "Buyurtma topilmadi",
			"ru": "Заказ не найден",
			"en": "Order not found",
		},
	}
	PaymeErrorCantDoOperation = PaymeErrorInfo{
		Name: "CantDoOperation",
		Code: -31008,
		Message: map[string]string{
			"uz": "Biz operatsiyani bajara olmaymiz",
			"ru": "Мы не можем сделать операцию",
			"en": "We can't do operation",
		},
	}
	PaymeErrorTransactionNotFound = PaymeErrorInfo{
		Name: "TransactionNotFound",
		Code: -31003,
		Message: map[string]string{
			"uz": "Tranzaktsiya topilmadi",
			"ru": "Транзакция не найдена",
			"en": "Transaction not found",
		},
	}
	PaymeErrorAlreadyDone = PaymeErrorInfo{
		Name: "AlreadyDone",
		Code: -31008,
		Message: map[string]string{
			"uz": "Mahsulot uchun to'lov qilingan",
			"ru": "Оплачено за товар",
			"en": "Paid for the product",
		},
	}
	PaymeErrorInvalidAuthorization = PaymeErrorInfo{
		Name: "InvalidAuthorization",
		Code: -32504,
		Message: map[string]string{
			"uz": "Avtorizatsiya yaroqsiz",
			"ru": "Авторизация недействительна",
			"en": "Authorization invalid",
		},
	}
	PaymeErrorInvalidJSONRPC = PaymeErrorInfo{
		Name: "InvalidJSONRPCObject",
		Code: -32600,
		Message: map[string]string{
			"uz": "JSON-RPC obyekt yaroqsiz",
			"ru": "Недопустимый JSON-RPC объект",
			"en": "Invalid JSON-RPC object",
		},
	}
	PaymeErrorMethodNotFound = PaymeErrorInfo{
		Name: "MethodNotFound",
		Code: -32601,
		Message: map[string]string{
			"uz": "Metod topilmadi",
			"ru": "Метод не найден",
			"en": "Method not found",
		},
	}
	PaymeErrorInternal = PaymeErrorInfo{
		Name: "InternalError",
		Code: -32400,
		Message: map[string]string{
			"uz": "Ichki xatolik",
			"ru": "Внутренняя ошибка",
			"en": "Internal error",
		},
	}
)

// TransactionError is a structured Payme transaction error carried back to the
// route boundary and serialized into the JSON-RPC error envelope.
type TransactionError struct {
	Info PaymeErrorInfo
	ID   any
	Data any
}

func (e *TransactionError) Error() string {
	return e.Info.Name
}

// PaymeService implements the JSON-RPC method semantics on top of the session
// repository.
type PaymeService struct {
	repo   SessionRepository
	fiscal FiscalSubmitter
}

func NewPaymeService(repo SessionRepository, fiscal FiscalSubmitter) *PaymeService {
	return &PaymeService{repo: repo, fiscal: fiscal}
}

type PaymeAccount struct {
	OrderID string `json:"order_id"`
}

type CheckPerformParams struct {
	Amount  int64        `json:"amount"`
	Account PaymeAccount `json:"account"`
}

type CheckTransactionParams struct {
	ID any `json:"id"`
}

type CreateTransactionParams struct {
	Account PaymeAccount `json:"account"`
	Time    int64        `json:"time"`
	Amount  int64        `json:"amount"`
	ID      string       `json:"id"`
}

type PerformTransactionParams struct {
	ID string `json:"id"`
}

type CancelTransactionParams struct {
	ID     string `json:"id"`
	Reason int    `json:"reason"`
}

type StatementParams struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

type CheckPerformResult struct {
	Allow  bool           `json:"allow"`
	Detail *ReceiptDetail `json:"detail,omitempty"`
}

type CreateTransactionResult struct {
	CreateTime  int64  `json:"create_time"`
	Transaction string `json:"transaction"`
	State       int    `json:"state"`
}

type CheckTransactionResult struct {
	CreateTime  int64  `json:"create_time"`
	PerformTime int64  `json:"perform_time"`
	CancelTime  int64  `json:"cancel_time"`
	Transaction string `json:"transaction"`
	State       int    `json:"state"`
	Reason      *int   `json:"reason"`
}

type PerformTransactionResult struct {
	PerformTime int64  `json:"perform_time"`
	Transaction string `json:"transaction"`
	State       int    `json:"state"`
}

type CancelTransactionResult struct {
	CancelTime  int64  `json:"cancel_time"`
	Transaction string `json:"transaction"`
	State       int    `json:"state"`
}

type StatementTransaction struct {
	Time        int64        `json:"time"`
	Amount      int64        `json:"amount"`
	Account     PaymeAccount `json:"account"`
	CreateTime  int64        `json:"create_time"`
	PerformTime int64        `json:"perform_time"`
	CancelTime  int64        `json:"cancel_time"`
	Transaction string       `json:"transaction"`
	State       int          `json:"state"`
	Reason      *int         `json:"reason"`
}

// CheckPerformTransaction validates that the order exists, is payable and the
// amount matches, returning the receipt detail for the processor's
// confirmation UI.
func (s *PaymeService) CheckPerformTransaction(ctx context.Context, params CheckPerformParams, id any) (*CheckPerformResult, error) {
	session, err := s.findPayableSession(ctx, params.Account.OrderID, id)
	if err != nil {
		return nil, err
	}

	if params.Amount != session.Amount {
		return nil, &TransactionError{Info: PaymeErrorInvalidAmount, ID: id}
	}

	payload, err := session.DecodeOrderDetails()
	if err != nil {
		return nil, err
	}

	return &CheckPerformResult{
		Allow:  true,
		Detail: BuildReceiptDetail(payload, session.Amount),
	}, nil
}

// CheckTransaction returns transaction state by transaction id. Pure read.
func (s *PaymeService) CheckTransaction(ctx context.Context, params CheckTransactionParams, id any) (*CheckTransactionResult, error) {
	var lookupID string
	switch v := params.ID.(type) {
	case string:
		lookupID = v
	case float64:
		lookupID = strconv.FormatInt(int64(v), 10)
	default:
		return nil, &TransactionError{Info: PaymeErrorTransactionNotFound, ID: id}
	}

	_, data, err := s.findTransaction(ctx, lookupID, id)
	if err != nil {
		return nil, err
	}

	var reason *int
	if data.Reason != nil && *data.Reason != 0 {
		reason = data.Reason
	}

	return &CheckTransactionResult{
		CreateTime:  data.CreateTime,
		PerformTime: data.PerformTime,
		CancelTime:  data.CancelTime,
		Transaction: data.TransactionID,
		State:       data.State,
		Reason:      reason,
	}, nil
}

// CreateTransaction creates or idempotently reuses a pending transaction for
// the given order. A retry with identical parameters returns the original
// create_time; a second transaction for a busy account is refused.
func (s *PaymeService) CreateTransaction(ctx context.Context, params CreateTransactionParams, id any) (*CreateTransactionResult, error) {
	existing, data, err := s.findTransaction(ctx, params.ID, id)
	if err == nil {
		if data.State != TransactionStatePending {
			return nil, &TransactionError{Info: PaymeErrorCantDoOperation, ID: id}
		}
		if expired, err := s.cancelIfTimedOut(ctx, existing, data, id); err != nil {
			return nil, err
		} else if expired {
			return nil, &TransactionError{Info: PaymeErrorCantDoOperation, ID: id}
		}
		if params.Amount != existing.Amount {
			return nil, &TransactionError{Info: PaymeErrorCantDoOperation, ID: id}
		}
		return &CreateTransactionResult{
			CreateTime:  data.CreateTime,
			Transaction: data.TransactionID,
			State:       data.State,
		}, nil
	}
	if txErr, ok := err.(*TransactionError); !ok || txErr.Info.Code != PaymeErrorTransactionNotFound.Code {
		return nil, err
	}

	session, err := s.findPayableSession(ctx, params.Account.OrderID, id)
	if err != nil {
		return nil, err
	}

	if params.Amount != session.Amount {
		return nil, &TransactionError{Info: PaymeErrorInvalidAmount, ID: id}
	}

	data, err = session.DecodeData()
	if err != nil {
		return nil, err
	}

	// One active transaction per account at a time.
	if data.TransactionID != "" && data.TransactionID != params.ID && data.State >= TransactionStatePending {
		return nil, &TransactionError{Info: PaymeErrorCantDoOperation, ID: id}
	}

	data.TransactionID = params.ID
	data.State = TransactionStatePending
	data.CreateTime = params.Time
	data.PerformTime = 0
	data.CancelTime = 0
	data.Reason = nil

	if err := session.EncodeData(data); err != nil {
		return nil, err
	}
	session.Status = models.SessionStatusPending
	if err := s.repo.Save(ctx, session); err != nil {
		return nil, err
	}

	return &CreateTransactionResult{
		CreateTime:  params.Time,
		Transaction: params.ID,
		State:       TransactionStatePending,
	}, nil
}

// PerformTransaction marks a pending transaction as paid, stamping
// perform_time. Repeat calls on a paid transaction return the original
// perform_time.
func (s *PaymeService) PerformTransaction(ctx context.Context, params PerformTransactionParams, id any) (*PerformTransactionResult, error) {
	session, data, err := s.findTransaction(ctx, params.ID, id)
	if err != nil {
		return nil, err
	}

	if data.State == TransactionStatePaid {
		return &PerformTransactionResult{
			PerformTime: data.PerformTime,
			Transaction: data.TransactionID,
			State:       TransactionStatePaid,
		}, nil
	}

	if data.State != TransactionStatePending {
		return nil, &TransactionError{Info: PaymeErrorCantDoOperation, ID: id}
	}

	if expired, err := s.cancelIfTimedOut(ctx, session, data, id); err != nil {
		return nil, err
	} else if expired {
		return nil, &TransactionError{Info: PaymeErrorCantDoOperation, ID: id}
	}

	currentTime := time.Now().UnixMilli()
	data.State = TransactionStatePaid
	data.PerformTime = currentTime

	if err := session.EncodeData(data); err != nil {
		return nil, err
	}
	session.Status = models.SessionStatusCaptured
	if err := s.repo.Save(ctx, session); err != nil {
		return nil, err
	}

	if s.fiscal != nil {
		captured := *session
		go s.fiscal.Submit(context.Background(), &captured)
	}

	return &PerformTransactionResult{
		PerformTime: currentTime,
		Transaction: data.TransactionID,
		State:       TransactionStatePaid,
	}, nil
}

// CancelTransaction cancels an existing transaction: state -1 before perform,
// -2 after (refund semantics). Repeat cancels return the original cancel_time.
func (s *PaymeService) CancelTransaction(ctx context.Context, params CancelTransactionParams, id any) (*CancelTransactionResult, error) {
	session, data, err := s.findTransaction(ctx, params.ID, id)
	if err != nil {
		return nil, err
	}

	if data.State > 0 {
		currentTime := time.Now().UnixMilli()
		data.State = -1 * data.State
		data.Reason = &params.Reason
		data.CancelTime = currentTime

		if err := session.EncodeData(data); err != nil {
			return nil, err
		}
		session.Status = models.SessionStatusCanceled
		if err := s.repo.Save(ctx, session); err != nil {
			return nil, err
		}
	}

	return &CancelTransactionResult{
		CancelTime:  data.CancelTime,
		Transaction: data.TransactionID,
		State:       data.State,
	}, nil
}

// GetStatement lists transactions created within [from, to] for settlement
// reconciliation. Read-only.
func (s *PaymeService) GetStatement(ctx context.Context, params StatementParams) ([]StatementTransaction, error) {
	sessions, err := s.repo.FindByCreateTimeRange(ctx, models.ProviderPayme, params.From, params.To)
	if err != nil {
		return nil, err
	}

	result := make([]StatementTransaction, 0, len(sessions))
	for i := range sessions {
		session := &sessions[i]
		data, err := session.DecodeData()
		if err != nil {
			log.Printf("[Payme] statement: skipping session %s with bad data blob: %v", session.ID, err)
			continue
		}
		if data.TransactionID == "" {
			continue
		}
		result = append(result, StatementTransaction{
			Time:        data.CreateTime,
			Amount:      session.Amount,
			Account:     PaymeAccount{OrderID: session.ID.String()},
			CreateTime:  data.CreateTime,
			PerformTime: data.PerformTime,
			CancelTime:  data.CancelTime,
			Transaction: data.TransactionID,
			State:       data.State,
			Reason:      data.Reason,
		})
	}

	return result, nil
}

func (s *PaymeService) findPayableSession(ctx context.Context, orderRef string, id any) (*models.PaymentSession, error) {
	session, err := s.repo.FindByMerchantTransID(ctx, models.ProviderPayme, orderRef)
	if err != nil {
		if err == ErrSessionNotFound {
			return nil, &TransactionError{Info: PaymeErrorInvalidAccount, ID: id}
		}
		return nil, err
	}

	switch session.Status {
	case models.SessionStatusCaptured:
		return nil, &TransactionError{Info: PaymeErrorAlreadyDone, ID: id}
	case models.SessionStatusCanceled:
		return nil, &TransactionError{Info: PaymeErrorCantDoOperation, ID: id}
	}

	return session, nil
}

func (s *PaymeService) findTransaction(ctx context.Context, transactionID string, id any) (*models.PaymentSession, models.SessionData, error) {
	session, err := s.repo.FindByTransactionID(ctx, models.ProviderPayme, transactionID)
	if err != nil {
		if err == ErrSessionNotFound {
			return nil, models.SessionData{}, &TransactionError{Info: PaymeErrorTransactionNotFound, ID: id}
		}
		return nil, models.SessionData{}, err
	}

	data, err := session.DecodeData()
	if err != nil {
		return nil, models.SessionData{}, err
	}

	return session, data, nil
}

func (s *PaymeService) cancelIfTimedOut(ctx context.Context, session *models.PaymentSession, data models.SessionData, id any) (bool, error) {
	currentTime := time.Now().UnixMilli()
	if currentTime-data.CreateTime < paymePendingTimeout.Milliseconds() {
		return false, nil
	}

	reason := cancelReasonTimeout
	data.State = TransactionStatePendingCanceled
	data.Reason = &reason
	data.CancelTime = currentTime

	if err := session.EncodeData(data); err != nil {
		return false, err
	}
	session.Status = models.SessionStatusCanceled
	if err := s.repo.Save(ctx, session); err != nil {
		return false, err
	}

	return true, nil
}
