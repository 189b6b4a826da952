package services

import (
	"context"
	"log"
	"math"
	"strconv"
	"time"

	"github.com/example/rayhan/internal/models"
)

// Click callback actions.
const (
	ClickActionPrepare  = 0
	ClickActionComplete = 1
)

// Click error codes. The protocol always answers HTTP 200; failures travel in
// the error field.
const (
	ClickSuccess                 = 0
	ClickSignCheckFailed         = -1
	ClickIncorrectAmount         = -2
	ClickActionNotFound          = -3
	ClickAlreadyPaid             = -4
	ClickUserDoesNotExist        = -5
	ClickTransactionDoesNotExist = -6
	ClickFailedToUpdateUser      = -7
	ClickErrorInRequest          = -8
	ClickTransactionCancelled    = -9
)

var clickErrorNotes = map[int]string{
	ClickSuccess:                 "Success",
	ClickSignCheckFailed:         "SIGN CHECK FAILED!",
	ClickIncorrectAmount:         "Incorrect parameter amount",
	ClickActionNotFound:          "Action not found",
	ClickAlreadyPaid:             "Already paid",
	ClickUserDoesNotExist:        "User does not exist",
	ClickTransactionDoesNotExist: "Transaction does not exist",
	ClickFailedToUpdateUser:      "Failed to update user",
	ClickErrorInRequest:          "Error in request from click",
	ClickTransactionCancelled:    "Transaction cancelled",
}

// Click posts amount as a decimal string in sums; one tiyin of drift against
// the session total is tolerated.
const clickAmountEpsilon = 0.01

// ClickRequest carries the merged form/query/JSON callback fields in their raw
// textual form, so the sign check hashes exactly what Click sent.
type ClickRequest struct {
	ClickTransID      string
	ServiceID         string
	ClickPaydocID     string
	MerchantTransID   string
	MerchantPrepareID string
	Amount            string
	Action            string
	Error             string
	ErrorNote         string
	SignTime          string
	SignString        string
}

// ClickResponse is the callback answer envelope. MerchantPrepareID and
// MerchantConfirmID are pointers so the field each endpoint doesn't own stays
// absent from the JSON.
type ClickResponse struct {
	ClickTransID      string `json:"click_trans_id"`
	MerchantTransID   string `json:"merchant_trans_id"`
	MerchantPrepareID *int64 `json:"merchant_prepare_id,omitempty"`
	MerchantConfirmID *int64 `json:"merchant_confirm_id,omitempty"`
	Error             int    `json:"error"`
	ErrorNote         string `json:"error_note"`
}

// ClickService implements the two-phase Prepare/Complete callback protocol.
type ClickService struct {
	repo      SessionRepository
	fiscal    FiscalSubmitter
	secretKey string
}

func NewClickService(repo SessionRepository, fiscal FiscalSubmitter, secretKey string) *ClickService {
	return &ClickService{repo: repo, fiscal: fiscal, secretKey: secretKey}
}

// Handle dispatches on the action parameter. Unknown actions answer
// ACTION_NOT_FOUND; every path returns a well-formed envelope.
func (s *ClickService) Handle(ctx context.Context, req ClickRequest) ClickResponse {
	switch req.Action {
	case strconv.Itoa(ClickActionPrepare):
		return s.Prepare(ctx, req)
	case strconv.Itoa(ClickActionComplete):
		return s.Complete(ctx, req)
	default:
		return s.fail(req, ClickActionNotFound)
	}
}

// Prepare reserves the payment: issues a merchant_prepare_id and marks the
// session prepared. A retry with identical parameters returns the same
// prepare id.
func (s *ClickService) Prepare(ctx context.Context, req ClickRequest) ClickResponse {
	// Sign check comes first, before any store lookup.
	if !s.checkSign(req) {
		return s.fail(req, ClickSignCheckFailed)
	}

	session, err := s.repo.FindByMerchantTransID(ctx, models.ProviderClick, req.MerchantTransID)
	if err != nil {
		if err == ErrSessionNotFound {
			return s.fail(req, ClickUserDoesNotExist)
		}
		log.Printf("[Click] prepare: session lookup failed: %v", err)
		return s.fail(req, ClickFailedToUpdateUser)
	}

	data, err := session.DecodeData()
	if err != nil {
		log.Printf("[Click] prepare: bad data blob on session %s: %v", session.ID, err)
		return s.fail(req, ClickFailedToUpdateUser)
	}

	if req.Error != "" && req.Error != "0" {
		return s.cancel(ctx, req, session, data)
	}

	if !s.amountMatches(req.Amount, session.Amount) {
		return s.fail(req, ClickIncorrectAmount)
	}

	if session.Status == models.SessionStatusCaptured {
		return s.fail(req, ClickAlreadyPaid)
	}
	if session.Status == models.SessionStatusCanceled {
		return s.fail(req, ClickTransactionCancelled)
	}

	// At most one non-canceled transaction per merchant_trans_id.
	if data.TransactionID != "" && data.State >= TransactionStatePending {
		if data.TransactionID != req.ClickTransID {
			return s.fail(req, ClickAlreadyPaid)
		}
		// Identical retry: answer with the prepare id issued the first time.
		return ClickResponse{
			ClickTransID:      req.ClickTransID,
			MerchantTransID:   req.MerchantTransID,
			MerchantPrepareID: &data.PrepareID,
			Error:             ClickSuccess,
			ErrorNote:         clickErrorNotes[ClickSuccess],
		}
	}

	now := time.Now().UnixMilli()
	data.TransactionID = req.ClickTransID
	data.State = TransactionStatePending
	data.CreateTime = now
	data.PrepareID = now
	data.MerchantTransID = req.MerchantTransID

	if err := session.EncodeData(data); err != nil {
		return s.fail(req, ClickFailedToUpdateUser)
	}
	session.Status = models.SessionStatusAuthorized
	if err := s.repo.Save(ctx, session); err != nil {
		log.Printf("[Click] prepare: save failed for session %s: %v", session.ID, err)
		return s.fail(req, ClickFailedToUpdateUser)
	}

	return ClickResponse{
		ClickTransID:      req.ClickTransID,
		MerchantTransID:   req.MerchantTransID,
		MerchantPrepareID: &data.PrepareID,
		Error:             ClickSuccess,
		ErrorNote:         clickErrorNotes[ClickSuccess],
	}
}

// Complete finalizes the payment. The echoed merchant_prepare_id must match
// the one issued at Prepare; a mismatch is a hard error regardless of the
// other fields.
func (s *ClickService) Complete(ctx context.Context, req ClickRequest) ClickResponse {
	if !s.checkSign(req) {
		return s.fail(req, ClickSignCheckFailed)
	}

	session, err := s.repo.FindByMerchantTransID(ctx, models.ProviderClick, req.MerchantTransID)
	if err != nil {
		if err == ErrSessionNotFound {
			return s.fail(req, ClickUserDoesNotExist)
		}
		log.Printf("[Click] complete: session lookup failed: %v", err)
		return s.fail(req, ClickFailedToUpdateUser)
	}

	data, err := session.DecodeData()
	if err != nil {
		log.Printf("[Click] complete: bad data blob on session %s: %v", session.ID, err)
		return s.fail(req, ClickFailedToUpdateUser)
	}

	if data.TransactionID == "" || data.TransactionID != req.ClickTransID {
		return s.fail(req, ClickTransactionDoesNotExist)
	}

	prepareID, err := strconv.ParseInt(req.MerchantPrepareID, 10, 64)
	if err != nil || prepareID != data.PrepareID {
		return s.fail(req, ClickTransactionDoesNotExist)
	}

	if req.Error != "" && req.Error != "0" {
		return s.cancel(ctx, req, session, data)
	}

	if data.State < 0 || session.Status == models.SessionStatusCanceled {
		return s.fail(req, ClickTransactionCancelled)
	}

	if !s.amountMatches(req.Amount, session.Amount) {
		return s.fail(req, ClickIncorrectAmount)
	}

	// Identical retry of a completed transaction: same confirm id, success.
	if data.State == TransactionStatePaid {
		return ClickResponse{
			ClickTransID:      req.ClickTransID,
			MerchantTransID:   req.MerchantTransID,
			MerchantConfirmID: &data.ConfirmID,
			Error:             ClickSuccess,
			ErrorNote:         clickErrorNotes[ClickSuccess],
		}
	}

	now := time.Now().UnixMilli()
	data.State = TransactionStatePaid
	data.PerformTime = now
	data.ConfirmID = now

	if err := session.EncodeData(data); err != nil {
		return s.fail(req, ClickFailedToUpdateUser)
	}
	session.Status = models.SessionStatusCaptured
	if err := s.repo.Save(ctx, session); err != nil {
		log.Printf("[Click] complete: save failed for session %s: %v", session.ID, err)
		return s.fail(req, ClickFailedToUpdateUser)
	}

	if s.fiscal != nil {
		captured := *session
		go s.fiscal.Submit(context.Background(), &captured)
	}

	return ClickResponse{
		ClickTransID:      req.ClickTransID,
		MerchantTransID:   req.MerchantTransID,
		MerchantConfirmID: &data.ConfirmID,
		Error:             ClickSuccess,
		ErrorNote:         clickErrorNotes[ClickSuccess],
	}
}

// cancel handles the external-cancel path signaled by a non-zero error field
// from Click.
func (s *ClickService) cancel(ctx context.Context, req ClickRequest, session *models.PaymentSession, data models.SessionData) ClickResponse {
	if data.State > 0 {
		now := time.Now().UnixMilli()
		data.State = -1 * data.State
		data.CancelTime = now

		if err := session.EncodeData(data); err != nil {
			return s.fail(req, ClickFailedToUpdateUser)
		}
		session.Status = models.SessionStatusCanceled
		if err := s.repo.Save(ctx, session); err != nil {
			log.Printf("[Click] cancel: save failed for session %s: %v", session.ID, err)
			return s.fail(req, ClickFailedToUpdateUser)
		}
	}
	return s.fail(req, ClickTransactionCancelled)
}

func (s *ClickService) checkSign(req ClickRequest) bool {
	computed, err := ComputeClickSign(ClickSignParams{
		ClickTransID:      req.ClickTransID,
		ServiceID:         req.ServiceID,
		SecretKey:         s.secretKey,
		MerchantTransID:   req.MerchantTransID,
		MerchantPrepareID: req.MerchantPrepareID,
		Amount:            req.Amount,
		Action:            req.Action,
		SignTime:          req.SignTime,
	})
	if err != nil {
		return false
	}
	return VerifySign(req.SignString, computed)
}

func (s *ClickService) amountMatches(raw string, sessionAmount int64) bool {
	amount, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return false
	}
	return math.Abs(amount-float64(sessionAmount)/100) < clickAmountEpsilon
}

func (s *ClickService) fail(req ClickRequest, code int) ClickResponse {
	return ClickResponse{
		ClickTransID:    req.ClickTransID,
		MerchantTransID: req.MerchantTransID,
		Error:           code,
		ErrorNote:       clickErrorNotes[code],
	}
}
