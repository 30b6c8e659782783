package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"sacco/internal/broadcast"
	"sacco/internal/domain"
	"sacco/internal/domain/models"
	"sacco/internal/mpesa"
	"sacco/internal/notify"
	"sacco/internal/paystate"
	"sacco/internal/repositories"
	"sacco/internal/utils"
)

// DefaultQueryThrottle is the minimum gap between provider queries for one
// transaction.
const DefaultQueryThrottle = 15 * time.Second

// Provider is the part of the M-Pesa client the reconciler depends on.
type Provider interface {
	STKPush(ctx context.Context, in mpesa.STKRequest) (mpesa.STKResponse, error)
	QueryStatus(ctx context.Context, checkoutRequestID string) (mpesa.QueryResult, error)
}

// PaymentService reconciles provider callbacks and client polling into one
// booking or parcel state. Cache and Throttle are optional; without them
// every poll reaches the provider.
type PaymentService struct {
	Store    repositories.Store
	Provider Provider
	Cache    paystate.StatusCache
	Throttle paystate.Throttle
	Hub      broadcast.Hub
	Notifier notify.Notifier
	Now      func() time.Time
}

type StatusView struct {
	PaymentID         int64  `json:"payment_id"`
	Status            string `json:"status"`
	Message           string `json:"message,omitempty"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
	Throttled         bool   `json:"throttled,omitempty"`
}

type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "already_settled"
	OutcomeUnknown   Outcome = "unknown_transaction"
)

type settlement struct {
	TransactionID string
	Code          int
	Desc          string
	Receipt       string
	Phone         string
	Amount        int64
	Source        string
}

func (s settlement) success() bool { return s.Code == mpesa.ResultSuccess }

func (s PaymentService) now() time.Time { return nowFunc(s.Now) }

// CreateParcelPayment opens the parcel's pending payment, or returns the one
// already open.
func (s PaymentService) CreateParcelPayment(ctx context.Context, actor domain.Actor, parcelID int64) (models.Payment, error) {
	now := s.now()
	var out models.Payment
	err := s.Store.InTx(ctx, func(r repositories.Repository) error {
		parcel, err := r.GetParcelForUpdate(ctx, parcelID)
		if err != nil {
			return err
		}
		if err := owns(actor, parcel.CreatedBy, "parcel"); err != nil {
			return err
		}
		if parcel.PaymentStatus == models.ParcelPaymentPaid {
			return domain.ConflictError{Resource: "parcel", Msg: "parcel already paid"}
		}
		if parcel.Price <= 0 {
			return domain.ValidationError{Field: "price", Msg: "parcel has no price"}
		}

		existing, err := r.GetPendingPaymentForParcel(ctx, parcelID)
		if err == nil {
			out = existing
			return nil
		}
		if !domain.IsNotFound(err) {
			return err
		}

		p := models.Payment{
			ParcelID:  parcelID,
			UserID:    actor.UserID,
			Amount:    parcel.Price,
			Method:    models.MethodPending,
			Status:    models.PaymentPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := r.InsertPayment(ctx, &p); err != nil {
			return err
		}
		if parcel.PaymentStatus == models.ParcelPaymentFailed {
			if err := r.UpdateParcelStatus(ctx, parcelID, parcel.Status, models.ParcelPaymentUnpaid); err != nil {
				return err
			}
		}
		out = p
		return nil
	})
	if err != nil {
		return models.Payment{}, storageErr(err, "failed to open parcel payment")
	}
	return out, nil
}

// InitiatePayment sends an STK push for a pending payment. The provider is
// called outside any transaction; the new transaction id replaces the
// previous attempt's.
func (s PaymentService) InitiatePayment(ctx context.Context, actor domain.Actor, paymentID int64, phone string) (models.Payment, error) {
	p, err := s.Store.GetPayment(ctx, paymentID)
	if err != nil {
		return models.Payment{}, storageErr(err, "failed to load payment")
	}
	if err := owns(actor, p.UserID, "payment"); err != nil {
		return models.Payment{}, err
	}
	if p.Status != models.PaymentPending {
		return models.Payment{}, domain.ConflictError{Resource: "payment", Msg: "payment already settled"}
	}

	ref, desc, defaultPhone, err := s.paymentTarget(ctx, p)
	if err != nil {
		return models.Payment{}, err
	}
	phone = strings.TrimSpace(phone)
	if phone == "" {
		phone = defaultPhone
	}
	msisdn := mpesa.FormatMSISDN(phone)
	if msisdn == "" {
		return models.Payment{}, domain.ValidationError{Field: "phone", Msg: "phone number is required"}
	}

	resp, err := s.Provider.STKPush(ctx, mpesa.STKRequest{
		Phone:            msisdn,
		Amount:           p.Amount,
		AccountReference: ref,
		Description:      desc,
	})
	if err != nil {
		utils.LogEvent("", "payment", "stk_failed", fmt.Sprintf("payment=%d err=%v", paymentID, err))
		return models.Payment{}, providerErr(err)
	}

	now := s.now()
	var out models.Payment
	err = s.Store.InTx(ctx, func(r repositories.Repository) error {
		cur, err := r.GetPaymentForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		if cur.Status != models.PaymentPending {
			return domain.ConflictError{Resource: "payment", Msg: "payment already settled"}
		}
		cur.TransactionID = resp.CheckoutRequestID
		cur.Method = models.MethodMpesaSTK
		cur.PayerPhone = msisdn
		cur.ResultCode = ""
		cur.ResultDesc = ""
		cur.UpdatedAt = now
		if err := r.UpdatePayment(ctx, cur); err != nil {
			return err
		}
		out = cur
		return nil
	})
	if err != nil {
		return models.Payment{}, storageErr(err, "failed to record payment request")
	}
	if s.Cache != nil {
		if err := s.Cache.Invalidate(ctx, paymentID); err != nil {
			log.Printf("[PAYMENT] status cache invalidate payment=%d: %v", paymentID, err)
		}
	}
	utils.LogEvent("", "payment", "stk_sent", fmt.Sprintf("payment=%d checkout=%s", paymentID, resp.CheckoutRequestID))
	return out, nil
}

func (s PaymentService) paymentTarget(ctx context.Context, p models.Payment) (ref, desc, phone string, err error) {
	switch {
	case p.BookingID != 0:
		b, err := s.Store.GetBooking(ctx, p.BookingID)
		if err != nil {
			return "", "", "", storageErr(err, "failed to load booking")
		}
		if b.Status != models.BookingPendingPayment {
			return "", "", "", domain.ConflictError{Resource: "booking", Msg: "booking is no longer awaiting payment"}
		}
		if b.HoldExpired(s.now()) {
			return "", "", "", domain.ConflictError{Resource: "booking", Msg: "seat hold expired, please book again"}
		}
		return b.Reference, "Seat " + b.SeatNumber, b.PassengerPhone, nil
	case p.ParcelID != 0:
		parcel, err := s.Store.GetParcel(ctx, p.ParcelID)
		if err != nil {
			return "", "", "", storageErr(err, "failed to load parcel")
		}
		if parcel.PaymentStatus == models.ParcelPaymentPaid {
			return "", "", "", domain.ConflictError{Resource: "parcel", Msg: "parcel already paid"}
		}
		return parcel.RefCode, "Parcel " + parcel.RefCode, parcel.SenderPhone, nil
	}
	return "", "", "", domain.InternalError{Msg: "payment has no booking or parcel"}
}

// HandleWebhook applies a provider callback. Replays of a settled
// transaction and callbacks for superseded attempts are no-ops.
func (s PaymentService) HandleWebhook(ctx context.Context, cb mpesa.Callback) (Outcome, error) {
	_, outcome, err := s.settle(ctx, settlement{
		TransactionID: cb.CheckoutRequestID,
		Code:          cb.ResultCode,
		Desc:          cb.ResultDesc,
		Receipt:       cb.ReceiptNumber,
		Phone:         cb.PhoneNumber,
		Amount:        cb.Amount,
		Source:        "webhook",
	})
	return outcome, err
}

// PollStatus serves client polling. Terminal payments are answered from
// storage, then the status cache, then at most one provider query per
// transaction per throttle window.
func (s PaymentService) PollStatus(ctx context.Context, actor domain.Actor, paymentID int64) (StatusView, error) {
	p, err := s.Store.GetPayment(ctx, paymentID)
	if err != nil {
		return StatusView{}, storageErr(err, "failed to load payment")
	}
	if err := owns(actor, p.UserID, "payment"); err != nil {
		return StatusView{}, err
	}
	if p.Status.Terminal() {
		return viewOf(p), nil
	}

	if s.Cache != nil {
		cached, ok, err := s.Cache.Get(ctx, paymentID)
		if err != nil {
			log.Printf("[PAYMENT] status cache get payment=%d: %v", paymentID, err)
		}
		if ok {
			return StatusView{PaymentID: paymentID, Status: cached.Status, Message: cached.Message}, nil
		}
	}

	if p.TransactionID == "" {
		return StatusView{PaymentID: paymentID, Status: string(p.Status), Message: "Payment has not been requested yet."}, nil
	}

	if s.Throttle != nil {
		ok, wait, err := s.Throttle.Reserve(ctx, p.TransactionID)
		if err != nil {
			log.Printf("[PAYMENT] throttle reserve payment=%d: %v", paymentID, err)
			ok, wait = false, DefaultQueryThrottle
		}
		if !ok {
			return StatusView{
				PaymentID:         paymentID,
				Status:            string(p.Status),
				Message:           "Still waiting for confirmation. Please try again shortly.",
				RetryAfterSeconds: ceilSeconds(wait),
				Throttled:         true,
			}, nil
		}
	}

	res, err := s.Provider.QueryStatus(ctx, p.TransactionID)
	if err != nil {
		utils.LogEvent("", "payment", "query_failed", fmt.Sprintf("payment=%d err=%v", paymentID, err))
		return StatusView{}, queryErr(err)
	}
	if res.Pending {
		view := StatusView{PaymentID: paymentID, Status: string(models.PaymentPending), Message: statusMessage(p)}
		if s.Cache != nil {
			if err := s.Cache.Set(ctx, paymentID, paystate.Status{Status: view.Status, Message: view.Message}); err != nil {
				log.Printf("[PAYMENT] status cache set payment=%d: %v", paymentID, err)
			}
		}
		return view, nil
	}

	settled, outcome, err := s.settle(ctx, settlement{
		TransactionID: p.TransactionID,
		Code:          res.ResultCode,
		Desc:          res.ResultDesc,
		Source:        "poll",
	})
	if err != nil {
		return StatusView{}, err
	}
	if outcome == OutcomeUnknown {
		// A newer attempt replaced this transaction while we were querying.
		cur, err := s.Store.GetPayment(ctx, paymentID)
		if err != nil {
			return StatusView{}, storageErr(err, "failed to load payment")
		}
		return viewOf(cur), nil
	}
	return viewOf(settled), nil
}

// settle applies one provider result under a lock on the payment row. A
// payment that is already terminal is never touched again.
func (s PaymentService) settle(ctx context.Context, in settlement) (models.Payment, Outcome, error) {
	now := s.now()
	var (
		fx      effects
		out     models.Payment
		outcome Outcome
	)
	err := s.Store.InTx(ctx, func(r repositories.Repository) error {
		p, err := r.GetPaymentByTransactionForUpdate(ctx, in.TransactionID)
		if domain.IsNotFound(err) {
			outcome = OutcomeUnknown
			return nil
		}
		if err != nil {
			return err
		}
		if p.Status.Terminal() {
			out, outcome = p, OutcomeDuplicate
			return nil
		}

		p.ResultCode = strconv.Itoa(in.Code)
		p.ResultDesc = in.Desc
		p.UpdatedAt = now
		if in.success() {
			paidAt := now
			p.Status = models.PaymentCompleted
			p.Method = models.MethodMpesa
			p.ReceiptNumber = in.Receipt
			p.PaidAt = &paidAt
			if in.Phone != "" {
				p.PayerPhone = in.Phone
			}
			if in.Amount > 0 && in.Amount != p.Amount {
				log.Printf("[PAYMENT] amount mismatch payment=%d expected=%d got=%d", p.ID, p.Amount, in.Amount)
			}
		} else {
			p.Status = models.PaymentFailed
		}

		switch {
		case p.BookingID != 0:
			err = applyToBooking(ctx, r, &p, now, &fx)
		case p.ParcelID != 0:
			err = applyToParcel(ctx, r, &p, &fx)
		}
		if err != nil {
			return err
		}
		if err := r.UpdatePayment(ctx, p); err != nil {
			return err
		}
		fx.status(p.ID, paystate.Status{Status: string(p.Status), Message: statusMessage(p)})
		out, outcome = p, OutcomeApplied
		return nil
	})
	if err != nil {
		return models.Payment{}, "", storageErr(err, "failed to record payment result")
	}

	fx.fire(ctx, s.Hub, s.Notifier, s.Cache)
	switch outcome {
	case OutcomeUnknown:
		utils.LogEvent("", "payment", "unknown_transaction", fmt.Sprintf("source=%s checkout=%s code=%d", in.Source, in.TransactionID, in.Code))
	default:
		utils.LogEvent("", "payment", string(outcome), fmt.Sprintf("source=%s payment=%d status=%s code=%d", in.Source, out.ID, out.Status, in.Code))
	}
	return out, outcome, nil
}

// applyToBooking moves the booking for a settled payment. Money arriving
// for a booking that is no longer pending is kept aside as refund_pending.
func applyToBooking(ctx context.Context, r repositories.Repository, p *models.Payment, now time.Time, fx *effects) error {
	b, err := r.GetBookingForUpdate(ctx, p.BookingID)
	if err != nil {
		return err
	}
	if b.Status != models.BookingPendingPayment {
		if p.Status == models.PaymentCompleted {
			p.Status = models.PaymentRefundPending
			log.Printf("[PAYMENT] payment=%d settled for booking=%d in status %s, refund pending", p.ID, b.ID, b.Status)
		}
		return nil
	}

	if p.Status != models.PaymentCompleted {
		if err := r.UpdateBookingStatus(ctx, b.ID, models.BookingCancelled); err != nil {
			return err
		}
		fx.event(broadcast.SeatFreed, b.TripID, b.SeatNumber, b.ID, now)
		return nil
	}

	trip, err := r.GetTrip(ctx, b.TripID)
	if err != nil {
		return err
	}
	if err := r.UpdateBookingStatus(ctx, b.ID, models.BookingConfirmed); err != nil {
		return err
	}
	b.Status = models.BookingConfirmed
	b.HoldExpiresAt = nil
	ticket := models.Ticket{BookingID: b.ID, Code: newReference("TK", now), IssuedAt: now}
	if _, err := r.InsertTicket(ctx, &ticket); err != nil {
		return err
	}
	fx.event(broadcast.SeatConfirmed, b.TripID, b.SeatNumber, b.ID, now)
	fx.notify(notify.BookingConfirmed(b, trip, p.Amount))
	return nil
}

func applyToParcel(ctx context.Context, r repositories.Repository, p *models.Payment, fx *effects) error {
	parcel, err := r.GetParcelForUpdate(ctx, p.ParcelID)
	if err != nil {
		return err
	}
	if parcel.PaymentStatus == models.ParcelPaymentPaid {
		if p.Status == models.PaymentCompleted {
			p.Status = models.PaymentRefundPending
			log.Printf("[PAYMENT] payment=%d settled for parcel=%d already paid, refund pending", p.ID, parcel.ID)
		}
		return nil
	}
	if p.Status != models.PaymentCompleted {
		return r.UpdateParcelStatus(ctx, parcel.ID, parcel.Status, models.ParcelPaymentFailed)
	}
	if err := r.UpdateParcelStatus(ctx, parcel.ID, models.ParcelCreated, models.ParcelPaymentPaid); err != nil {
		return err
	}
	fx.notify(notify.ParcelPaid(parcel)...)
	return nil
}

func viewOf(p models.Payment) StatusView {
	return StatusView{PaymentID: p.ID, Status: string(p.Status), Message: statusMessage(p)}
}

// statusMessage is what the payer sees for a payment.
func statusMessage(p models.Payment) string {
	switch p.Status {
	case models.PaymentPending:
		if p.TransactionID == "" {
			return "Payment has not been requested yet."
		}
		return "Waiting for you to confirm the payment on your phone."
	case models.PaymentCompleted:
		return "Payment received."
	case models.PaymentRefundPending:
		return "Payment received but the booking is no longer active. Staff will process a refund."
	}
	if code, err := strconv.Atoi(p.ResultCode); err == nil && code != mpesa.ResultSuccess {
		return mpesa.FailureMessage(code)
	}
	return "This payment is no longer active."
}

// providerErr classifies STK push failures. Only an outright rejection of
// the request reaches the user as a validation problem.
func providerErr(err error) error {
	var api mpesa.APIError
	if errors.As(err, &api) && api.Rejected() && api.Status != http.StatusUnauthorized && api.Status != http.StatusForbidden {
		return domain.ValidationError{Field: "payment", Msg: api.Message, Err: err}
	}
	return queryErr(err)
}

// queryErr never turns a provider problem into a payment result.
func queryErr(err error) error {
	var rl mpesa.RateLimitError
	if errors.As(err, &rl) {
		return domain.ProviderUnavailableError{RetryAfter: rl.RetryAfter, Msg: "payment provider is busy, try again shortly", Err: err}
	}
	return domain.ProviderUnavailableError{Msg: "payment provider unavailable, try again shortly", Err: err}
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
