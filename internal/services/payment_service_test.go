package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sacco/internal/broadcast"
	"sacco/internal/domain"
	"sacco/internal/domain/models"
	"sacco/internal/mpesa"
	"sacco/internal/notify"
	"sacco/internal/paystate"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// reserveAndPush holds seat 1A and sends the STK push for it.
func reserveAndPush(t *testing.T, f *fixture) (Reservation, models.Payment) {
	t.Helper()
	ctx := context.Background()
	res, err := f.ledger.Reserve(ctx, reserveInput(f.trip.ID, "1A"))
	require.NoError(t, err)
	p, err := f.payments.InitiatePayment(ctx, rider, res.Payment.ID, "")
	require.NoError(t, err)
	return res, p
}

func TestInitiatePaymentRecordsTransaction(t *testing.T) {
	f := newFixture()
	_, p := reserveAndPush(t, f)

	assert.Equal(t, "ws_CO_1", p.TransactionID)
	assert.Equal(t, models.MethodMpesaSTK, p.Method)
	assert.Equal(t, "254712345678", p.PayerPhone)
	assert.Equal(t, models.PaymentPending, p.Status)
}

func TestWebhookSuccessConfirmsOnce(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	res, p := reserveAndPush(t, f)

	outcome, err := f.payments.HandleWebhook(ctx, success(p.TransactionID))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	view, err := f.bookings.Get(ctx, rider, res.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingConfirmed, view.Booking.Status)
	assert.Nil(t, view.Booking.HoldExpiresAt)
	require.NotNil(t, view.Ticket)
	assert.Regexp(t, `^TK-`, view.Ticket.Code)
	require.Len(t, view.Payments, 1)
	assert.Equal(t, models.PaymentCompleted, view.Payments[0].Status)
	assert.Equal(t, "QKJ3XYZ1AB", view.Payments[0].ReceiptNumber)
	require.NotNil(t, view.Payments[0].PaidAt)

	outcome, err = f.payments.HandleWebhook(ctx, success(p.TransactionID))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)

	assert.Equal(t, 1, f.hub.count(broadcast.SeatConfirmed))
	assert.Equal(t, []string{notify.KindBookingConfirmed}, f.notifier.kinds())
	assert.Len(t, f.store.snapshot().tickets, 1)
}

func TestWebhookDeclineFreesSeat(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	cache := paystate.NewMemoryCache(30 * time.Second)
	cache.Now = f.clock.Now
	f.payments.Cache = cache

	res, p := reserveAndPush(t, f)
	outcome, err := f.payments.HandleWebhook(ctx, declined(p.TransactionID))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	b, err := f.store.GetBooking(ctx, res.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingCancelled, b.Status)
	assert.Equal(t, 1, f.hub.count(broadcast.SeatFreed))

	cached, ok, err := cache.Get(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, string(models.PaymentFailed), cached.Status)
	assert.Equal(t, "Payment was cancelled on your phone.", cached.Message)

	view, err := f.payments.PollStatus(ctx, rider, p.ID)
	require.NoError(t, err)
	assert.Equal(t, string(models.PaymentFailed), view.Status)
	assert.Equal(t, "Payment was cancelled on your phone.", view.Message)
	_, queries := f.provider.counts()
	assert.Zero(t, queries)

	seats, err := f.ledger.AvailableSeats(ctx, f.trip.ID)
	require.NoError(t, err)
	assert.Contains(t, seats.Available, "1A")
	_, err = f.ledger.Reserve(ctx, reserveInput(f.trip.ID, "1A"))
	require.NoError(t, err)
}

func TestLateWebhookDoesNotReopenBooking(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	res, p := reserveAndPush(t, f)

	_, err := f.payments.HandleWebhook(ctx, declined(p.TransactionID))
	require.NoError(t, err)

	outcome, err := f.payments.HandleWebhook(ctx, success(p.TransactionID))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)

	b, err := f.store.GetBooking(ctx, res.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingCancelled, b.Status)
	got, err := f.store.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentFailed, got.Status)
	assert.Empty(t, f.store.snapshot().tickets)
}

func TestWebhookUnknownTransaction(t *testing.T) {
	f := newFixture()
	outcome, err := f.payments.HandleWebhook(context.Background(), success("ws_CO_missing"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnknown, outcome)
	assert.Empty(t, f.hub.types())
}

func TestPollAndWebhookRace(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := newFixture()
		ctx := context.Background()
		f.provider.query = func(id string) (mpesa.QueryResult, error) {
			return mpesa.QueryResult{CheckoutRequestID: id, ResultCode: mpesa.ResultSuccess, ResultDesc: "ok"}, nil
		}
		res, p := reserveAndPush(t, f)

		var (
			wg       sync.WaitGroup
			pollView StatusView
			pollErr  error
			hookErr  error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			pollView, pollErr = f.payments.PollStatus(ctx, rider, p.ID)
		}()
		go func() {
			defer wg.Done()
			_, hookErr = f.payments.HandleWebhook(ctx, success(p.TransactionID))
		}()
		wg.Wait()

		require.NoError(t, pollErr)
		require.NoError(t, hookErr)
		assert.Equal(t, string(models.PaymentCompleted), pollView.Status)

		b, err := f.store.GetBooking(ctx, res.Booking.ID)
		require.NoError(t, err)
		assert.Equal(t, models.BookingConfirmed, b.Status)
		assert.Len(t, f.store.snapshot().tickets, 1)
		assert.Equal(t, 1, f.hub.count(broadcast.SeatConfirmed))
		assert.Len(t, f.notifier.kinds(), 1)
	}
}

func TestPollBeforePushSkipsProvider(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	res, err := f.ledger.Reserve(ctx, reserveInput(f.trip.ID, "1A"))
	require.NoError(t, err)

	view, err := f.payments.PollStatus(ctx, rider, res.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, string(models.PaymentPending), view.Status)
	assert.Equal(t, "Payment has not been requested yet.", view.Message)
	_, queries := f.provider.counts()
	assert.Zero(t, queries)
}

func TestPollThrottlesProviderQueries(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	throttle := paystate.NewMemoryThrottle(DefaultQueryThrottle)
	throttle.Now = f.clock.Now
	f.payments.Throttle = throttle

	_, p := reserveAndPush(t, f)

	first, err := f.payments.PollStatus(ctx, rider, p.ID)
	require.NoError(t, err)
	assert.Equal(t, string(models.PaymentPending), first.Status)
	assert.False(t, first.Throttled)

	f.clock.Advance(5 * time.Second)
	second, err := f.payments.PollStatus(ctx, rider, p.ID)
	require.NoError(t, err)
	assert.True(t, second.Throttled)
	assert.Equal(t, 10, second.RetryAfterSeconds)
	assert.Equal(t, string(models.PaymentPending), second.Status)

	_, queries := f.provider.counts()
	assert.Equal(t, 1, queries)

	f.clock.Advance(10 * time.Second)
	third, err := f.payments.PollStatus(ctx, rider, p.ID)
	require.NoError(t, err)
	assert.False(t, third.Throttled)
	_, queries = f.provider.counts()
	assert.Equal(t, 2, queries)
}

func TestPollServesPendingFromCache(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	cache := paystate.NewMemoryCache(30 * time.Second)
	cache.Now = f.clock.Now
	f.payments.Cache = cache

	_, p := reserveAndPush(t, f)
	for i := 0; i < 3; i++ {
		view, err := f.payments.PollStatus(ctx, rider, p.ID)
		require.NoError(t, err)
		assert.Equal(t, string(models.PaymentPending), view.Status)
	}
	_, queries := f.provider.counts()
	assert.Equal(t, 1, queries)

	f.clock.Advance(31 * time.Second)
	_, err := f.payments.PollStatus(ctx, rider, p.ID)
	require.NoError(t, err)
	_, queries = f.provider.counts()
	assert.Equal(t, 2, queries)
}

func TestPollRateLimitedLeavesPaymentPending(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.provider.query = func(string) (mpesa.QueryResult, error) {
		return mpesa.QueryResult{}, mpesa.RateLimitError{RetryAfter: 12 * time.Second}
	}
	res, p := reserveAndPush(t, f)

	_, err := f.payments.PollStatus(ctx, rider, p.ID)
	require.Error(t, err)
	var unavailable domain.ProviderUnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.Equal(t, 12*time.Second, unavailable.RetryAfter)

	got, err := f.store.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, got.Status)
	b, err := f.store.GetBooking(ctx, res.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingPendingPayment, b.Status)
}

func TestPollHidesOtherRidersPayments(t *testing.T) {
	f := newFixture()
	_, p := reserveAndPush(t, f)

	_, err := f.payments.PollStatus(context.Background(), other, p.ID)
	assert.True(t, domain.IsNotFound(err))

	_, err = f.payments.PollStatus(context.Background(), officer, p.ID)
	assert.NoError(t, err)
}

func TestRepeatedPushSupersedesTransaction(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	res, first := reserveAndPush(t, f)

	second, err := f.payments.InitiatePayment(ctx, rider, res.Payment.ID, "+254 700 000 111")
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_2", second.TransactionID)
	assert.Equal(t, "254700000111", second.PayerPhone)

	outcome, err := f.payments.HandleWebhook(ctx, declined(first.TransactionID))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnknown, outcome)

	outcome, err = f.payments.HandleWebhook(ctx, success(second.TransactionID))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	b, err := f.store.GetBooking(ctx, res.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingConfirmed, b.Status)
}

func TestInitiateRejectsExpiredHold(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	res, err := f.ledger.Reserve(ctx, reserveInput(f.trip.ID, "1A"))
	require.NoError(t, err)

	f.clock.Advance(DefaultHoldTTL)
	_, err = f.payments.InitiatePayment(ctx, rider, res.Payment.ID, "")
	require.Error(t, err)
	assert.True(t, domain.IsConflict(err))
	pushes, _ := f.provider.counts()
	assert.Zero(t, pushes)
}

func TestInitiateClassifiesProviderErrors(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	res, err := f.ledger.Reserve(ctx, reserveInput(f.trip.ID, "1A"))
	require.NoError(t, err)

	f.provider.pushErr = mpesa.APIError{Status: 400, Code: "400.002.02", Message: "Invalid PhoneNumber"}
	_, err = f.payments.InitiatePayment(ctx, rider, res.Payment.ID, "")
	assert.True(t, domain.IsValidation(err), "rejected push: %v", err)

	f.provider.pushErr = errors.New("dial tcp: i/o timeout")
	_, err = f.payments.InitiatePayment(ctx, rider, res.Payment.ID, "")
	assert.True(t, domain.IsProviderUnavailable(err), "transport failure: %v", err)

	got, err := f.store.GetPayment(ctx, res.Payment.ID)
	require.NoError(t, err)
	assert.Empty(t, got.TransactionID)
	assert.Equal(t, models.PaymentPending, got.Status)
}

func TestSuccessAfterStaffCancelIsRefundPending(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	res, p := reserveAndPush(t, f)

	_, err := f.bookings.Cancel(ctx, officer, res.Booking.ID)
	require.NoError(t, err)

	pending, err := f.store.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, pending.Status, "push in flight stays open")

	outcome, err := f.payments.HandleWebhook(ctx, success(p.TransactionID))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	got, err := f.store.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRefundPending, got.Status)
	b, err := f.store.GetBooking(ctx, res.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingCancelled, b.Status)
	assert.Empty(t, f.store.snapshot().tickets)
	assert.Zero(t, f.hub.count(broadcast.SeatConfirmed))
}

func TestSettleRollsBackOnStorageFailure(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	res, p := reserveAndPush(t, f)

	f.store.fail = func(op string) error {
		if op == "UpdatePayment" {
			return errors.New("lock wait timeout")
		}
		return nil
	}
	_, err := f.payments.HandleWebhook(ctx, success(p.TransactionID))
	require.Error(t, err)
	assert.True(t, domain.IsInternal(err))

	b, err := f.store.GetBooking(ctx, res.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingPendingPayment, b.Status)
	assert.Empty(t, f.store.snapshot().tickets)
	assert.Zero(t, f.hub.count(broadcast.SeatConfirmed))
	assert.Empty(t, f.notifier.kinds())

	f.store.fail = nil
	outcome, err := f.payments.HandleWebhook(ctx, success(p.TransactionID))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
}

func TestParcelPayment(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	parcel := f.store.addParcel(models.Parcel{
		RefCode:       "PCL-0042",
		SenderName:    "Otieno",
		SenderPhone:   "0722000111",
		ReceiverName:  "Achieng",
		ReceiverPhone: "0733000222",
		Origin:        "Nairobi",
		Destination:   "Kisumu",
		Price:         350,
		Status:        models.ParcelPendingPayment,
		PaymentStatus: models.ParcelPaymentUnpaid,
		CreatedBy:     rider.UserID,
	})

	_, err := f.payments.CreateParcelPayment(ctx, other, parcel.ID)
	assert.True(t, domain.IsNotFound(err))

	p, err := f.payments.CreateParcelPayment(ctx, rider, parcel.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(350), p.Amount)
	again, err := f.payments.CreateParcelPayment(ctx, rider, parcel.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, again.ID)

	p, err = f.payments.InitiatePayment(ctx, rider, p.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "254722000111", p.PayerPhone)

	cb := success(p.TransactionID)
	cb.Amount = 350
	outcome, err := f.payments.HandleWebhook(ctx, cb)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	got, err := f.store.GetParcel(ctx, parcel.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ParcelCreated, got.Status)
	assert.Equal(t, models.ParcelPaymentPaid, got.PaymentStatus)
	assert.Equal(t, []string{notify.KindParcelPaid, notify.KindParcelIncoming}, f.notifier.kinds())

	_, err = f.payments.CreateParcelPayment(ctx, rider, parcel.ID)
	assert.True(t, domain.IsConflict(err))
}

func TestParcelDeclineAllowsRetry(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	parcel := f.store.addParcel(models.Parcel{
		RefCode:       "PCL-0043",
		SenderPhone:   "0722000111",
		Price:         200,
		Status:        models.ParcelPendingPayment,
		PaymentStatus: models.ParcelPaymentUnpaid,
		CreatedBy:     rider.UserID,
	})

	p, err := f.payments.CreateParcelPayment(ctx, rider, parcel.ID)
	require.NoError(t, err)
	p, err = f.payments.InitiatePayment(ctx, rider, p.ID, "")
	require.NoError(t, err)
	_, err = f.payments.HandleWebhook(ctx, declined(p.TransactionID))
	require.NoError(t, err)

	got, err := f.store.GetParcel(ctx, parcel.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ParcelPaymentFailed, got.PaymentStatus)
	assert.Equal(t, models.ParcelPendingPayment, got.Status)

	retry, err := f.payments.CreateParcelPayment(ctx, rider, parcel.ID)
	require.NoError(t, err)
	assert.NotEqual(t, p.ID, retry.ID)
	got, err = f.store.GetParcel(ctx, parcel.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ParcelPaymentUnpaid, got.PaymentStatus)
}
