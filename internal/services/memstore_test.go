package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"sacco/internal/domain"
	"sacco/internal/domain/models"
	"sacco/internal/repositories"
)

// memStore is an in-memory repositories.Store. Transactions are serialized
// and run against a copy that replaces the live state only on success. It
// enforces the same unique keys as the MySQL schema.
type memStore struct {
	memRepo

	mu    sync.Mutex
	state *memState

	// fail injects an error into the named repository operation.
	fail func(op string) error
	// skipPrecheck makes SeatTaken always report false so only the unique
	// key on active seats can reject a duplicate.
	skipPrecheck bool
}

type memState struct {
	nextID   int64
	trips    map[int64]models.Trip
	bookings map[int64]models.Booking
	payments map[int64]models.Payment
	tickets  map[int64]models.Ticket
	parcels  map[int64]models.Parcel
}

func newMemStore() *memStore {
	s := &memStore{state: &memState{
		trips:    map[int64]models.Trip{},
		bookings: map[int64]models.Booking{},
		payments: map[int64]models.Payment{},
		tickets:  map[int64]models.Ticket{},
		parcels:  map[int64]models.Parcel{},
	}}
	s.memRepo = memRepo{store: s}
	return s
}

func (st *memState) clone() *memState {
	out := &memState{
		nextID:   st.nextID,
		trips:    make(map[int64]models.Trip, len(st.trips)),
		bookings: make(map[int64]models.Booking, len(st.bookings)),
		payments: make(map[int64]models.Payment, len(st.payments)),
		tickets:  make(map[int64]models.Ticket, len(st.tickets)),
		parcels:  make(map[int64]models.Parcel, len(st.parcels)),
	}
	for k, v := range st.trips {
		v.SeatLayout = append([]string(nil), v.SeatLayout...)
		out.trips[k] = v
	}
	for k, v := range st.bookings {
		out.bookings[k] = v
	}
	for k, v := range st.payments {
		out.payments[k] = v
	}
	for k, v := range st.tickets {
		out.tickets[k] = v
	}
	for k, v := range st.parcels {
		out.parcels[k] = v
	}
	return out
}

func (st *memState) id() int64 {
	st.nextID++
	return st.nextID
}

func (s *memStore) InTx(ctx context.Context, fn func(repositories.Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.state.clone()
	if err := fn(memRepo{store: s, tx: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *memStore) addTrip(t models.Trip) models.Trip {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == 0 {
		t.ID = s.state.id()
	}
	if t.Status == "" {
		t.Status = models.TripScheduled
	}
	s.state.trips[t.ID] = t
	return t
}

func (s *memStore) addParcel(p models.Parcel) models.Parcel {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.state.id()
	s.state.parcels[p.ID] = p
	return p
}

func (s *memStore) snapshot() *memState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// memRepo runs either inside a transaction (tx set) or directly against the
// live state under the store lock.
type memRepo struct {
	store *memStore
	tx    *memState
}

func (r memRepo) begin() (*memState, func()) {
	if r.tx != nil {
		return r.tx, func() {}
	}
	r.store.mu.Lock()
	return r.store.state, r.store.mu.Unlock
}

func (r memRepo) check(op string) error {
	if r.store.fail != nil {
		return r.store.fail(op)
	}
	return nil
}

func seatTaken(b models.Booking, now time.Time) bool {
	switch b.Status {
	case models.BookingConfirmed, models.BookingCheckedIn, models.BookingCompleted:
		return true
	case models.BookingPendingPayment:
		return b.HoldExpiresAt == nil || b.HoldExpiresAt.After(now)
	}
	return false
}

func (r memRepo) GetTrip(_ context.Context, tripID int64) (models.Trip, error) {
	st, done := r.begin()
	defer done()
	t, ok := st.trips[tripID]
	if !ok {
		return models.Trip{}, domain.NotFoundError{Resource: "trip"}
	}
	return t, nil
}

func (r memRepo) GetTripForShare(ctx context.Context, tripID int64) (models.Trip, error) {
	return r.GetTrip(ctx, tripID)
}

func (r memRepo) GetTripForUpdate(ctx context.Context, tripID int64) (models.Trip, error) {
	return r.GetTrip(ctx, tripID)
}

func (r memRepo) UpdateTripStatus(_ context.Context, tripID int64, status models.TripStatus) error {
	st, done := r.begin()
	defer done()
	t, ok := st.trips[tripID]
	if !ok {
		return domain.NotFoundError{Resource: "trip"}
	}
	t.Status = status
	st.trips[tripID] = t
	return nil
}

func (r memRepo) ListTakenSeats(_ context.Context, tripID int64, now time.Time) ([]string, error) {
	st, done := r.begin()
	defer done()
	out := []string{}
	for _, b := range st.bookings {
		if b.TripID == tripID && seatTaken(b, now) {
			out = append(out, b.SeatNumber)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r memRepo) SeatTaken(_ context.Context, tripID int64, seat string, now time.Time) (bool, error) {
	if r.store.skipPrecheck {
		return false, nil
	}
	st, done := r.begin()
	defer done()
	for _, b := range st.bookings {
		if b.TripID == tripID && b.SeatNumber == seat && seatTaken(b, now) {
			return true, nil
		}
	}
	return false, nil
}

func (r memRepo) ListExpiredHoldsForUpdate(_ context.Context, tripID int64, now time.Time) ([]models.Booking, error) {
	st, done := r.begin()
	defer done()
	out := []models.Booking{}
	for _, b := range st.bookings {
		if b.TripID == tripID && b.HoldExpired(now) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memRepo) DeleteBookings(_ context.Context, ids []int64) error {
	st, done := r.begin()
	defer done()
	for _, id := range ids {
		for pid, p := range st.payments {
			if p.BookingID == id {
				delete(st.payments, pid)
			}
		}
		delete(st.tickets, id)
		delete(st.bookings, id)
	}
	return nil
}

func (r memRepo) InsertBooking(_ context.Context, b *models.Booking) error {
	if err := r.check("InsertBooking"); err != nil {
		return err
	}
	st, done := r.begin()
	defer done()
	for _, other := range st.bookings {
		if other.TripID == b.TripID && other.SeatNumber == b.SeatNumber && other.Status.Blocking() {
			return domain.SeatTakenError{TripID: b.TripID, Seat: b.SeatNumber}
		}
	}
	b.ID = st.id()
	st.bookings[b.ID] = *b
	return nil
}

func (r memRepo) GetBooking(_ context.Context, id int64) (models.Booking, error) {
	st, done := r.begin()
	defer done()
	b, ok := st.bookings[id]
	if !ok {
		return models.Booking{}, domain.NotFoundError{Resource: "booking"}
	}
	return b, nil
}

func (r memRepo) GetBookingForUpdate(ctx context.Context, id int64) (models.Booking, error) {
	return r.GetBooking(ctx, id)
}

func (r memRepo) FindActiveBookingBySeat(_ context.Context, tripID int64, seat string) (models.Booking, error) {
	st, done := r.begin()
	defer done()
	for _, b := range st.bookings {
		if b.TripID == tripID && b.SeatNumber == seat && b.Status.Blocking() {
			return b, nil
		}
	}
	return models.Booking{}, domain.NotFoundError{Resource: "booking"}
}

func (r memRepo) ListTripBookings(ctx context.Context, tripID int64, statuses []models.BookingStatus) ([]models.Booking, error) {
	out, err := r.ListTripBookingsForUpdate(ctx, tripID, statuses)
	sort.Slice(out, func(i, j int) bool { return out[i].SeatNumber < out[j].SeatNumber })
	return out, err
}

func (r memRepo) ListTripBookingsForUpdate(_ context.Context, tripID int64, statuses []models.BookingStatus) ([]models.Booking, error) {
	st, done := r.begin()
	defer done()
	out := []models.Booking{}
	for _, b := range st.bookings {
		if b.TripID != tripID {
			continue
		}
		for _, s := range statuses {
			if b.Status == s {
				out = append(out, b)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memRepo) UpdateBookingStatus(_ context.Context, id int64, status models.BookingStatus) error {
	if err := r.check("UpdateBookingStatus"); err != nil {
		return err
	}
	st, done := r.begin()
	defer done()
	b, ok := st.bookings[id]
	if !ok {
		return domain.NotFoundError{Resource: "booking"}
	}
	if status.Blocking() {
		for _, other := range st.bookings {
			if other.ID != id && other.TripID == b.TripID && other.SeatNumber == b.SeatNumber && other.Status.Blocking() {
				return domain.SeatTakenError{TripID: b.TripID, Seat: b.SeatNumber}
			}
		}
	}
	b.Status = status
	b.HoldExpiresAt = nil
	st.bookings[id] = b
	return nil
}

func paymentConflict(st *memState, p models.Payment) error {
	for _, other := range st.payments {
		if other.ID == p.ID {
			continue
		}
		if p.TransactionID != "" && other.TransactionID == p.TransactionID {
			return domain.ConflictError{Resource: "payment", Msg: "transaction already recorded"}
		}
		if p.Status != models.PaymentPending || other.Status != models.PaymentPending {
			continue
		}
		if (p.BookingID != 0 && other.BookingID == p.BookingID) || (p.ParcelID != 0 && other.ParcelID == p.ParcelID) {
			return domain.ConflictError{Resource: "payment", Msg: "a payment is already pending"}
		}
	}
	return nil
}

func (r memRepo) InsertPayment(_ context.Context, p *models.Payment) error {
	if err := r.check("InsertPayment"); err != nil {
		return err
	}
	st, done := r.begin()
	defer done()
	if err := paymentConflict(st, *p); err != nil {
		return err
	}
	p.ID = st.id()
	st.payments[p.ID] = *p
	return nil
}

func (r memRepo) GetPayment(_ context.Context, id int64) (models.Payment, error) {
	st, done := r.begin()
	defer done()
	p, ok := st.payments[id]
	if !ok {
		return models.Payment{}, domain.NotFoundError{Resource: "payment"}
	}
	return p, nil
}

func (r memRepo) GetPaymentForUpdate(ctx context.Context, id int64) (models.Payment, error) {
	return r.GetPayment(ctx, id)
}

func (r memRepo) GetPaymentByTransactionForUpdate(_ context.Context, transactionID string) (models.Payment, error) {
	st, done := r.begin()
	defer done()
	for _, p := range st.payments {
		if transactionID != "" && p.TransactionID == transactionID {
			return p, nil
		}
	}
	return models.Payment{}, domain.NotFoundError{Resource: "payment"}
}

func (r memRepo) pending(match func(models.Payment) bool) (models.Payment, error) {
	st, done := r.begin()
	defer done()
	for _, p := range st.payments {
		if p.Status == models.PaymentPending && match(p) {
			return p, nil
		}
	}
	return models.Payment{}, domain.NotFoundError{Resource: "payment"}
}

func (r memRepo) GetPendingPaymentForBooking(_ context.Context, bookingID int64) (models.Payment, error) {
	return r.pending(func(p models.Payment) bool { return p.BookingID == bookingID })
}

func (r memRepo) GetPendingPaymentForParcel(_ context.Context, parcelID int64) (models.Payment, error) {
	return r.pending(func(p models.Payment) bool { return p.ParcelID == parcelID })
}

func (r memRepo) ListBookingPaymentsForUpdate(ctx context.Context, bookingID int64) ([]models.Payment, error) {
	return r.ListBookingPayments(ctx, bookingID)
}

func (r memRepo) ListBookingPayments(_ context.Context, bookingID int64) ([]models.Payment, error) {
	st, done := r.begin()
	defer done()
	out := []models.Payment{}
	for _, p := range st.payments {
		if p.BookingID == bookingID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memRepo) UpdatePayment(_ context.Context, p models.Payment) error {
	if err := r.check("UpdatePayment"); err != nil {
		return err
	}
	st, done := r.begin()
	defer done()
	cur, ok := st.payments[p.ID]
	if !ok {
		return domain.NotFoundError{Resource: "payment"}
	}
	cur.Method = p.Method
	cur.TransactionID = p.TransactionID
	cur.ReceiptNumber = p.ReceiptNumber
	cur.PayerPhone = p.PayerPhone
	cur.Status = p.Status
	cur.ResultCode = p.ResultCode
	cur.ResultDesc = p.ResultDesc
	cur.PaidAt = p.PaidAt
	cur.UpdatedAt = p.UpdatedAt
	if err := paymentConflict(st, cur); err != nil {
		return err
	}
	st.payments[p.ID] = cur
	return nil
}

func (r memRepo) TripPaymentTotals(_ context.Context, tripID int64) ([]models.PaymentTotal, error) {
	st, done := r.begin()
	defer done()
	sums := map[models.PaymentStatus]*models.PaymentTotal{}
	for _, p := range st.payments {
		b, ok := st.bookings[p.BookingID]
		if !ok || b.TripID != tripID {
			continue
		}
		t, ok := sums[p.Status]
		if !ok {
			t = &models.PaymentTotal{Status: p.Status}
			sums[p.Status] = t
		}
		t.Count++
		t.Amount += p.Amount
	}
	out := []models.PaymentTotal{}
	for _, t := range sums {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Status < out[j].Status })
	return out, nil
}

func (r memRepo) InsertTicket(_ context.Context, t *models.Ticket) (bool, error) {
	if err := r.check("InsertTicket"); err != nil {
		return false, err
	}
	st, done := r.begin()
	defer done()
	if _, exists := st.tickets[t.BookingID]; exists {
		return false, nil
	}
	t.ID = st.id()
	st.tickets[t.BookingID] = *t
	return true, nil
}

func (r memRepo) GetTicketByBooking(_ context.Context, bookingID int64) (models.Ticket, error) {
	st, done := r.begin()
	defer done()
	t, ok := st.tickets[bookingID]
	if !ok {
		return models.Ticket{}, domain.NotFoundError{Resource: "ticket"}
	}
	return t, nil
}

func (r memRepo) GetParcel(_ context.Context, id int64) (models.Parcel, error) {
	st, done := r.begin()
	defer done()
	p, ok := st.parcels[id]
	if !ok {
		return models.Parcel{}, domain.NotFoundError{Resource: "parcel"}
	}
	return p, nil
}

func (r memRepo) GetParcelForUpdate(ctx context.Context, id int64) (models.Parcel, error) {
	return r.GetParcel(ctx, id)
}

func (r memRepo) UpdateParcelStatus(_ context.Context, id int64, status, paymentStatus string) error {
	st, done := r.begin()
	defer done()
	p, ok := st.parcels[id]
	if !ok {
		return domain.NotFoundError{Resource: "parcel"}
	}
	p.Status = status
	p.PaymentStatus = paymentStatus
	st.parcels[id] = p
	return nil
}

var _ repositories.Store = (*memStore)(nil)
