package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sacco/internal/broadcast"
	"sacco/internal/domain"
	"sacco/internal/domain/models"
	"sacco/internal/mpesa"
	"sacco/internal/notify"
)

var epoch = time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock { return &clock{t: epoch} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeProvider struct {
	mu      sync.Mutex
	pushes  int
	queries int
	pushErr error

	// query answers QueryStatus; nil means still pending.
	query func(id string) (mpesa.QueryResult, error)
}

func (p *fakeProvider) STKPush(_ context.Context, in mpesa.STKRequest) (mpesa.STKResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pushErr != nil {
		return mpesa.STKResponse{}, p.pushErr
	}
	p.pushes++
	return mpesa.STKResponse{
		MerchantRequestID: fmt.Sprintf("mr-%d", p.pushes),
		CheckoutRequestID: fmt.Sprintf("ws_CO_%d", p.pushes),
		ResponseCode:      "0",
	}, nil
}

func (p *fakeProvider) QueryStatus(_ context.Context, id string) (mpesa.QueryResult, error) {
	p.mu.Lock()
	p.queries++
	q := p.query
	p.mu.Unlock()
	if q == nil {
		return mpesa.QueryResult{CheckoutRequestID: id, Pending: true}, nil
	}
	return q(id)
}

func (p *fakeProvider) counts() (pushes, queries int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pushes, p.queries
}

type recordingHub struct {
	mu     sync.Mutex
	events []broadcast.Event
}

func (h *recordingHub) Subscribe(int64) <-chan broadcast.Event   { return make(chan broadcast.Event) }
func (h *recordingHub) Unsubscribe(int64, <-chan broadcast.Event) {}

func (h *recordingHub) Publish(_ int64, ev broadcast.Event) {
	h.mu.Lock()
	h.events = append(h.events, ev)
	h.mu.Unlock()
}

func (h *recordingHub) types() []broadcast.EventType {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]broadcast.EventType, len(h.events))
	for i, ev := range h.events {
		out[i] = ev.Type
	}
	return out
}

func (h *recordingHub) count(typ broadcast.EventType) int {
	n := 0
	for _, t := range h.types() {
		if t == typ {
			n++
		}
	}
	return n
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (n *recordingNotifier) Enqueue(m notify.Message) bool {
	n.mu.Lock()
	n.msgs = append(n.msgs, m)
	n.mu.Unlock()
	return true
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.msgs))
	for i, m := range n.msgs {
		out[i] = m.Kind
	}
	return out
}

var (
	rider   = domain.Actor{UserID: 7, Role: domain.RoleCustomer}
	other   = domain.Actor{UserID: 8, Role: domain.RoleCustomer}
	officer = domain.Actor{UserID: 1, Role: domain.RoleStaff}
)

// fixture wires every service against one memStore.
type fixture struct {
	store    *memStore
	clock    *clock
	hub      *recordingHub
	notifier *recordingNotifier
	provider *fakeProvider
	trip     models.Trip

	ledger   SeatLedger
	bookings BookingService
	payments PaymentService
}

func newFixture() *fixture {
	f := &fixture{
		store:    newMemStore(),
		clock:    newClock(),
		hub:      &recordingHub{},
		notifier: &recordingNotifier{},
		provider: &fakeProvider{},
	}
	f.trip = f.store.addTrip(models.Trip{
		RouteCode:    "NRB-NKR",
		Origin:       "Nairobi",
		Destination:  "Nakuru",
		VehiclePlate: "KDA 123A",
		DepartAt:     epoch.Add(6 * time.Hour),
		BaseFare:     800,
		SeatLayout:   []string{"1A", "1B", "2A", "2B"},
	})
	f.ledger = SeatLedger{Store: f.store, Hub: f.hub, Now: f.clock.Now}
	f.bookings = BookingService{Store: f.store, Hub: f.hub, Notifier: f.notifier, Now: f.clock.Now}
	f.payments = PaymentService{
		Store:    f.store,
		Provider: f.provider,
		Hub:      f.hub,
		Notifier: f.notifier,
		Now:      f.clock.Now,
	}
	return f
}

func reserveInput(tripID int64, seat string) ReserveInput {
	return ReserveInput{
		TripID: tripID,
		Seat:   seat,
		UserID: rider.UserID,
		Passenger: models.PassengerInput{
			Name:  "Wanjiku Kamau",
			Phone: "0712345678",
			Age:   29,
		},
	}
}

func success(checkoutID string) mpesa.Callback {
	return mpesa.Callback{
		CheckoutRequestID: checkoutID,
		ResultCode:        mpesa.ResultSuccess,
		ResultDesc:        "The service request is processed successfully.",
		Amount:            800,
		ReceiptNumber:     "QKJ3XYZ1AB",
		PhoneNumber:       "254712345678",
	}
}

func declined(checkoutID string) mpesa.Callback {
	return mpesa.Callback{
		CheckoutRequestID: checkoutID,
		ResultCode:        mpesa.ResultCancelledByUser,
		ResultDesc:        "Request cancelled by user",
	}
}
