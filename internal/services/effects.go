package services

import (
	"context"
	"log"
	"strings"
	"time"

	"sacco/internal/broadcast"
	"sacco/internal/domain"
	"sacco/internal/notify"
	"sacco/internal/paystate"

	"github.com/google/uuid"
)

// effects collects what a transition announces. They are fired only after
// the transaction commits and never affect its outcome.
type effects struct {
	events   []broadcast.Event
	messages []notify.Message
	statuses map[int64]paystate.Status
}

func (fx *effects) event(typ broadcast.EventType, tripID int64, seat string, bookingID int64, at time.Time) {
	fx.events = append(fx.events, broadcast.Event{Type: typ, TripID: tripID, Seat: seat, BookingID: bookingID, At: at})
}

func (fx *effects) notify(msgs ...notify.Message) {
	fx.messages = append(fx.messages, msgs...)
}

func (fx *effects) status(paymentID int64, s paystate.Status) {
	if fx.statuses == nil {
		fx.statuses = map[int64]paystate.Status{}
	}
	fx.statuses[paymentID] = s
}

func (fx *effects) fire(ctx context.Context, hub broadcast.Hub, notifier notify.Notifier, cache paystate.StatusCache) {
	if hub != nil {
		for _, ev := range fx.events {
			hub.Publish(ev.TripID, ev)
		}
	}
	if notifier != nil {
		for _, m := range fx.messages {
			if m.To == "" {
				continue
			}
			notifier.Enqueue(m)
		}
	}
	if cache != nil {
		for id, s := range fx.statuses {
			if err := cache.Set(ctx, id, s); err != nil {
				log.Printf("[PAYMENT] status cache set payment=%d: %v", id, err)
			}
		}
	}
}

func nowFunc(now func() time.Time) time.Time {
	if now != nil {
		return now().UTC()
	}
	return time.Now().UTC()
}

// newReference builds human readable codes such as BK-260301-1A2B3C4D.
func newReference(prefix string, at time.Time) string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return prefix + "-" + at.Format("060102") + "-" + id[:8]
}

// owns hides other riders' records behind NotFound.
func owns(actor domain.Actor, ownerID int64, resource string) error {
	if actor.IsStaff() {
		return nil
	}
	if ownerID != 0 && ownerID == actor.UserID {
		return nil
	}
	return domain.NotFoundError{Resource: resource}
}

func requireStaff(actor domain.Actor) error {
	if actor.IsStaff() {
		return nil
	}
	return domain.ForbiddenError{Msg: "staff only"}
}
