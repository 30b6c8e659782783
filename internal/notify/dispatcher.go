package notify

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

const sendTimeout = 10 * time.Second

// Dispatcher runs a fixed pool of workers over a bounded queue. Delivery
// errors are logged and dropped.
type Dispatcher struct {
	sender Sender
	queue  chan Message
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(sender Sender, workers, queueSize int) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	d := &Dispatcher{sender: sender, queue: make(chan Message, queueSize)}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.work()
	}
	return d
}

func (d *Dispatcher) Enqueue(m Message) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	select {
	case d.queue <- m:
		return true
	default:
		log.Printf("[NOTIFY] queue full, dropping kind=%s ref=%s", m.Kind, m.Reference)
		return false
	}
}

// Close stops accepting messages and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for m := range d.queue {
		if err := d.deliver(m); err != nil {
			log.Printf("[NOTIFY] send failed kind=%s ref=%s: %v", m.Kind, m.Reference, err)
		}
	}
}

func (d *Dispatcher) deliver(m Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sender panic: %v", r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	return d.sender.Send(ctx, m)
}
