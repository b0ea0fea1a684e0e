package queue

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/leadflow/leadflow-backend/internal/model"
	"github.com/leadflow/leadflow-backend/internal/repository"
)

const (
	// DefaultPollInterval is how often the processor looks for due events.
	// Follow-up delays are minutes to days, so 15s is plenty.
	DefaultPollInterval = 15 * time.Second

	// maxEventsPerTick bounds one drain cycle so a deep backlog cannot
	// starve the ticker.
	maxEventsPerTick = 50
)

// Handler processes one claimed queue event. A returned error sends the
// event through the queue's retry/backoff path.
type Handler func(ev *model.QueueEvent) error

// Status is the processor snapshot exposed on the status endpoint.
type Status struct {
	Running         bool     `json:"running"`
	RegisteredTypes []string `json:"registered_types"`
}

// Processor is the polling dispatcher: it claims due events from the durable
// queue and hands each to the handler registered for its type. Claiming is
// done by the store (row lock with skip), so several processors can run
// against the same database.
type Processor struct {
	Events repository.EventQueueRepositoryInterface

	mu       sync.Mutex
	handlers map[model.EventType]Handler
	running  bool
	stop     chan struct{}
	done     sync.WaitGroup
	interval time.Duration
}

func NewProcessor(events repository.EventQueueRepositoryInterface, interval time.Duration) *Processor {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Processor{
		Events:   events,
		handlers: make(map[model.EventType]Handler),
		interval: interval,
	}
}

// RegisterHandler binds an event type to its handler. One handler per type.
func (p *Processor) RegisterHandler(t model.EventType, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[t] = h
}

// Start launches the polling loop. The first drain runs immediately, then on
// every tick. Calling Start on a running processor is a no-op.
func (p *Processor) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stop = make(chan struct{})
	p.mu.Unlock()

	p.done.Add(1)
	go p.loop()
	log.Println("🚀 Queue processor started, polling every", p.interval)
}

// Stop cancels the timer and waits for the in-flight drain to finish.
// Claimed events always run to completion; there is no preemption.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stop)
	p.mu.Unlock()

	p.done.Wait()
	log.Println("Queue processor stopped")
}

// GetStatus reports whether the loop is running and which event types have
// handlers.
func (p *Processor) GetStatus() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	types := make([]string, 0, len(p.handlers))
	for t := range p.handlers {
		types = append(types, string(t))
	}
	sort.Strings(types)

	return Status{Running: p.running, RegisteredTypes: types}
}

func (p *Processor) loop() {
	defer p.done.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.drain()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.drain()
		}
	}
}

// drain claims and dispatches due events until the queue is empty or the
// per-tick cap is hit.
func (p *Processor) drain() {
	for i := 0; i < maxEventsPerTick; i++ {
		ev, err := p.Events.Dequeue()
		if err != nil {
			log.Println("⚠️ Failed to dequeue event:", err)
			return
		}
		if ev == nil {
			return
		}
		p.dispatch(ev)
	}
}

// dispatch runs one claimed event through its handler. Handler errors and
// panics never escape the loop; they turn into queue-level retries via Fail.
func (p *Processor) dispatch(ev *model.QueueEvent) {
	p.mu.Lock()
	handler, ok := p.handlers[ev.EventType]
	p.mu.Unlock()

	if !ok {
		log.Println("⚠️ No handler registered for event type:", ev.EventType)
		if err := p.Events.Fail(ev.ID, "no handler registered"); err != nil {
			log.Println("⚠️ Failed to fail event", ev.ID, ":", err)
		}
		return
	}

	if err := p.runHandler(handler, ev); err != nil {
		log.Printf("Event %s (%s) failed on attempt %d: %v\n", ev.ID, ev.EventType, ev.RetryCount+1, err)
		if err := p.Events.Fail(ev.ID, err.Error()); err != nil {
			log.Println("⚠️ Failed to fail event", ev.ID, ":", err)
		}
		return
	}

	if err := p.Events.Complete(ev.ID); err != nil {
		log.Println("⚠️ Failed to complete event", ev.ID, ":", err)
	}
}

func (p *Processor) runHandler(h Handler, ev *model.QueueEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ev)
}
