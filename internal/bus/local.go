package bus

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type rule struct {
	name    string
	pattern Pattern
	handler Handler
}

// Local is an in-process bus for local runs and tests. Publish returns as
// soon as the event is accepted; each matching rule gets its own delivery
// goroutine driven by the dispatcher.
type Local struct {
	mu         sync.RWMutex
	seq        int
	rules      map[int]rule
	dispatcher *Dispatcher
	logger     *zap.SugaredLogger
	inflight   sync.WaitGroup
}

func NewLocal(dispatcher *Dispatcher, logger *zap.SugaredLogger) *Local {
	return &Local{
		rules:      make(map[int]rule),
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Subscribe registers a handler for events matching p and returns a cancel func.
func (b *Local) Subscribe(name string, p Pattern, h Handler) (cancel func()) {
	b.mu.Lock()
	b.seq++
	id := b.seq
	b.rules[id] = rule{name: name, pattern: p, handler: h}
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.rules, id)
	}
}

// Publish fans ev out to every matching rule. Deliveries are detached from
// ctx cancellation so a finished request does not abort them.
func (b *Local) Publish(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	b.mu.RLock()
	var matched []rule
	for _, r := range b.rules {
		if r.pattern.Matches(ev) {
			matched = append(matched, r)
		}
	}
	b.mu.RUnlock()

	if len(matched) == 0 {
		b.logger.Debugw("no rule matched event", "event_id", ev.ID, "source", ev.Source, "detail_type", ev.DetailType)
		return nil
	}

	dctx := context.WithoutCancel(ctx)
	for _, r := range matched {
		delivered := ev.clone()
		b.inflight.Add(1)
		go func() {
			defer b.inflight.Done()
			out, err := b.dispatcher.Deliver(dctx, delivered, r.handler)
			if err != nil {
				b.logger.Errorw("event lost", "rule", r.name, "event_id", delivered.ID, "attempts", out.Attempts, "error", err)
			}
		}()
	}
	return nil
}

// Wait blocks until every accepted delivery has finished.
func (b *Local) Wait() {
	b.inflight.Wait()
}
