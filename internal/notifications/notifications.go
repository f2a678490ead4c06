// Package notifications delivers engine events to a human without ever blocking or
// failing the caller.
package notifications

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Lifecycle events raised by the process itself.
const (
	EventSystemStart = "system_start"
	EventSystemStop  = "system_stop"
)

// Event is one notification with a snapshot of its payload.
type Event struct {
	Type    string
	Payload map[string]any
	At      time.Time
}

// Sink delivers a single event.
type Sink interface {
	Deliver(ctx context.Context, ev Event) error
}

// Dispatcher fans events out to a sink in the background.
type Dispatcher struct {
	sink    Sink
	log     *zap.Logger
	timeout time.Duration
	now     func() time.Time
	wg      sync.WaitGroup
}

// New returns a dispatcher over sink. A nil sink logs events instead of sending them.
func New(sink Sink, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("notify")
	if sink == nil {
		sink = LogSink{Log: log}
	}
	return &Dispatcher{sink: sink, log: log, timeout: 15 * time.Second, now: time.Now}
}

// Notify returns immediately. Delivery errors and panics are logged and dropped.
func (d *Dispatcher) Notify(eventType string, payload map[string]any) {
	snapshot := make(map[string]any, len(payload))
	for k, v := range payload {
		snapshot[k] = v
	}
	ev := Event{Type: eventType, Payload: snapshot, At: d.now()}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.log.Error("notification panicked", zap.String("event", ev.Type), zap.String("panic", fmt.Sprint(r)))
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.sink.Deliver(ctx, ev); err != nil {
			d.log.Warn("notification failed", zap.String("event", ev.Type), zap.Error(err))
		}
	}()
}

// Wait blocks until in-flight deliveries finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LogSink writes events to the log; used when no chat is configured.
type LogSink struct {
	Log *zap.Logger
}

func (s LogSink) Deliver(_ context.Context, ev Event) error {
	fields := make([]zap.Field, 0, len(ev.Payload)+1)
	fields = append(fields, zap.String("event", ev.Type))
	for _, k := range sortedKeys(ev.Payload) {
		fields = append(fields, zap.Any(k, ev.Payload[k]))
	}
	s.Log.Info("notification", fields...)
	return nil
}
