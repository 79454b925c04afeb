package xchannel

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xlog"
)

// LoggingObserver is an Adapter that emits channel events via xlog.
type LoggingObserver struct {
	Logger *xlog.Logger
}

func (o LoggingObserver) OnEvent(e Event) {
	if o.Logger == nil {
		return
	}
	l := o.Logger.With(
		xlog.Str("type", string(e.Type)),
		xlog.Str("channel_id", e.ChannelID),
		xlog.Str("connector", e.ConnectorName),
		xlog.Str("metadata_id", strconv.Itoa(e.MetaDataID)),
	)
	switch e.Type {
	case EventStateChanged:
		l.Info().Str("state", string(e.State)).Msg("xchannel: connector state changed")
	case EventConnectionStatus:
		l.Debug().Str("status", string(e.ConnectionStatus)).Str("info", e.Info).Msg("xchannel: connection status")
	case EventMessageProcessed:
		ev := l.Debug()
		if e.Status == StatusError {
			ev = l.Warn()
		}
		ev.Str("message_id", strconv.FormatInt(e.MessageID, 10)).
			Str("status", string(e.Status)).
			Dur("duration", e.Duration).
			Err(e.Err).
			Msg("xchannel: message processed")
	case EventError:
		l.Warn().
			Str("message_id", strconv.FormatInt(e.MessageID, 10)).
			Str("error", e.Info).
			Msg("xchannel: connector message failed")
	default:
		l.Warn().Err(e.Err).Str("info", e.Info).Msg("xchannel event")
	}
}

// EventQueue is a bounded asynchronous EventSink. Emit never blocks; when the
// buffer is full the event is dropped and counted.
type EventQueue struct {
	eventCh   chan *Event
	workers   int
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closed    atomic.Bool
	dropped   atomic.Uint64
	processed atomic.Uint64

	observersMu sync.RWMutex
	observers   []Observer
}

var _ EventSink = (*EventQueue)(nil)

// NewEventQueue starts workers delivering to observers. A single worker keeps
// per-observer delivery in emit order.
func NewEventQueue(ctx context.Context, workers, bufferSize int) *EventQueue {
	if workers < 1 {
		workers = 1
	}
	if bufferSize < 1 {
		bufferSize = 1000
	}

	qctx, cancel := context.WithCancel(ctx)
	q := &EventQueue{
		eventCh: make(chan *Event, bufferSize),
		workers: workers,
		ctx:     qctx,
		cancel:  cancel,
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// AddObserver registers an observer (thread-safe).
func (q *EventQueue) AddObserver(obs Observer) {
	if obs == nil {
		return
	}
	q.observersMu.Lock()
	q.observers = append(q.observers, obs)
	q.observersMu.Unlock()
}

// RemoveObserver removes an observer.
func (q *EventQueue) RemoveObserver(obs Observer) {
	if obs == nil {
		return
	}
	q.observersMu.Lock()
	defer q.observersMu.Unlock()
	for i, o := range q.observers {
		if o == obs {
			q.observers = append(q.observers[:i], q.observers[i+1:]...)
			break
		}
	}
}

// Emit queues e for asynchronous delivery.
func (q *EventQueue) Emit(e Event) {
	if q.closed.Load() {
		return
	}
	q.observersMu.RLock()
	if len(q.observers) == 0 {
		q.observersMu.RUnlock()
		return
	}
	e.observers = make([]Observer, len(q.observers))
	copy(e.observers, q.observers)
	q.observersMu.RUnlock()

	select {
	case q.eventCh <- &e:
	default:
		q.dropped.Add(1)
	}
}

func (q *EventQueue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			for {
				select {
				case e := <-q.eventCh:
					if e != nil {
						q.dispatch(e)
					}
				default:
					return
				}
			}
		case e := <-q.eventCh:
			if e != nil {
				q.dispatch(e)
			}
		}
	}
}

// dispatch tolerates observer panics.
func (q *EventQueue) dispatch(e *Event) {
	for _, obs := range e.observers {
		if obs == nil {
			continue
		}
		func() {
			defer func() { _ = recover() }()
			obs.OnEvent(*e)
		}()
	}
	q.processed.Add(1)
}

// Close drains queued events, waiting at most timeout.
func (q *EventQueue) Close(timeout time.Duration) error {
	if q.closed.Swap(true) {
		return nil
	}
	q.cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrEventQueueShutdownTimeout
	}
}

// QueueStats is telemetry about the event queue.
type QueueStats struct {
	Dropped      uint64
	Processed    uint64
	ActiveEvents int
	Workers      int
	BufferSize   int
}

func (q *EventQueue) Stats() QueueStats {
	return QueueStats{
		Dropped:      q.dropped.Load(),
		Processed:    q.processed.Load(),
		ActiveEvents: len(q.eventCh),
		Workers:      q.workers,
		BufferSize:   cap(q.eventCh),
	}
}
