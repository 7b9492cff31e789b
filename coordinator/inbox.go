package coordinator

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.dedis.ch/secretcompute/cluster"
	"go.dedis.ch/secretcompute/metrics"
	"go.dedis.ch/secretcompute/mpcerr"
	"go.dedis.ch/secretcompute/types"
)

// Inbox is the ordered queue of the compute events of a session. Events of
// every compute id share it; WaitFor picks the events of one id and leaves
// the others for their own waiters. A terminal event is delivered once, then
// its id is forgotten and late duplicates are dropped. Progress events nobody
// takes are kept up to a bound, past which the oldest is dropped.
type Inbox struct {
	sync.Mutex
	stream  cluster.EventStream
	timeout time.Duration
	logger  zerolog.Logger

	queue []types.ComputeEvent
	// progress counts the queued non-terminal events, at most maxProgress
	progress    int
	maxProgress int

	done    map[types.ComputeID]struct{}
	closed  bool
	cause   error
	changed chan struct{}
	stopped chan struct{}
}

// maxProgressEvents is the default bound on queued non-terminal events.
const maxProgressEvents = 1024

func newInbox(stream cluster.EventStream, timeout time.Duration, logger zerolog.Logger) *Inbox {
	in := &Inbox{
		stream:      stream,
		timeout:     timeout,
		logger:      logger,
		maxProgress: maxProgressEvents,
		done:        map[types.ComputeID]struct{}{},
		changed:     make(chan struct{}),
		stopped:     make(chan struct{}),
	}

	go in.pump()
	return in
}

// pump moves events from the stream to the queue until the stream ends.
func (in *Inbox) pump() {
	defer close(in.stopped)

	metrics.Get().Streams.Inc()
	defer metrics.Get().Streams.Dec()

	for {
		ev, err := in.stream.Recv(context.Background())
		if err != nil {
			in.Lock()
			in.closed = true
			if !errors.Is(err, io.EOF) {
				in.cause = err
			}
			in.notifyLocked()
			in.Unlock()

			in.logger.Info().Msgf("event stream ended: %v", err)
			return
		}

		metrics.Get().Events.WithLabelValues(string(ev.Kind)).Inc()

		in.Lock()
		if _, ok := in.done[ev.ComputeID]; ok {
			in.Unlock()
			in.logger.Debug().Msgf("dropping %s, already delivered", ev)
			continue
		}
		in.queue = append(in.queue, ev)
		if !ev.Terminal() {
			in.progress++
			if in.progress > in.maxProgress {
				in.dropProgressLocked()
			}
		}
		in.notifyLocked()
		in.Unlock()
	}
}

// dropProgressLocked drops the oldest queued non-terminal event. Must be
// called with the lock held.
func (in *Inbox) dropProgressLocked() {
	for i, ev := range in.queue {
		if ev.Terminal() {
			continue
		}
		in.queue = append(in.queue[:i], in.queue[i+1:]...)
		in.progress--
		in.logger.Debug().Msgf("dropping %s, too many pending events", ev)
		return
	}
}

// notifyLocked wakes every waiter. Must be called with the lock held.
func (in *Inbox) notifyLocked() {
	close(in.changed)
	in.changed = make(chan struct{})
}

// Next returns the next event of any compute id, waiting for one if the
// queue is empty. Giving up on ctx ends the local wait only.
func (in *Inbox) Next(ctx context.Context) (types.ComputeEvent, error) {
	return in.take(ctx, func(types.ComputeEvent) bool { return true })
}

// WaitFor returns the terminal event of a compute id, dropping the events of
// that id that precede it. An error event is returned together with
// ErrComputeFailed. A compute id whose terminal event was already delivered
// is unknown.
func (in *Inbox) WaitFor(ctx context.Context, id types.ComputeID) (types.ComputeEvent, error) {
	in.Lock()
	_, delivered := in.done[id]
	in.Unlock()
	if delivered {
		return types.ComputeEvent{}, mpcerr.New(mpcerr.Events, mpcerr.OpPoll, mpcerr.ErrUnknownCompute,
			"already delivered").WithField(string(id))
	}

	for {
		ev, err := in.take(ctx, func(ev types.ComputeEvent) bool { return ev.ComputeID == id })
		if err != nil {
			return types.ComputeEvent{}, err
		}
		if !ev.Terminal() {
			in.logger.Debug().Msgf("compute %s is %s", id, ev.Kind)
			continue
		}
		if ev.Kind == types.EventError {
			return ev, failed(ev)
		}
		return ev, nil
	}
}

func (in *Inbox) take(ctx context.Context, match func(types.ComputeEvent) bool) (types.ComputeEvent, error) {
	if in.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, in.timeout)
		defer cancel()
	}

	for {
		in.Lock()
		for i, ev := range in.queue {
			if !match(ev) {
				continue
			}
			in.queue = append(in.queue[:i], in.queue[i+1:]...)
			if ev.Terminal() {
				in.done[ev.ComputeID] = struct{}{}
			} else {
				in.progress--
			}
			in.Unlock()
			return ev, nil
		}
		if in.closed {
			cause := in.cause
			in.Unlock()
			return types.ComputeEvent{}, mpcerr.Wrap(mpcerr.Events, mpcerr.OpPoll, mpcerr.ErrStreamClosed, cause)
		}
		changed := in.changed
		in.Unlock()

		select {
		case <-ctx.Done():
			return types.ComputeEvent{}, mpcerr.Wrap(mpcerr.Events, mpcerr.OpPoll, nil, ctx.Err())
		case <-changed:
		}
	}
}

// Pending returns the number of queued events.
func (in *Inbox) Pending() int {
	in.Lock()
	defer in.Unlock()

	return len(in.queue)
}

func (in *Inbox) close() error {
	err := in.stream.Close()
	<-in.stopped
	return err
}

func failed(ev types.ComputeEvent) error {
	return mpcerr.New(mpcerr.Events, mpcerr.OpPoll, mpcerr.ErrComputeFailed, "%s", ev.Err).
		WithField(string(ev.ComputeID))
}
