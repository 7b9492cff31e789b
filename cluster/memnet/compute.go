package memnet

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/xid"
	"go.dedis.ch/secretcompute/cluster"
	"go.dedis.ch/secretcompute/metrics"
	"go.dedis.ch/secretcompute/mpcerr"
	"go.dedis.ch/secretcompute/program"
	"go.dedis.ch/secretcompute/types"
)

// Compute implements cluster.Client.
func (c *Cluster) Compute(ctx context.Context, clusterID string, req cluster.ComputeRequest) (types.ComputeID, error) {
	user, err := c.authenticate(clusterID, mpcerr.OpSubmit, req, req.Auth)
	if err != nil {
		return "", err
	}
	r := req.Request
	ref := r.Bindings.Program

	c.Lock()
	defer c.Unlock()

	manifest, ok := c.programs[ref]
	if !ok {
		return "", mpcerr.New(mpcerr.Cluster, mpcerr.OpSubmit, mpcerr.ErrUnknownProgram, "%s", ref)
	}
	err = manifest.CheckBindings(r.Bindings)
	if err != nil {
		return "", bindingError(err)
	}

	values, err := c.gather(user, manifest, r)
	if err != nil {
		return "", err
	}

	err = c.consumeReceipt(mpcerr.OpSubmit, r.Receipt, types.ComputeOperation(ref, r.Inline))
	if err != nil {
		return "", err
	}

	comp := &computation{
		id:         types.ComputeID(xid.New().String()),
		submitter:  user,
		recipients: map[string]struct{}{},
	}
	for _, id := range manifest.Recipients(r.Bindings) {
		comp.recipients[id] = struct{}{}
	}
	c.computes[comp.id] = comp
	c.publishLocked(comp, types.ComputeEvent{ComputeID: comp.id, Kind: types.EventQueued})

	c.wg.Add(1)
	go c.run(comp, manifest, values)

	c.logger.Info().Msgf("compute %s of %s submitted by %s", comp.id, ref, user)
	return comp.id, nil
}

// gather collects the values of the handles and the inline values. Must be
// called with the lock held.
func (c *Cluster) gather(user string, manifest *program.Manifest, r types.ComputeRequest) (map[string]types.Value, error) {
	values := map[string]types.Value{}
	add := func(v types.NamedValue) error {
		if _, ok := values[v.Name]; ok {
			return mpcerr.New(mpcerr.Cluster, mpcerr.OpSubmit, mpcerr.ErrDuplicateValue, "").WithField(v.Name)
		}
		err := manifest.CheckInput(r.Bindings, v.Name)
		if err != nil {
			return bindingError(err)
		}
		values[v.Name] = v.Value
		return nil
	}

	now := c.now()
	for _, id := range r.Handles {
		s, ok := c.stores[id]
		if !ok || now.After(s.expires) {
			return nil, mpcerr.New(mpcerr.Cluster, mpcerr.OpSubmit, mpcerr.ErrUnknownStore, "").WithField(id)
		}
		if !s.perms.CanCompute(user, r.Bindings.Program) {
			return nil, mpcerr.New(mpcerr.Cluster, mpcerr.OpSubmit, mpcerr.ErrPermissionDenied,
				"%s may not use store %s in %s", user, id, r.Bindings.Program)
		}
		for _, sv := range s.values {
			err := add(sv.reveal())
			if err != nil {
				return nil, err
			}
		}
	}

	name, err := r.Inline.Check()
	if err != nil {
		return nil, mpcerr.Classify(mpcerr.Cluster, mpcerr.OpSubmit, err).WithField(name)
	}
	for _, v := range r.Inline {
		err := add(v)
		if err != nil {
			return nil, err
		}
	}
	return values, nil
}

func (c *Cluster) run(comp *computation, manifest *program.Manifest, values map[string]types.Value) {
	defer c.wg.Done()

	time.Sleep(c.computeDelay)
	c.publish(comp, types.ComputeEvent{ComputeID: comp.id, Kind: types.EventComputing})
	time.Sleep(c.computeDelay)

	result, err := manifest.Run(values)
	if err != nil {
		metrics.Get().Computations.WithLabelValues("error").Inc()
		c.logger.Warn().Msgf("compute %s failed: %v", comp.id, err)
		c.publish(comp, types.ComputeEvent{ComputeID: comp.id, Kind: types.EventError, Err: err.Error()})
		return
	}

	metrics.Get().Computations.WithLabelValues("finished").Inc()
	c.publish(comp, types.ComputeEvent{ComputeID: comp.id, Kind: types.EventFinished, Result: result})
}

// Status implements cluster.Client.
func (c *Cluster) Status(ctx context.Context, clusterID string, req cluster.StatusRequest) (types.ComputeEvent, error) {
	user, err := c.authenticate(clusterID, mpcerr.OpStatus, req, req.Auth)
	if err != nil {
		return types.ComputeEvent{}, err
	}

	c.RLock()
	defer c.RUnlock()

	comp, ok := c.computes[req.ComputeID]
	if !ok {
		return types.ComputeEvent{}, mpcerr.New(mpcerr.Cluster, mpcerr.OpStatus, mpcerr.ErrUnknownCompute,
			"").WithField(string(req.ComputeID))
	}
	if comp.submitter != user {
		return types.ComputeEvent{}, mpcerr.New(mpcerr.Cluster, mpcerr.OpStatus, mpcerr.ErrPermissionDenied,
			"compute %s was not submitted by %s", comp.id, user)
	}
	return comp.last, nil
}

// -----------------------------------------------------------------------------
// Events

// Subscribe implements cluster.Client. The stream ends when ctx is done, when
// it is closed or when the cluster is closed.
func (c *Cluster) Subscribe(ctx context.Context, clusterID string, req cluster.SubscribeRequest) (cluster.EventStream, error) {
	user, err := c.authenticate(clusterID, mpcerr.OpSubscribe, req, req.Auth)
	if err != nil {
		return nil, err
	}
	if req.UserID != user {
		return nil, mpcerr.New(mpcerr.Cluster, mpcerr.OpSubscribe, mpcerr.ErrPermissionDenied,
			"%s cannot subscribe for %s", user, req.UserID)
	}

	sub := &subscription{
		cluster: c,
		user:    user,
		party:   req.PartyID,
		notify:  make(chan struct{}, 1),
	}

	c.Lock()
	c.subs[sub] = struct{}{}
	c.Unlock()

	stop := context.AfterFunc(ctx, func() { sub.Close() })
	sub.Lock()
	sub.stop = stop
	sub.Unlock()

	return sub, nil
}

// Disconnect ends the subscriptions of a user, as a dropped connection would.
func (c *Cluster) Disconnect(user string) {
	c.Lock()
	subs := []*subscription{}
	for sub := range c.subs {
		if sub.user == user {
			subs = append(subs, sub)
		}
	}
	c.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

func (c *Cluster) publish(comp *computation, ev types.ComputeEvent) {
	c.Lock()
	defer c.Unlock()

	c.publishLocked(comp, ev)
}

func (c *Cluster) publishLocked(comp *computation, ev types.ComputeEvent) {
	comp.last = ev
	for sub := range c.subs {
		_, recipient := comp.recipients[sub.party]
		if sub.user == comp.submitter || recipient {
			sub.push(ev)
		}
	}
}

type subscription struct {
	sync.Mutex
	cluster *Cluster
	user    string
	party   string
	queue   []types.ComputeEvent
	closed  bool
	notify  chan struct{}
	stop    func() bool
}

func (s *subscription) push(ev types.ComputeEvent) {
	s.Lock()
	defer s.Unlock()

	if s.closed {
		return
	}
	s.queue = append(s.queue, ev)
	s.wake()
}

// wake must be called with the lock held.
func (s *subscription) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Recv implements cluster.EventStream. Events queued before the stream was
// closed are still delivered.
func (s *subscription) Recv(ctx context.Context) (types.ComputeEvent, error) {
	for {
		s.Lock()
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue = s.queue[1:]
			s.Unlock()
			return ev, nil
		}
		if s.closed {
			s.Unlock()
			return types.ComputeEvent{}, io.EOF
		}
		s.Unlock()

		select {
		case <-ctx.Done():
			return types.ComputeEvent{}, ctx.Err()
		case <-s.notify:
		}
	}
}

// Close implements cluster.EventStream.
func (s *subscription) Close() error {
	s.Lock()
	if s.closed {
		s.Unlock()
		return nil
	}
	s.closed = true
	s.wake()
	stop := s.stop
	s.Unlock()

	if stop != nil {
		stop()
	}

	s.cluster.Lock()
	delete(s.cluster.subs, s)
	s.cluster.Unlock()
	return nil
}

func bindingError(err error) error {
	var be *program.BindingError
	if errors.As(err, &be) {
		return mpcerr.Wrap(mpcerr.Cluster, mpcerr.OpSubmit, be.Kind, be).WithField(be.Party)
	}
	return mpcerr.Classify(mpcerr.Cluster, mpcerr.OpSubmit, err)
}
