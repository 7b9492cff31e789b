package coordinator

import (
	"context"
	"errors"

	"go.dedis.ch/secretcompute/cluster"
	"go.dedis.ch/secretcompute/metrics"
	"go.dedis.ch/secretcompute/mpcerr"
	"go.dedis.ch/secretcompute/program"
	"go.dedis.ch/secretcompute/types"
)

// Submit validates and submits a computation, paying with receipt. Nothing is
// sent when the bindings, the handles or the inline secrets do not fit the
// program, or when the receipt was already used. Submission is never retried.
func (s *Session) Submit(ctx context.Context, bindings types.Bindings, handles types.StoreHandles,
	inline types.NamedValues, receipt types.Receipt) (types.ComputeID, error) {

	s.opMu.Lock()
	defer s.opMu.Unlock()

	return s.submit(ctx, bindings, handles, inline, &receipt)
}

// PayAndSubmit validates the computation, then quotes, pays and submits it.
func (s *Session) PayAndSubmit(ctx context.Context, bindings types.Bindings, handles types.StoreHandles,
	inline types.NamedValues) (types.ComputeID, error) {

	s.opMu.Lock()
	defer s.opMu.Unlock()

	return s.submit(ctx, bindings, handles, inline, nil)
}

// submit must be called with opMu held. A nil receipt is paid for once the
// request is known to be valid.
func (s *Session) submit(ctx context.Context, bindings types.Bindings, handles types.StoreHandles,
	inline types.NamedValues, receipt *types.Receipt) (types.ComputeID, error) {

	m, err := s.checkBindings(bindings)
	if err != nil {
		metrics.Get().Submissions.WithLabelValues("invalid").Inc()
		return "", err
	}
	err = s.checkInputs(m, bindings, handles, inline)
	if err != nil {
		metrics.Get().Submissions.WithLabelValues("invalid").Inc()
		return "", err
	}

	op := types.ComputeOperation(bindings.Program, inline)

	if receipt == nil {
		paid, err := s.payment.QuoteAndPay(ctx, op)
		if err != nil {
			return "", err
		}
		receipt = &paid
	}

	err = s.consumeReceipt(mpcerr.Compute, mpcerr.OpSubmit, *receipt, op)
	if err != nil {
		metrics.Get().Submissions.WithLabelValues("invalid").Inc()
		return "", err
	}

	req := cluster.ComputeRequest{
		Request: types.ComputeRequest{
			Bindings: bindings,
			Handles:  handles.IDs(),
			Inline:   inline,
			Receipt:  *receipt,
		},
	}
	req.Auth, err = s.keys.Authenticate(req.Digest())
	if err != nil {
		return "", mpcerr.Classify(mpcerr.Compute, mpcerr.OpSubmit, err)
	}

	id, err := s.cluster.Compute(ctx, s.conf.ClusterID, req)
	if err != nil {
		metrics.Get().Submissions.WithLabelValues("rejected").Inc()
		return "", mpcerr.Classify(mpcerr.Compute, mpcerr.OpSubmit, err)
	}

	metrics.Get().Submissions.WithLabelValues("submitted").Inc()
	s.logger.Info().Msgf("submitted compute %s for %s", id, bindings)
	return id, nil
}

// checkInputs verifies every secret named by the handles and every inline
// secret is an input of a party bound as input. Handles this session did not
// store and that carry no name are left to the network.
func (s *Session) checkInputs(m *program.Manifest, bindings types.Bindings, handles types.StoreHandles,
	inline types.NamedValues) error {

	s.RLock()
	names := []string{}
	for _, h := range handles {
		if h.Name != "" {
			names = append(names, h.Name)
			continue
		}
		names = append(names, s.stored[h.ID]...)
	}
	s.RUnlock()

	name, err := inline.Check()
	if err != nil {
		return mpcerr.Classify(mpcerr.Compute, mpcerr.OpSubmit, err).WithField(name)
	}
	names = append(names, inline.Names()...)

	for _, name := range names {
		err := m.CheckInput(bindings, name)
		if err != nil {
			return bindingError(err)
		}
	}
	return nil
}

// Status looks up the latest event of a computation this session submitted.
// Networks that cannot look computations up answer with ErrStatusUnsupported.
func (s *Session) Status(ctx context.Context, id types.ComputeID) (types.ComputeEvent, error) {
	req := cluster.StatusRequest{ComputeID: id}
	var err error
	req.Auth, err = s.keys.Authenticate(req.Digest())
	if err != nil {
		return types.ComputeEvent{}, mpcerr.Classify(mpcerr.Events, mpcerr.OpStatus, err)
	}

	ev, err := s.cluster.Status(ctx, s.conf.ClusterID, req)
	if err != nil {
		return types.ComputeEvent{}, mpcerr.Classify(mpcerr.Events, mpcerr.OpStatus, err)
	}
	return ev, nil
}

// Result waits for the terminal event of a computation. When the stream
// closes first, the outcome is looked up by id; if the lookup fails too the
// result stays unknown and the stream error is returned.
func (s *Session) Result(ctx context.Context, id types.ComputeID) (types.ComputeEvent, error) {
	ev, err := s.inbox.WaitFor(ctx, id)
	if !errors.Is(err, mpcerr.ErrStreamClosed) {
		return ev, err
	}

	status, lookupErr := s.Status(ctx, id)
	if lookupErr != nil || !status.Terminal() {
		s.logger.Warn().Msgf("outcome of %s unknown: %v", id, err)
		return types.ComputeEvent{}, err
	}
	if status.Kind == types.EventError {
		return status, failed(status)
	}
	return status, nil
}
