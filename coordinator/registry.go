package coordinator

import (
	"context"

	"go.dedis.ch/secretcompute/cluster"
	"go.dedis.ch/secretcompute/metrics"
	"go.dedis.ch/secretcompute/mpcerr"
	"go.dedis.ch/secretcompute/program"
	"go.dedis.ch/secretcompute/types"
)

// StoreProgram uploads the artifact of src under name, paying with receipt.
// The program reference is built locally: the registry keeps the last upload
// of a name.
func (s *Session) StoreProgram(ctx context.Context, name string, src program.Source,
	receipt types.Receipt) (types.ActionID, types.ProgramRef, error) {

	s.opMu.Lock()
	defer s.opMu.Unlock()

	return s.storeProgram(ctx, name, src, &receipt)
}

// PayAndStoreProgram quotes, pays and uploads the artifact of src.
func (s *Session) PayAndStoreProgram(ctx context.Context, name string,
	src program.Source) (types.ActionID, types.ProgramRef, error) {

	s.opMu.Lock()
	defer s.opMu.Unlock()

	return s.storeProgram(ctx, name, src, nil)
}

// storeProgram must be called with opMu held. A nil receipt is paid for.
func (s *Session) storeProgram(ctx context.Context, name string, src program.Source,
	receipt *types.Receipt) (types.ActionID, types.ProgramRef, error) {

	if name == "" {
		return "", types.ProgramRef{}, mpcerr.New(mpcerr.Registry, mpcerr.OpStoreProgram,
			mpcerr.ErrConfig, "empty program name").WithField("name")
	}

	artifact, manifest, err := src.LoadManifest()
	if err != nil {
		return "", types.ProgramRef{}, err
	}
	op := types.StoreProgramOperation(name, artifact)

	if receipt == nil {
		paid, err := s.payment.QuoteAndPay(ctx, op)
		if err != nil {
			return "", types.ProgramRef{}, err
		}
		receipt = &paid
	}

	err = s.consumeReceipt(mpcerr.Registry, mpcerr.OpStoreProgram, *receipt, op)
	if err != nil {
		return "", types.ProgramRef{}, err
	}

	req := cluster.StoreProgramRequest{Name: name, Artifact: artifact, Receipt: *receipt}
	req.Auth, err = s.keys.Authenticate(req.Digest())
	if err != nil {
		return "", types.ProgramRef{}, mpcerr.Classify(mpcerr.Registry, mpcerr.OpStoreProgram, err)
	}

	var action types.ActionID
	err = s.retry(ctx, mpcerr.Registry, mpcerr.OpStoreProgram, func() error {
		var err error
		action, err = s.cluster.StoreProgram(ctx, s.conf.ClusterID, req)
		return err
	})
	if err != nil {
		return "", types.ProgramRef{}, mpcerr.Classify(mpcerr.Registry, mpcerr.OpStoreProgram, err)
	}

	ref := s.ProgramRef(name)
	s.RegisterManifest(ref, manifest)
	metrics.Get().ProgramsStored.Inc()

	s.logger.Info().Msgf("stored program %s (action %s)", ref, action)
	return action, ref, nil
}
