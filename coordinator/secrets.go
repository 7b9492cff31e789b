package coordinator

import (
	"context"

	"go.dedis.ch/secretcompute/cluster"
	"go.dedis.ch/secretcompute/metrics"
	"go.dedis.ch/secretcompute/mpcerr"
	"go.dedis.ch/secretcompute/types"
)

// StoreValues stores named secrets under perms, paying with receipt, and
// returns one handle per distinct name, ordered by name.
func (s *Session) StoreValues(ctx context.Context, values types.NamedValues, perms types.Permissions,
	receipt types.Receipt) (types.StoreHandles, error) {

	s.opMu.Lock()
	defer s.opMu.Unlock()

	return s.storeValues(ctx, values, perms, &receipt)
}

// PayAndStoreValues quotes, pays and stores named secrets.
func (s *Session) PayAndStoreValues(ctx context.Context, values types.NamedValues,
	perms types.Permissions) (types.StoreHandles, error) {

	s.opMu.Lock()
	defer s.opMu.Unlock()

	return s.storeValues(ctx, values, perms, nil)
}

// DefaultPermissions returns the owner permissions of the session user.
func (s *Session) DefaultPermissions() types.Permissions {
	return types.DefaultPermissionsFor(s.UserID())
}

// storeValues must be called with opMu held. A nil receipt is paid for.
func (s *Session) storeValues(ctx context.Context, values types.NamedValues, perms types.Permissions,
	receipt *types.Receipt) (types.StoreHandles, error) {

	if len(values) == 0 {
		return nil, mpcerr.New(mpcerr.Secrets, mpcerr.OpStoreValues, mpcerr.ErrValueRange, "no values")
	}
	name, err := values.Check()
	if err != nil {
		return nil, mpcerr.Classify(mpcerr.Secrets, mpcerr.OpStoreValues, err).WithField(name)
	}
	err = s.checkPermissions(perms)
	if err != nil {
		return nil, err
	}

	op := types.StoreValuesOperation(values, s.conf.ValueTTL)

	if receipt == nil {
		paid, err := s.payment.QuoteAndPay(ctx, op)
		if err != nil {
			return nil, err
		}
		receipt = &paid
	}

	err = s.consumeReceipt(mpcerr.Secrets, mpcerr.OpStoreValues, *receipt, op)
	if err != nil {
		return nil, err
	}

	req := cluster.StoreValuesRequest{
		Values:      values,
		Permissions: perms,
		TTL:         s.conf.ValueTTL,
		Receipt:     *receipt,
	}
	req.Auth, err = s.keys.Authenticate(req.Digest())
	if err != nil {
		return nil, mpcerr.Classify(mpcerr.Secrets, mpcerr.OpStoreValues, err)
	}

	// not retried: the receipt is spent by the first attempt
	raw, err := s.cluster.StoreValues(ctx, s.conf.ClusterID, req)
	if err != nil {
		return nil, mpcerr.Classify(mpcerr.Secrets, mpcerr.OpStoreValues, err)
	}

	handles, err := raw.Normalize(values.Names())
	if err != nil {
		return nil, mpcerr.Classify(mpcerr.Secrets, mpcerr.OpStoreValues, err)
	}

	s.Lock()
	for _, h := range handles {
		if h.Name != "" {
			s.stored[h.ID] = append(s.stored[h.ID], h.Name)
		}
	}
	s.Unlock()

	metrics.Get().ValuesStored.Add(float64(len(values)))
	s.logger.Info().Msgf("stored %v as %v", values.Names(), handles)
	return handles, nil
}

// checkPermissions refuses compute grants on programs the session neither
// owns nor trusts, and values owned by another user.
func (s *Session) checkPermissions(perms types.Permissions) error {
	if perms.Owner != s.UserID() {
		return mpcerr.New(mpcerr.Secrets, mpcerr.OpStoreValues, mpcerr.ErrPermissionConflict,
			"values would be owned by %s", perms.Owner).WithField("owner")
	}

	s.RLock()
	defer s.RUnlock()

	for _, ref := range perms.Programs() {
		if ref.Owner == s.UserID() {
			continue
		}
		if _, ok := s.trusted[ref]; !ok {
			return mpcerr.New(mpcerr.Secrets, mpcerr.OpStoreValues, mpcerr.ErrPermissionConflict,
				"program %s is neither owned nor trusted", ref).WithField(ref.String())
		}
	}
	return nil
}
