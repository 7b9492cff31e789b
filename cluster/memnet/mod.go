// Package memnet is an in-process devnet cluster. It prices operations,
// checks payments on a ledger, stores programs and stores integer values as
// Shamir shares among simulated nodes. Programs run on the rebuilt values.
// It stands in for a real MPC cluster in tests and in the devnet command.
package memnet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.dedis.ch/secretcompute/cluster"
	"go.dedis.ch/secretcompute/keys"
	"go.dedis.ch/secretcompute/ledger"
	"go.dedis.ch/secretcompute/metrics"
	"go.dedis.ch/secretcompute/mpcerr"
	"go.dedis.ch/secretcompute/program"
	"go.dedis.ch/secretcompute/types"
	"golang.org/x/xerrors"
)

// Pricing is the price list of the cluster, in the smallest ledger unit.
type Pricing struct {
	StoreProgram uint64
	StoreValue   uint64
	Compute      uint64
}

// DefaultPricing is used unless told otherwise.
var DefaultPricing = Pricing{
	StoreProgram: 10,
	StoreValue:   2,
	Compute:      5,
}

// DefaultQuoteTTL is how long a quote can be paid.
const DefaultQuoteTTL = time.Minute

type store struct {
	owner   string
	values  []sharedValue
	perms   types.Permissions
	expires time.Time
}

type computation struct {
	id         types.ComputeID
	submitter  string
	recipients map[string]struct{}
	last       types.ComputeEvent
}

// Cluster is an in-memory cluster. It implements cluster.Client.
type Cluster struct {
	sync.RWMutex

	id     string
	key    *ecdsa.PrivateKey
	payTo  string
	ledger ledger.Client

	pricing      Pricing
	nodes        int
	quoteTTL     time.Duration
	computeDelay time.Duration
	handleShape  types.HandleShape
	now          func() time.Time

	quotes   map[string]types.Quote
	redeemed map[string]types.Receipt
	consumed map[string]struct{}
	programs map[types.ProgramRef]*program.Manifest
	stores   map[string]*store
	computes map[types.ComputeID]*computation
	subs     map[*subscription]struct{}

	wg     sync.WaitGroup
	logger zerolog.Logger
}

// Option configures a Cluster.
type Option func(*Cluster)

// WithPricing sets the price list.
func WithPricing(p Pricing) Option {
	return func(c *Cluster) {
		c.pricing = p
	}
}

// WithNodes sets the number of nodes values are shared among.
func WithNodes(n int) Option {
	return func(c *Cluster) {
		c.nodes = n
	}
}

// WithQuoteTTL sets how long quotes are valid.
func WithQuoteTTL(ttl time.Duration) Option {
	return func(c *Cluster) {
		c.quoteTTL = ttl
	}
}

// WithComputeDelay delays every computation step.
func WithComputeDelay(d time.Duration) Option {
	return func(c *Cluster) {
		c.computeDelay = d
	}
}

// WithHandleShape sets how store handles are reported.
func WithHandleShape(shape types.HandleShape) Option {
	return func(c *Cluster) {
		c.handleShape = shape
	}
}

// WithKey sets the key the cluster signs receipts with and is paid to.
func WithKey(key *ecdsa.PrivateKey) Option {
	return func(c *Cluster) {
		c.key = key
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cluster) {
		c.now = now
	}
}

// New creates a cluster verifying payments on l.
func New(id string, l ledger.Client, opts ...Option) (*Cluster, error) {
	c := &Cluster{
		id:          id,
		ledger:      l,
		pricing:     DefaultPricing,
		nodes:       DefaultNodes,
		quoteTTL:    DefaultQuoteTTL,
		handleShape: types.HandleSingle,
		now:         time.Now,

		quotes:   map[string]types.Quote{},
		redeemed: map[string]types.Receipt{},
		consumed: map[string]struct{}{},
		programs: map[types.ProgramRef]*program.Manifest{},
		stores:   map[string]*store{},
		computes: map[types.ComputeID]*computation{},
		subs:     map[*subscription]struct{}{},
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.nodes < 1 {
		return nil, xerrors.Errorf("cluster needs at least one node, got %d", c.nodes)
	}
	if c.key == nil {
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, err
		}
		c.key = key
	}
	c.payTo = keys.Address(&c.key.PublicKey)
	c.logger = log.With().Str("component", "memnet").Str("cluster", id).Logger()

	return c, nil
}

// ID returns the cluster id.
func (c *Cluster) ID() string {
	return c.id
}

// PayTo returns the ledger address quotes are paid to.
func (c *Cluster) PayTo() string {
	return c.payTo
}

// Close ends every subscription and waits for running computations.
func (c *Cluster) Close() {
	c.Lock()
	subs := make([]*subscription, 0, len(c.subs))
	for sub := range c.subs {
		subs = append(subs, sub)
	}
	c.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	c.wg.Wait()
}

// -----------------------------------------------------------------------------
// Payment

// Quote implements cluster.Client.
func (c *Cluster) Quote(ctx context.Context, clusterID string, op types.Operation) (types.Quote, error) {
	err := c.checkCluster(clusterID, mpcerr.OpQuote)
	if err != nil {
		return types.Quote{}, err
	}

	quote := types.Quote{
		ID:        xid.New().String(),
		ClusterID: c.id,
		Operation: op,
		Price:     c.price(op),
		PayTo:     c.payTo,
		ExpiresAt: c.now().Add(c.quoteTTL),
	}

	c.Lock()
	c.quotes[quote.ID] = quote
	c.Unlock()

	return quote, nil
}

func (c *Cluster) price(op types.Operation) uint64 {
	switch op.Kind {
	case types.OpStoreProgram:
		return c.pricing.StoreProgram
	case types.OpStoreValues:
		return c.pricing.StoreValue * uint64(op.Size)
	}
	return c.pricing.Compute + c.pricing.StoreValue*uint64(op.Size)
}

// Redeem implements cluster.Client.
func (c *Cluster) Redeem(ctx context.Context, clusterID string, req cluster.RedeemRequest) (types.Receipt, error) {
	err := c.checkCluster(clusterID, mpcerr.OpRedeem)
	if err != nil {
		return types.Receipt{}, err
	}

	c.RLock()
	quote, ok := c.quotes[req.QuoteID]
	receipt, done := c.redeemed[req.QuoteID]
	c.RUnlock()

	if !ok {
		return types.Receipt{}, mpcerr.New(mpcerr.Cluster, mpcerr.OpRedeem, mpcerr.ErrReceiptInvalid,
			"unknown quote %s", req.QuoteID)
	}
	if done {
		if receipt.TxHash != req.TxHash {
			return types.Receipt{}, mpcerr.New(mpcerr.Cluster, mpcerr.OpRedeem, mpcerr.ErrReceiptInvalid,
				"quote %s was paid by another transaction", req.QuoteID)
		}
		return receipt, nil
	}

	txn, status, err := c.ledger.Transaction(ctx, req.TxHash)
	if err != nil {
		return types.Receipt{}, mpcerr.Wrap(mpcerr.Cluster, mpcerr.OpRedeem, mpcerr.ErrTransient, err)
	}
	switch status {
	case ledger.TxConfirmed:
	case ledger.TxPending:
		return types.Receipt{}, mpcerr.New(mpcerr.Cluster, mpcerr.OpRedeem, mpcerr.ErrTransient,
			"tx %s is not confirmed yet", req.TxHash)
	default:
		return types.Receipt{}, mpcerr.New(mpcerr.Cluster, mpcerr.OpRedeem, mpcerr.ErrReceiptInvalid,
			"tx %s is %s", req.TxHash, status)
	}

	if txn.To != c.payTo || txn.Value < quote.Price || txn.Memo != quote.ID || txn.From != req.Payer {
		return types.Receipt{}, mpcerr.New(mpcerr.Cluster, mpcerr.OpRedeem, mpcerr.ErrReceiptInvalid,
			"tx %s does not pay quote %s", req.TxHash, quote.ID)
	}

	receipt = types.Receipt{
		ID:        xid.New().String(),
		QuoteID:   quote.ID,
		ClusterID: c.id,
		Operation: quote.Operation,
		TxHash:    req.TxHash,
		Amount:    txn.Value,
		Payer:     txn.From,
	}
	receipt.Signature, err = crypto.Sign(receipt.HashBytes(), c.key)
	if err != nil {
		return types.Receipt{}, mpcerr.Wrap(mpcerr.Cluster, mpcerr.OpRedeem, nil, err)
	}

	c.Lock()
	defer c.Unlock()
	// a concurrent redeem may have won
	if previous, ok := c.redeemed[quote.ID]; ok {
		return previous, nil
	}
	c.redeemed[quote.ID] = receipt
	metrics.Get().ReceiptsIssued.WithLabelValues(string(quote.Operation.Kind)).Inc()

	return receipt, nil
}

// consumeReceipt checks that receipt was issued by this cluster for op and
// was never used. Must be called with the lock held.
func (c *Cluster) consumeReceipt(op mpcerr.Op, receipt types.Receipt, expected types.Operation) error {
	refuse := func(reason string, kind error, format string, args ...interface{}) error {
		metrics.Get().ReceiptsRefused.WithLabelValues(reason).Inc()
		return mpcerr.New(mpcerr.Cluster, op, kind, format, args...)
	}

	if receipt.ClusterID != c.id || len(receipt.Signature) != crypto.SignatureLength {
		return refuse("invalid", mpcerr.ErrReceiptInvalid, "receipt %s was not issued by %s", receipt.ID, c.id)
	}
	pub, err := crypto.SigToPub(receipt.HashBytes(), receipt.Signature)
	if err != nil || keys.Address(pub) != c.payTo {
		return refuse("invalid", mpcerr.ErrReceiptInvalid, "receipt %s has a bad signature", receipt.ID)
	}
	if !receipt.Operation.Matches(expected) {
		return refuse("mismatch", mpcerr.ErrReceiptMismatch, "receipt %s pays for %s, not %s",
			receipt.ID, receipt.Operation, expected)
	}
	if _, ok := c.consumed[receipt.ID]; ok {
		return refuse("consumed", mpcerr.ErrReceiptAlreadyConsumed, "receipt %s", receipt.ID)
	}

	c.consumed[receipt.ID] = struct{}{}
	return nil
}

// -----------------------------------------------------------------------------
// Registry & store

// StoreProgram implements cluster.Client.
func (c *Cluster) StoreProgram(ctx context.Context, clusterID string, req cluster.StoreProgramRequest) (types.ActionID, error) {
	user, err := c.authenticate(clusterID, mpcerr.OpStoreProgram, req, req.Auth)
	if err != nil {
		return "", err
	}

	manifest, err := program.Parse(req.Artifact)
	if err != nil {
		return "", mpcerr.Wrap(mpcerr.Cluster, mpcerr.OpStoreProgram, mpcerr.ErrArtifactNotFound, err)
	}
	ref := types.ProgramRef{Owner: user, Name: req.Name}

	c.Lock()
	defer c.Unlock()

	err = c.consumeReceipt(mpcerr.OpStoreProgram, req.Receipt, types.StoreProgramOperation(req.Name, req.Artifact))
	if err != nil {
		return "", err
	}
	c.programs[ref] = manifest

	c.logger.Info().Msgf("stored program %s", ref)
	return types.ActionID(xid.New().String()), nil
}

// StoreValues implements cluster.Client.
func (c *Cluster) StoreValues(ctx context.Context, clusterID string, req cluster.StoreValuesRequest) (types.RawHandles, error) {
	user, err := c.authenticate(clusterID, mpcerr.OpStoreValues, req, req.Auth)
	if err != nil {
		return types.RawHandles{}, err
	}

	name, err := req.Values.Check()
	if err != nil {
		return types.RawHandles{}, mpcerr.Classify(mpcerr.Cluster, mpcerr.OpStoreValues, err).WithField(name)
	}
	if req.Permissions.Owner != user {
		return types.RawHandles{}, mpcerr.New(mpcerr.Cluster, mpcerr.OpStoreValues, mpcerr.ErrPermissionDenied,
			"values owned by %s cannot be stored by %s", req.Permissions.Owner, user)
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = types.DefaultTTL
	}

	shared := make([]sharedValue, len(req.Values))
	for i, v := range req.Values {
		shared[i], err = share(v, c.nodes)
		if err != nil {
			return types.RawHandles{}, mpcerr.Wrap(mpcerr.Cluster, mpcerr.OpStoreValues, nil, err)
		}
	}

	c.Lock()
	defer c.Unlock()

	err = c.consumeReceipt(mpcerr.OpStoreValues, req.Receipt, types.StoreValuesOperation(req.Values, req.TTL))
	if err != nil {
		return types.RawHandles{}, err
	}

	id := xid.New().String()
	c.stores[id] = &store{
		owner:   user,
		values:  shared,
		perms:   req.Permissions,
		expires: c.now().Add(ttl),
	}
	c.logger.Info().Msgf("stored %d values for %s in %s, shared among %d nodes", len(req.Values), user, id, c.nodes)

	return c.handles(id, req.Values.Names()), nil
}

// handles reports the store id in the configured shape.
func (c *Cluster) handles(id string, names []string) types.RawHandles {
	switch c.handleShape {
	case types.HandleList:
		list := make([]string, len(names))
		for i := range names {
			list[i] = id
		}
		return types.RawHandles{Shape: types.HandleList, List: list}
	case types.HandleMap:
		m := make(map[string]string, len(names))
		for _, name := range names {
			m[name] = id
		}
		return types.RawHandles{Shape: types.HandleMap, Map: m}
	}
	return types.RawHandles{Shape: types.HandleSingle, Single: id}
}

// -----------------------------------------------------------------------------
// Helpers

func (c *Cluster) checkCluster(clusterID string, op mpcerr.Op) error {
	if clusterID != c.id {
		return mpcerr.New(mpcerr.Cluster, op, mpcerr.ErrUnknownCluster, "%q", clusterID)
	}
	return nil
}

func (c *Cluster) authenticate(clusterID string, op mpcerr.Op, req cluster.Signed, auth types.Auth) (string, error) {
	err := c.checkCluster(clusterID, op)
	if err != nil {
		return "", err
	}
	err = keys.Verify(auth, req.Digest())
	if err != nil {
		var e *mpcerr.Error
		if errors.As(err, &e) {
			e.Op = op
		}
		return "", err
	}
	return auth.UserID, nil
}
