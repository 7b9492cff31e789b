// Package coordinator turns named secret inputs and a program into a paid,
// authenticated computation and tracks it until its result is delivered.
//
// A Session belongs to one identity. Its paid operations run one at a time;
// independent sessions run concurrently and share only the cluster and the
// ledger clients.
package coordinator

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.dedis.ch/secretcompute/cluster"
	"go.dedis.ch/secretcompute/config"
	"go.dedis.ch/secretcompute/keys"
	"go.dedis.ch/secretcompute/ledger"
	"go.dedis.ch/secretcompute/mpcerr"
	"go.dedis.ch/secretcompute/payment"
	"go.dedis.ch/secretcompute/program"
	"go.dedis.ch/secretcompute/types"
)

// Session is the coordinator of one identity on one cluster.
type Session struct {
	conf    config.Config
	keys    *keys.KeyPair
	cluster cluster.Client
	payment *payment.Client

	// opMu serializes quote, pay and act sequences.
	opMu sync.Mutex

	sync.RWMutex
	consumed  map[string]struct{}
	manifests map[types.ProgramRef]*program.Manifest
	trusted   map[types.ProgramRef]struct{}
	stored    map[string][]string

	inbox  *Inbox
	cancel context.CancelFunc
	logger zerolog.Logger
}

type sessionOptions struct {
	wallet      *payment.Wallet
	paymentOpts []payment.Option
}

// Option configures a Session.
type Option func(*sessionOptions)

// WithWallet pays with a wallet shared with other sessions.
func WithWallet(w *payment.Wallet) Option {
	return func(o *sessionOptions) {
		o.wallet = w
	}
}

// WithPaymentOptions tunes the payment client.
func WithPaymentOptions(opts ...payment.Option) Option {
	return func(o *sessionOptions) {
		o.paymentOpts = append(o.paymentOpts, opts...)
	}
}

// NewSession derives the identity of conf.Seed and opens its event stream on
// the cluster. The session lives until Close, independently of ctx.
func NewSession(ctx context.Context, conf config.Config, c cluster.Client, l ledger.Client, opts ...Option) (*Session, error) {
	err := conf.Validate()
	if err != nil {
		return nil, err
	}

	options := sessionOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	kp, err := keys.Derive(conf.Seed)
	if err != nil {
		return nil, err
	}

	wallet := options.wallet
	if wallet == nil && conf.PrivateKey != "" {
		wallet, err = payment.WalletFromHex(conf.PrivateKey)
		if err != nil {
			return nil, err
		}
	}
	if wallet == nil {
		wallet = payment.NewWallet(kp.ChainKey())
	}

	paymentOpts := append([]payment.Option{
		payment.WithQuoteTTL(conf.QuoteTTL),
		payment.WithBackoff(conf.Backoff),
	}, options.paymentOpts...)

	s := &Session{
		conf:      conf,
		keys:      kp,
		cluster:   c,
		payment:   payment.New(c, l, wallet, conf.ClusterID, paymentOpts...),
		consumed:  map[string]struct{}{},
		manifests: map[types.ProgramRef]*program.Manifest{},
		trusted:   map[types.ProgramRef]struct{}{},
		stored:    map[string][]string{},
		logger: log.With().Str("component", "session").
			Str("user", kp.Network().UserID()).Logger(),
	}

	// the stream outlives the caller's context
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	req := cluster.SubscribeRequest{
		UserID:  s.UserID(),
		PartyID: s.PartyID(),
	}
	req.Auth, err = kp.Authenticate(req.Digest())
	if err != nil {
		cancel()
		return nil, mpcerr.Wrap(mpcerr.Events, mpcerr.OpSubscribe, nil, err)
	}
	stream, err := c.Subscribe(streamCtx, conf.ClusterID, req)
	if err != nil {
		cancel()
		return nil, mpcerr.Classify(mpcerr.Events, mpcerr.OpSubscribe, err)
	}

	s.cancel = cancel
	s.inbox = newInbox(stream, conf.StreamTimeout, s.logger)

	s.logger.Info().Msgf("session opened on cluster %s, paying from %s", conf.ClusterID, wallet.Address())
	return s, nil
}

// Identity returns the network identity of the session.
func (s *Session) Identity() types.NetworkIdentity {
	return s.keys.Network()
}

// UserID returns the user id of the session.
func (s *Session) UserID() string {
	return s.keys.Network().UserID()
}

// PartyID returns the party id of the session.
func (s *Session) PartyID() string {
	return s.keys.Network().PartyID()
}

// Payment returns the payment client of the session.
func (s *Session) Payment() *payment.Client {
	return s.payment
}

// Inbox returns the result inbox of the session.
func (s *Session) Inbox() *Inbox {
	return s.inbox
}

// ProgramRef returns the reference of a program this session uploads.
func (s *Session) ProgramRef(name string) types.ProgramRef {
	return types.ProgramRef{Owner: s.UserID(), Name: name}
}

// RegisterManifest tells the session which parties and inputs a program
// declares, so that bindings can be checked before submission.
func (s *Session) RegisterManifest(ref types.ProgramRef, m *program.Manifest) {
	s.Lock()
	defer s.Unlock()

	s.manifests[ref] = m
}

// TrustProgram registers a program owned by another user and allows stored
// values to grant compute rights on it.
func (s *Session) TrustProgram(ref types.ProgramRef, m *program.Manifest) {
	s.Lock()
	defer s.Unlock()

	s.manifests[ref] = m
	s.trusted[ref] = struct{}{}
}

// Close ends the event stream.
func (s *Session) Close() error {
	err := s.inbox.close()
	s.cancel()
	return err
}

func (s *Session) manifest(ref types.ProgramRef) (*program.Manifest, bool) {
	s.RLock()
	defer s.RUnlock()

	m, ok := s.manifests[ref]
	return m, ok
}

// consumeReceipt checks that receipt pays for expected and marks it used.
// It is marked before the network call that spends it.
func (s *Session) consumeReceipt(c mpcerr.Component, op mpcerr.Op, receipt types.Receipt, expected types.Operation) error {
	if !receipt.Operation.Matches(expected) {
		return mpcerr.New(c, op, mpcerr.ErrReceiptMismatch, "receipt %s pays for %s, not %s",
			receipt.ID, receipt.Operation, expected)
	}

	s.Lock()
	defer s.Unlock()

	if _, ok := s.consumed[receipt.ID]; ok {
		return mpcerr.New(c, op, mpcerr.ErrReceiptAlreadyConsumed, "receipt %s", receipt.ID)
	}
	s.consumed[receipt.ID] = struct{}{}
	return nil
}

// retry runs a registry call, retrying transient failures only. A lost reply
// may hide an attempt that spent the receipt, so a consumed receipt after a
// transient failure leaves the outcome unknown.
func (s *Session) retry(ctx context.Context, c mpcerr.Component, op mpcerr.Op, call func() error) error {
	lost := false
	err := s.conf.Backoff.Do(ctx, mpcerr.IsTransient, func() error {
		err := call()
		if err != nil && mpcerr.IsTransient(err) {
			lost = true
		}
		return err
	})
	if lost && errors.Is(err, mpcerr.ErrReceiptAlreadyConsumed) {
		return mpcerr.Wrap(c, op, mpcerr.ErrOutcomeUnknown, err)
	}
	return err
}
