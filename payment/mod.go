// Package payment turns an operation into a receipt: it asks the cluster for
// a quote, pays it on the ledger and redeems the payment.
package payment

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.dedis.ch/secretcompute/cluster"
	"go.dedis.ch/secretcompute/ledger"
	"go.dedis.ch/secretcompute/metrics"
	"go.dedis.ch/secretcompute/mpcerr"
	"go.dedis.ch/secretcompute/types"
	"golang.org/x/time/rate"
)

const (
	// DefaultQuoteTTL caps how long a quote is pursued.
	DefaultQuoteTTL = 3 * time.Minute
	// DefaultPollInterval is the pause between two confirmation checks.
	DefaultPollInterval = 200 * time.Millisecond
)

// Client pays for operations on one cluster.
type Client struct {
	cluster   cluster.Client
	ledger    ledger.Client
	wallet    *Wallet
	clusterID string

	quoteTTL     time.Duration
	pollInterval time.Duration
	backoff      Backoff
	limiter      *rate.Limiter
	now          func() time.Time

	logger zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithQuoteTTL caps the time spent paying a quote. The quote's own expiry
// still applies when it is earlier.
func WithQuoteTTL(ttl time.Duration) Option {
	return func(c *Client) {
		c.quoteTTL = ttl
	}
}

// WithPollInterval sets the pause between two confirmation checks.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		c.pollInterval = d
	}
}

// WithBackoff sets the retry policy of quote, ledger and redeem calls.
func WithBackoff(b Backoff) Option {
	return func(c *Client) {
		c.backoff = b
	}
}

// WithRateLimit bounds the rate of quote requests.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(r, burst)
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// New creates a payment client for clusterID.
func New(c cluster.Client, l ledger.Client, w *Wallet, clusterID string, opts ...Option) *Client {
	client := &Client{
		cluster:      c,
		ledger:       l,
		wallet:       w,
		clusterID:    clusterID,
		quoteTTL:     DefaultQuoteTTL,
		pollInterval: DefaultPollInterval,
		backoff:      DefaultBackoff,
		limiter:      rate.NewLimiter(rate.Inf, 1),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(client)
	}
	client.logger = log.With().Str("component", "payment").Str("payer", w.Address()).Logger()

	return client
}

// Wallet returns the paying wallet.
func (c *Client) Wallet() *Wallet {
	return c.wallet
}

// QuoteAndPay obtains a receipt for op. The quote is paid at most once: on a
// broadcast failure the same signed transaction is resubmitted only after the
// ledger says it does not know it.
func (c *Client) QuoteAndPay(ctx context.Context, op types.Operation) (types.Receipt, error) {
	start := c.now()

	quote, err := c.Quote(ctx, op)
	if err != nil {
		return types.Receipt{}, err
	}

	receipt, err := c.Pay(ctx, quote)
	if err != nil {
		return types.Receipt{}, err
	}

	metrics.Get().PaymentLatency.Observe(c.now().Sub(start).Seconds())
	return receipt, nil
}

// Quote asks the cluster for the price of op. Transient failures are retried.
func (c *Client) Quote(ctx context.Context, op types.Operation) (types.Quote, error) {
	metrics.Get().Quotes.WithLabelValues(string(op.Kind)).Inc()

	var quote types.Quote
	err := c.backoff.Do(ctx, mpcerr.IsTransient, func() error {
		err := c.limiter.Wait(ctx)
		if err != nil {
			return err
		}
		quote, err = c.cluster.Quote(ctx, c.clusterID, op)
		return err
	})
	if err != nil {
		return types.Quote{}, mpcerr.Classify(mpcerr.Payment, mpcerr.OpQuote, err)
	}

	if !quote.Operation.Matches(op) {
		return types.Quote{}, mpcerr.New(mpcerr.Payment, mpcerr.OpQuote, mpcerr.ErrMalformedResponse,
			"quote %s is for %s, asked for %s", quote.ID, quote.Operation, op)
	}

	c.logger.Debug().Msgf("got %s", quote)
	return quote, nil
}

// Pay pays quote and redeems the payment for a receipt.
func (c *Client) Pay(ctx context.Context, quote types.Quote) (types.Receipt, error) {
	deadline := c.now().Add(c.quoteTTL)
	if !quote.ExpiresAt.IsZero() && quote.ExpiresAt.Before(deadline) {
		deadline = quote.ExpiresAt
	}
	if !c.now().Before(deadline) {
		metrics.Get().Payments.WithLabelValues("expired").Inc()
		return types.Receipt{}, mpcerr.New(mpcerr.Payment, mpcerr.OpPay, mpcerr.ErrQuoteExpired,
			"quote %s expired at %s", quote.ID, deadline.Format(time.RFC3339))
	}

	payCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	hash, err := c.transfer(payCtx, quote)
	if err != nil {
		return types.Receipt{}, c.payFailure(ctx, quote, err)
	}

	err = c.waitConfirmed(payCtx, hash)
	if err != nil {
		return types.Receipt{}, c.payFailure(ctx, quote, err)
	}
	metrics.Get().Payments.WithLabelValues("confirmed").Inc()
	c.logger.Info().Msgf("paid %d for quote %s in tx %s", quote.Price, quote.ID, hash)

	return c.redeem(ctx, quote, hash)
}

// transfer signs and broadcasts the payment of quote. It returns the hash of
// a transaction the ledger accepted.
func (c *Client) transfer(ctx context.Context, quote types.Quote) (string, error) {
	w := c.wallet
	w.Lock()
	defer w.Unlock()

	var info ledger.AccountInfo
	err := c.backoff.Do(ctx, c.ledgerRetryable(ctx), func() error {
		var err error
		info, err = c.ledger.Account(ctx, w.addr)
		return err
	})
	if err != nil {
		return "", err
	}

	if info.Balance < quote.Price {
		return "", mpcerr.New(mpcerr.Payment, mpcerr.OpPay, mpcerr.ErrInsufficientFunds,
			"%s has %d, quote %s costs %d", w.addr, info.Balance, quote.ID, quote.Price)
	}

	if w.nonce > info.Nonce {
		info.Nonce = w.nonce
	}
	txn := ledger.NewTransactionPayment(c.ledger.ChainID(), info.Account(), quote.PayTo, quote.Price, quote.ID)
	signed, err := txn.Sign(w.key)
	if err != nil {
		return "", mpcerr.Wrap(mpcerr.Payment, mpcerr.OpPay, mpcerr.ErrPaymentRejected, err)
	}
	hash := signed.Hash()

	attempt := 0
	err = c.backoff.Do(ctx, c.ledgerRetryable(ctx), func() error {
		if attempt > 0 {
			// the previous attempt may have reached the ledger
			status, err := c.ledger.Status(ctx, hash)
			if err == nil && status != ledger.TxUnknown {
				return nil
			}
			metrics.Get().BroadcastRetry.Inc()
			c.logger.Warn().Msgf("resubmitting tx %s (attempt %d)", hash, attempt+1)
		}
		attempt++

		_, err := c.ledger.Broadcast(ctx, signed)
		return err
	})
	if err != nil {
		return "", err
	}

	w.nonce = info.Nonce + 1
	return hash, nil
}

// waitConfirmed polls the ledger until the transaction is final.
func (c *Client) waitConfirmed(ctx context.Context, hash string) error {
	failures := uint(0)

	for {
		status, err := c.ledger.Status(ctx, hash)
		switch {
		case err != nil:
			failures++
			if failures > c.backoff.Retry {
				return err
			}
		case status == ledger.TxConfirmed:
			return nil
		case status == ledger.TxFailed:
			return mpcerr.New(mpcerr.Payment, mpcerr.OpPay, mpcerr.ErrPaymentRejected,
				"tx %s failed on the ledger", hash)
		default:
			failures = 0
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
}

func (c *Client) redeem(ctx context.Context, quote types.Quote, hash string) (types.Receipt, error) {
	req := cluster.RedeemRequest{
		QuoteID: quote.ID,
		TxHash:  hash,
		Payer:   c.wallet.Address(),
	}

	var receipt types.Receipt
	err := c.backoff.Do(ctx, mpcerr.IsTransient, func() error {
		var err error
		receipt, err = c.cluster.Redeem(ctx, c.clusterID, req)
		return err
	})
	if err != nil {
		return types.Receipt{}, mpcerr.Classify(mpcerr.Payment, mpcerr.OpRedeem, err)
	}

	if receipt.QuoteID != quote.ID || !receipt.Operation.Matches(quote.Operation) {
		return types.Receipt{}, mpcerr.New(mpcerr.Payment, mpcerr.OpRedeem, mpcerr.ErrMalformedResponse,
			"receipt %s does not match quote %s", receipt.ID, quote.ID)
	}
	return receipt, nil
}

// ledgerRetryable retries every ledger failure but a definite rejection.
func (c *Client) ledgerRetryable(ctx context.Context) func(error) bool {
	return func(err error) bool {
		return ctx.Err() == nil && !errors.Is(err, ledger.ErrRejected)
	}
}

// payFailure maps a failure to pay quote to an error kind.
func (c *Client) payFailure(ctx context.Context, quote types.Quote, err error) error {
	var e *mpcerr.Error
	switch {
	case errors.As(err, &e) && e.Component == mpcerr.Payment:
	case ctx.Err() != nil:
		e = mpcerr.Wrap(mpcerr.Payment, mpcerr.OpPay, nil, ctx.Err())
	case errors.Is(err, context.DeadlineExceeded):
		e = mpcerr.New(mpcerr.Payment, mpcerr.OpPay, mpcerr.ErrQuoteExpired,
			"quote %s not paid before its expiry", quote.ID)
	case errors.Is(err, ledger.ErrInsufficientBalance):
		e = mpcerr.Wrap(mpcerr.Payment, mpcerr.OpPay, mpcerr.ErrInsufficientFunds, err)
	case errors.Is(err, ledger.ErrRejected):
		e = mpcerr.Wrap(mpcerr.Payment, mpcerr.OpPay, mpcerr.ErrPaymentRejected, err)
	default:
		e = mpcerr.Wrap(mpcerr.Payment, mpcerr.OpPay, mpcerr.ErrLedgerUnavailable, err)
	}

	metrics.Get().Payments.WithLabelValues(outcome(e.Kind)).Inc()
	c.logger.Warn().Msgf("payment of quote %s failed: %v", quote.ID, e)
	return e
}

func outcome(kind error) string {
	switch kind {
	case mpcerr.ErrQuoteExpired:
		return "expired"
	case mpcerr.ErrInsufficientFunds:
		return "insufficient"
	case mpcerr.ErrPaymentRejected:
		return "rejected"
	case mpcerr.ErrLedgerUnavailable:
		return "unavailable"
	}
	return "error"
}
