package payment

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/secretcompute/cluster"
	"go.dedis.ch/secretcompute/ledger"
	"go.dedis.ch/secretcompute/mpcerr"
	"go.dedis.ch/secretcompute/types"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
}

var fastBackoff = Backoff{Initial: time.Millisecond, Factor: 1, Retry: 3}

// -----------------------------------------------------------------------------
// Fakes

type quotingCluster struct {
	cluster.Client

	sync.Mutex
	price   uint64
	ttl     time.Duration
	quotes  map[string]types.Quote
	redeems int
	flaky   int
}

func newQuotingCluster(price uint64) *quotingCluster {
	return &quotingCluster{
		price:  price,
		ttl:    time.Minute,
		quotes: map[string]types.Quote{},
	}
}

func (c *quotingCluster) Quote(ctx context.Context, clusterID string, op types.Operation) (types.Quote, error) {
	c.Lock()
	defer c.Unlock()

	if c.flaky > 0 {
		c.flaky--
		return types.Quote{}, mpcerr.New(mpcerr.Cluster, mpcerr.OpQuote, mpcerr.ErrTransient, "connection reset")
	}

	quote := types.Quote{
		ID:        xid.New().String(),
		ClusterID: clusterID,
		Operation: op,
		Price:     c.price,
		PayTo:     "0xcluster",
		ExpiresAt: time.Now().Add(c.ttl),
	}
	c.quotes[quote.ID] = quote
	return quote, nil
}

func (c *quotingCluster) Redeem(ctx context.Context, clusterID string, req cluster.RedeemRequest) (types.Receipt, error) {
	c.Lock()
	defer c.Unlock()

	c.redeems++
	quote := c.quotes[req.QuoteID]
	return types.Receipt{
		ID:        xid.New().String(),
		QuoteID:   quote.ID,
		ClusterID: clusterID,
		Operation: quote.Operation,
		TxHash:    req.TxHash,
		Amount:    quote.Price,
		Payer:     req.Payer,
	}, nil
}

// flakyLedger fails calls on demand. lostBroadcasts reach the ledger but
// their answer is lost; droppedBroadcasts never reach it.
type flakyLedger struct {
	ledger.Client

	sync.Mutex
	lostBroadcasts    int
	droppedBroadcasts int
	accountFailures   int
	broadcasts        []string
}

var errConnection = mpcerr.New(mpcerr.Ledger, mpcerr.OpBroadcast, mpcerr.ErrTransient, "connection refused")

func (l *flakyLedger) Account(ctx context.Context, addr string) (ledger.AccountInfo, error) {
	l.Lock()
	if l.accountFailures != 0 {
		if l.accountFailures > 0 {
			l.accountFailures--
		}
		l.Unlock()
		return ledger.AccountInfo{}, errConnection
	}
	l.Unlock()

	return l.Client.Account(ctx, addr)
}

func (l *flakyLedger) Broadcast(ctx context.Context, txn *ledger.SignedTransaction) (string, error) {
	l.Lock()
	l.broadcasts = append(l.broadcasts, txn.Hash())
	if l.droppedBroadcasts > 0 {
		l.droppedBroadcasts--
		l.Unlock()
		return "", errConnection
	}
	lost := l.lostBroadcasts > 0
	if lost {
		l.lostBroadcasts--
	}
	l.Unlock()

	hash, err := l.Client.Broadcast(ctx, txn)
	if lost {
		return "", errConnection
	}
	return hash, err
}

func newWallet(t *testing.T) *Wallet {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return NewWallet(key)
}

func newLedger(w *Wallet, balance uint64, opts ...ledger.LocalOption) *ledger.Local {
	return ledger.NewLocal(ledger.Genesis{
		ChainID:     "devnet",
		Allocations: map[string]uint64{w.Address(): balance},
	}, opts...)
}

func balanceOf(t *testing.T, l ledger.Client, addr string) uint64 {
	info, err := l.Account(context.Background(), addr)
	require.NoError(t, err)
	return info.Balance
}

// -----------------------------------------------------------------------------
// Tests

func Test_Payment_QuoteAndPay(t *testing.T) {
	w := newWallet(t)
	l := newLedger(w, 100, ledger.WithAutoCommit())
	c := newQuotingCluster(10)
	client := New(c, l, w, "cluster-1", WithBackoff(fastBackoff), WithPollInterval(time.Millisecond))

	op := types.StoreProgramOperation("main", []byte("program"))
	receipt, err := client.QuoteAndPay(context.Background(), op)
	require.NoError(t, err)
	require.True(t, receipt.Operation.Matches(op))
	require.Equal(t, uint64(10), receipt.Amount)
	require.Equal(t, w.Address(), receipt.Payer)

	require.Equal(t, uint64(90), balanceOf(t, l, w.Address()))
	require.Equal(t, uint64(10), balanceOf(t, l, "0xcluster"))

	txn, status, err := l.Transaction(context.Background(), receipt.TxHash)
	require.NoError(t, err)
	require.Equal(t, ledger.TxConfirmed, status)
	require.Equal(t, receipt.QuoteID, txn.Memo)
}

func Test_Payment_Quote_RetriesTransient(t *testing.T) {
	w := newWallet(t)
	l := newLedger(w, 100, ledger.WithAutoCommit())
	c := newQuotingCluster(10)
	c.flaky = 2
	client := New(c, l, w, "cluster-1", WithBackoff(fastBackoff), WithPollInterval(time.Millisecond))

	_, err := client.QuoteAndPay(context.Background(), types.StoreProgramOperation("main", nil))
	require.NoError(t, err)

	c.flaky = 10
	_, err = client.Quote(context.Background(), types.StoreProgramOperation("main", nil))
	require.True(t, errors.Is(err, mpcerr.ErrTransient))
}

func Test_Payment_InsufficientFunds(t *testing.T) {
	w := newWallet(t)
	l := newLedger(w, 5, ledger.WithAutoCommit())
	client := New(newQuotingCluster(10), l, w, "cluster-1", WithBackoff(fastBackoff))

	_, err := client.QuoteAndPay(context.Background(), types.StoreProgramOperation("main", nil))
	require.True(t, errors.Is(err, mpcerr.ErrInsufficientFunds))
	require.Equal(t, uint64(5), balanceOf(t, l, w.Address()))
}

func Test_Payment_QuoteExpired(t *testing.T) {
	w := newWallet(t)
	l := newLedger(w, 100, ledger.WithAutoCommit())
	c := newQuotingCluster(10)
	client := New(c, l, w, "cluster-1", WithBackoff(fastBackoff))

	quote, err := client.Quote(context.Background(), types.StoreProgramOperation("main", nil))
	require.NoError(t, err)
	quote.ExpiresAt = time.Now().Add(-time.Second)

	_, err = client.Pay(context.Background(), quote)
	require.True(t, errors.Is(err, mpcerr.ErrQuoteExpired))
	require.Equal(t, uint64(100), balanceOf(t, l, w.Address()))
}

func Test_Payment_NotConfirmedInTime(t *testing.T) {
	w := newWallet(t)
	// never commits
	l := newLedger(w, 100)
	client := New(newQuotingCluster(10), l, w, "cluster-1",
		WithBackoff(fastBackoff),
		WithPollInterval(time.Millisecond),
		WithQuoteTTL(50*time.Millisecond))

	_, err := client.QuoteAndPay(context.Background(), types.StoreProgramOperation("main", nil))
	require.True(t, errors.Is(err, mpcerr.ErrQuoteExpired))
}

func Test_Payment_LostBroadcast_NoDoublePayment(t *testing.T) {
	w := newWallet(t)
	local := newLedger(w, 100, ledger.WithAutoCommit())
	l := &flakyLedger{Client: local, lostBroadcasts: 1}
	client := New(newQuotingCluster(10), l, w, "cluster-1",
		WithBackoff(fastBackoff), WithPollInterval(time.Millisecond))

	_, err := client.QuoteAndPay(context.Background(), types.StoreProgramOperation("main", nil))
	require.NoError(t, err)

	// the status lookup found the transaction, nothing was resubmitted
	require.Len(t, l.broadcasts, 1)
	require.Equal(t, uint64(90), balanceOf(t, local, w.Address()))
}

func Test_Payment_DroppedBroadcast_ResubmitsSameTxn(t *testing.T) {
	w := newWallet(t)
	local := newLedger(w, 100, ledger.WithAutoCommit())
	l := &flakyLedger{Client: local, droppedBroadcasts: 2}
	client := New(newQuotingCluster(10), l, w, "cluster-1",
		WithBackoff(fastBackoff), WithPollInterval(time.Millisecond))

	receipt, err := client.QuoteAndPay(context.Background(), types.StoreProgramOperation("main", nil))
	require.NoError(t, err)

	require.Len(t, l.broadcasts, 3)
	for _, hash := range l.broadcasts {
		require.Equal(t, receipt.TxHash, hash)
	}
	require.Equal(t, uint64(90), balanceOf(t, local, w.Address()))
}

func Test_Payment_LedgerUnavailable(t *testing.T) {
	w := newWallet(t)
	l := &flakyLedger{Client: newLedger(w, 100), accountFailures: -1}
	client := New(newQuotingCluster(10), l, w, "cluster-1", WithBackoff(fastBackoff))

	_, err := client.QuoteAndPay(context.Background(), types.StoreProgramOperation("main", nil))
	require.True(t, errors.Is(err, mpcerr.ErrLedgerUnavailable))
}

func Test_Payment_SharedWallet(t *testing.T) {
	w := newWallet(t)
	l := newLedger(w, 100, ledger.WithAutoCommit())
	c := newQuotingCluster(10)
	client := New(c, l, w, "cluster-1", WithBackoff(fastBackoff), WithPollInterval(time.Millisecond))

	n := 5
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			_, err := client.QuoteAndPay(context.Background(),
				types.StoreProgramOperation("main", []byte{byte(i)}))
			errs <- err
		}(i)
	}

	for i := 0; i < n; i++ {
		select {
		case err := <-errs:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("payment timed out")
		}
	}

	require.Equal(t, uint64(50), balanceOf(t, l, w.Address()))
	info, err := l.Account(context.Background(), w.Address())
	require.NoError(t, err)
	require.Equal(t, uint64(n), info.Nonce)
}

func Test_Payment_WalletFromHex(t *testing.T) {
	_, err := WalletFromHex("zz")
	require.True(t, errors.Is(err, mpcerr.ErrInvalidSeed))

	w, err := WalletFromHex("0x" + strings.Repeat("0", 62) + "01")
	require.NoError(t, err)
	require.Equal(t, "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf", w.Address())
	require.NotContains(t, w.String(), strings.Repeat("0", 62))
}
