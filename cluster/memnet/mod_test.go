package memnet

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/secretcompute/cluster"
	"go.dedis.ch/secretcompute/keys"
	"go.dedis.ch/secretcompute/ledger"
	"go.dedis.ch/secretcompute/mpcerr"
	"go.dedis.ch/secretcompute/payment"
	"go.dedis.ch/secretcompute/programs"
	"go.dedis.ch/secretcompute/types"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
}

const clusterID = "devnet-cluster"

type fixture struct {
	cluster *Cluster
	ledger  *ledger.Local
	keys    *keys.KeyPair
	payment *payment.Client
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	kp, err := keys.Derive("memnet-test")
	require.NoError(t, err)

	l := ledger.NewLocal(ledger.Genesis{
		ChainID:     "devnet",
		Allocations: map[string]uint64{kp.Chain().Address(): 1000},
	}, ledger.WithAutoCommit())

	c, err := New(clusterID, l, opts...)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	pay := payment.New(c, l, payment.NewWallet(kp.ChainKey()), clusterID,
		payment.WithPollInterval(time.Millisecond))

	return &fixture{cluster: c, ledger: l, keys: kp, payment: pay}
}

func (f *fixture) storeProgram(t *testing.T, name string) types.ProgramRef {
	ctx := context.Background()
	receipt, err := f.payment.QuoteAndPay(ctx, types.StoreProgramOperation(name, programs.Auction))
	require.NoError(t, err)

	req := cluster.StoreProgramRequest{Name: name, Artifact: programs.Auction, Receipt: receipt}
	req.Auth, err = f.keys.Authenticate(req.Digest())
	require.NoError(t, err)

	_, err = f.cluster.StoreProgram(ctx, clusterID, req)
	require.NoError(t, err)
	return types.ProgramRef{Owner: f.keys.Network().UserID(), Name: name}
}

func (f *fixture) storeValues(t *testing.T, values types.NamedValues, perms types.Permissions) string {
	ctx := context.Background()
	receipt, err := f.payment.QuoteAndPay(ctx, types.StoreValuesOperation(values, types.DefaultTTL))
	require.NoError(t, err)

	req := cluster.StoreValuesRequest{Values: values, Permissions: perms, TTL: types.DefaultTTL, Receipt: receipt}
	req.Auth, err = f.keys.Authenticate(req.Digest())
	require.NoError(t, err)

	raw, err := f.cluster.StoreValues(ctx, clusterID, req)
	require.NoError(t, err)
	handles, err := raw.Normalize(values.Names())
	require.NoError(t, err)
	return handles[0].ID
}

func Test_Memnet_Quote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	values := types.NamedValues{}.Add("a", types.NewSecretUnsignedInteger(1)).Add("b", types.NewSecretUnsignedInteger(2))
	quote, err := f.cluster.Quote(ctx, clusterID, types.StoreValuesOperation(values, types.DefaultTTL))
	require.NoError(t, err)
	require.Equal(t, 2*DefaultPricing.StoreValue, quote.Price)
	require.Equal(t, f.cluster.PayTo(), quote.PayTo)
	require.True(t, quote.ExpiresAt.After(time.Now()))

	_, err = f.cluster.Quote(ctx, "other", types.StoreProgramOperation("x", nil))
	require.True(t, errors.Is(err, mpcerr.ErrUnknownCluster))
}

func Test_Memnet_Redeem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	op := types.StoreProgramOperation("main", programs.Auction)
	receipt, err := f.payment.QuoteAndPay(ctx, op)
	require.NoError(t, err)
	require.Equal(t, DefaultPricing.StoreProgram, receipt.Amount)

	// redeeming again gives the same receipt
	again, err := f.cluster.Redeem(ctx, clusterID, cluster.RedeemRequest{
		QuoteID: receipt.QuoteID, TxHash: receipt.TxHash, Payer: receipt.Payer,
	})
	require.NoError(t, err)
	require.Equal(t, receipt, again)

	_, err = f.cluster.Redeem(ctx, clusterID, cluster.RedeemRequest{QuoteID: "nope", TxHash: receipt.TxHash})
	require.True(t, errors.Is(err, mpcerr.ErrReceiptInvalid))

	// an unpaid quote cannot be redeemed
	quote, err := f.cluster.Quote(ctx, clusterID, op)
	require.NoError(t, err)
	_, err = f.cluster.Redeem(ctx, clusterID, cluster.RedeemRequest{
		QuoteID: quote.ID, TxHash: receipt.TxHash, Payer: receipt.Payer,
	})
	require.True(t, errors.Is(err, mpcerr.ErrReceiptInvalid))
}

func Test_Memnet_Receipt_SingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	receipt, err := f.payment.QuoteAndPay(ctx, types.StoreProgramOperation("main", programs.Auction))
	require.NoError(t, err)

	store := func(name string, receipt types.Receipt) error {
		req := cluster.StoreProgramRequest{Name: name, Artifact: programs.Auction, Receipt: receipt}
		auth, err := f.keys.Authenticate(req.Digest())
		require.NoError(t, err)
		req.Auth = auth
		_, err = f.cluster.StoreProgram(ctx, clusterID, req)
		return err
	}

	// bound to the exact operation
	err = store("other", receipt)
	require.True(t, errors.Is(err, mpcerr.ErrReceiptMismatch))

	require.NoError(t, store("main", receipt))
	err = store("main", receipt)
	require.True(t, errors.Is(err, mpcerr.ErrReceiptAlreadyConsumed))

	forged := receipt
	forged.ID = "forged"
	err = store("main", forged)
	require.True(t, errors.Is(err, mpcerr.ErrReceiptInvalid))
}

func Test_Memnet_Unauthenticated(t *testing.T) {
	f := newFixture(t)
	other, err := keys.Derive("someone else")
	require.NoError(t, err)

	req := cluster.StoreProgramRequest{Name: "main", Artifact: programs.Auction}
	req.Auth, err = f.keys.Authenticate(req.Digest())
	require.NoError(t, err)

	// signed by another key
	req.Auth.UserID = other.Network().UserID()
	_, err = f.cluster.StoreProgram(context.Background(), clusterID, req)
	require.True(t, errors.Is(err, mpcerr.ErrUnauthenticated))

	sub := cluster.SubscribeRequest{UserID: other.Network().UserID()}
	sub.Auth, err = f.keys.Authenticate(sub.Digest())
	require.NoError(t, err)
	_, err = f.cluster.Subscribe(context.Background(), clusterID, sub)
	require.True(t, errors.Is(err, mpcerr.ErrPermissionDenied))
}

func Test_Memnet_Compute(t *testing.T) {
	f := newFixture(t, WithHandleShape(types.HandleMap))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ref := f.storeProgram(t, "auction")
	net := f.keys.Network()

	perms := types.DefaultPermissionsFor(net.UserID())
	perms.AddComputePermissions(map[string][]types.ProgramRef{net.UserID(): {ref}})
	handle := f.storeValues(t, types.NamedValues{}.
		Add("bid0", types.NewSecretUnsignedInteger(100)).
		Add("bid1", types.NewSecretUnsignedInteger(200)).
		Add("bid2", types.NewSecretUnsignedInteger(150)), perms)

	subReq := cluster.SubscribeRequest{UserID: net.UserID(), PartyID: net.PartyID()}
	var err error
	subReq.Auth, err = f.keys.Authenticate(subReq.Digest())
	require.NoError(t, err)
	stream, err := f.cluster.Subscribe(ctx, clusterID, subReq)
	require.NoError(t, err)

	request := types.ComputeRequest{
		Bindings: types.Bindings{
			Program: ref,
			Inputs:  map[string]string{"Bidder0": net.PartyID(), "Bidder1": net.PartyID(), "Bidder2": net.PartyID()},
			Outputs: map[string]string{"OutParty": net.PartyID()},
		},
		Handles: []string{handle},
	}
	request.Receipt, err = f.payment.QuoteAndPay(ctx, types.ComputeOperation(ref, nil))
	require.NoError(t, err)

	req := cluster.ComputeRequest{Request: request}
	req.Auth, err = f.keys.Authenticate(req.Digest())
	require.NoError(t, err)
	id, err := f.cluster.Compute(ctx, clusterID, req)
	require.NoError(t, err)

	kinds := []types.EventKind{}
	var last types.ComputeEvent
	for !last.Terminal() {
		last, err = stream.Recv(ctx)
		require.NoError(t, err)
		require.Equal(t, id, last.ComputeID)
		kinds = append(kinds, last.Kind)
	}
	require.Equal(t, []types.EventKind{types.EventQueued, types.EventComputing, types.EventFinished}, kinds)
	require.Equal(t, int64(200), last.Result["highest_bid"].Int.Int64())

	statusReq := cluster.StatusRequest{ComputeID: id}
	statusReq.Auth, err = f.keys.Authenticate(statusReq.Digest())
	require.NoError(t, err)
	status, err := f.cluster.Status(ctx, clusterID, statusReq)
	require.NoError(t, err)
	require.Equal(t, types.EventFinished, status.Kind)

	require.NoError(t, stream.Close())
	_, err = stream.Recv(ctx)
	require.Equal(t, io.EOF, err)
}

func Test_Memnet_Compute_PermissionDenied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ref := f.storeProgram(t, "auction")
	net := f.keys.Network()

	// no compute grant
	handle := f.storeValues(t, types.NamedValues{}.Add("bid0", types.NewSecretUnsignedInteger(1)),
		types.DefaultPermissionsFor(net.UserID()))

	request := types.ComputeRequest{
		Bindings: types.Bindings{
			Program: ref,
			Inputs:  map[string]string{"Bidder0": "a", "Bidder1": "b", "Bidder2": "c"},
			Outputs: map[string]string{"OutParty": "d"},
		},
		Handles: []string{handle},
	}
	req := cluster.ComputeRequest{Request: request}
	var err error
	req.Auth, err = f.keys.Authenticate(req.Digest())
	require.NoError(t, err)

	_, err = f.cluster.Compute(ctx, clusterID, req)
	require.True(t, errors.Is(err, mpcerr.ErrPermissionDenied))

	req.Request.Handles = []string{"unknown"}
	req.Auth, err = f.keys.Authenticate(req.Digest())
	require.NoError(t, err)
	_, err = f.cluster.Compute(ctx, clusterID, req)
	require.True(t, errors.Is(err, mpcerr.ErrUnknownStore))
}

func Test_Memnet_Disconnect(t *testing.T) {
	f := newFixture(t)
	net := f.keys.Network()

	req := cluster.SubscribeRequest{UserID: net.UserID()}
	var err error
	req.Auth, err = f.keys.Authenticate(req.Digest())
	require.NoError(t, err)
	stream, err := f.cluster.Subscribe(context.Background(), clusterID, req)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := stream.Recv(context.Background())
		done <- err
	}()

	f.cluster.Disconnect(net.UserID())

	select {
	case err := <-done:
		require.Equal(t, io.EOF, err)
	case <-time.After(time.Second):
		t.Fatal("stream not closed")
	}
}
