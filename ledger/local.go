package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.dedis.ch/secretcompute/metrics"
	"go.dedis.ch/secretcompute/storage"
	"golang.org/x/xerrors"
)

type txRecord struct {
	height uint64
	status TxStatus
	txn    Transaction
}

// Local is an in-memory ledger for the devnet and for tests. Broadcast
// transactions stay pending until the next commit.
type Local struct {
	sync.RWMutex
	chainID string

	blocks  []*Block
	state   storage.KVStore
	pending []*SignedTransaction
	txIndex map[string]*txRecord

	autoCommit bool
}

// LocalOption configures a Local ledger.
type LocalOption func(*Local)

// WithAutoCommit commits every broadcast transaction immediately.
func WithAutoCommit() LocalOption {
	return func(l *Local) {
		l.autoCommit = true
	}
}

// NewLocal creates a ledger whose genesis block credits the allocations.
func NewLocal(genesis Genesis, opts ...LocalOption) *Local {
	l := &Local{
		chainID: genesis.ChainID,
		txIndex: map[string]*txRecord{},
	}
	for _, opt := range opts {
		opt(l)
	}

	worldState := storage.NewBasicKV()
	bb := NewBlockBuilder()
	bb.SetPrevHash(DUMMY_PREVHASH).
		SetHeight(0).
		SetState(worldState)
	for _, addr := range genesis.sortedAddresses() {
		txn := NewTransactionCoinbase(genesis.ChainID, addr, genesis.Allocations[addr])
		signed, _ := txn.Sign(nil)
		_ = bb.AddTxn(signed)
	}
	l.appendBlock(bb.Build())

	return l
}

// ChainID implements Client.
func (l *Local) ChainID() string {
	return l.chainID
}

// Account implements Client.
func (l *Local) Account(ctx context.Context, addr string) (AccountInfo, error) {
	l.RLock()
	defer l.RUnlock()

	account := GetAccountFromWorldState(l.state, addr)
	nonce := account.nonce
	for _, txn := range l.pending {
		if txn.Txn.From == addr {
			nonce++
		}
	}

	return AccountInfo{Address: addr, Balance: account.balance, Nonce: nonce}, nil
}

// Broadcast implements Client.
func (l *Local) Broadcast(ctx context.Context, txn *SignedTransaction) (string, error) {
	hash := txn.Hash()

	l.Lock()
	defer l.Unlock()

	if _, ok := l.txIndex[hash]; ok {
		return hash, nil
	}

	if txn.Txn.ChainID != l.chainID {
		return "", xerrors.Errorf("%w: chain id %q, expected %q", ErrRejected, txn.Txn.ChainID, l.chainID)
	}
	err := txn.VerifySignature()
	if err != nil {
		return "", xerrors.Errorf("%w: %v", ErrRejected, err)
	}

	// simulate on top of pending transactions
	sim := l.state.Copy()
	for _, p := range l.pending {
		_ = p.Txn.Exec(sim)
	}
	err = txn.Txn.Exec(sim)
	if err != nil {
		return "", xerrors.Errorf("simulation failed: %w", rejection{reason: err})
	}

	l.pending = append(l.pending, txn)
	l.txIndex[hash] = &txRecord{status: TxPending, txn: txn.Txn}
	log.Debug().Msgf("ledger %s: accepted %s", l.chainID, txn.Txn.String())

	if l.autoCommit {
		l.commitLocked()
	}
	return hash, nil
}

// Status implements Client.
func (l *Local) Status(ctx context.Context, hash string) (TxStatus, error) {
	l.RLock()
	defer l.RUnlock()

	record, ok := l.txIndex[hash]
	if !ok {
		return TxUnknown, nil
	}
	return record.status, nil
}

// Transaction implements Client.
func (l *Local) Transaction(ctx context.Context, hash string) (Transaction, TxStatus, error) {
	l.RLock()
	defer l.RUnlock()

	record, ok := l.txIndex[hash]
	if !ok {
		return Transaction{}, TxUnknown, nil
	}
	return record.txn, record.status, nil
}

// Credit mints value to addr in a new block. It is the devnet faucet.
func (l *Local) Credit(addr string, value uint64) {
	l.Lock()
	defer l.Unlock()

	txn := NewTransactionCoinbase(l.chainID, addr, value)
	signed, _ := txn.Sign(nil)
	l.pending = append(l.pending, signed)
	l.commitLocked()
}

// Commit includes every pending transaction in a new block. It returns the
// block, or nil if nothing was pending.
func (l *Local) Commit() *Block {
	l.Lock()
	defer l.Unlock()

	return l.commitLocked()
}

// Run commits pending transactions every interval until ctx is done.
func (l *Local) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Commit()
		}
	}
}

// Height returns the height of the latest block.
func (l *Local) Height() uint64 {
	l.RLock()
	defer l.RUnlock()

	return l.blocks[len(l.blocks)-1].Height
}

// LatestBlock returns the latest block.
func (l *Local) LatestBlock() Block {
	l.RLock()
	defer l.RUnlock()

	return *l.blocks[len(l.blocks)-1]
}

func (l *Local) commitLocked() *Block {
	if len(l.pending) == 0 {
		return nil
	}

	latest := l.blocks[len(l.blocks)-1]
	bb := NewBlockBuilder()
	bb.SetPrevHash(latest.Hash()).
		SetHeight(latest.Height + 1).
		SetState(l.state.Copy())
	for _, txn := range l.pending {
		err := bb.AddTxn(txn)
		if err != nil {
			log.Warn().Msgf("ledger %s: %s failed: %v", l.chainID, txn.Hash(), err)
		}
	}
	l.pending = l.pending[:0]

	block := bb.Build()
	l.appendBlock(block)
	metrics.Get().Blocks.Inc()
	log.Info().Msgf("ledger %s: committed block %d with %d txns",
		l.chainID, block.Height, len(block.Transactions))
	return block
}

func (l *Local) appendBlock(block *Block) {
	l.blocks = append(l.blocks, block)
	l.state = block.States
	for _, txn := range block.Transactions {
		status := TxConfirmed
		if _, failed := block.Failed[txn.Hash()]; failed {
			status = TxFailed
		}
		l.txIndex[txn.Hash()] = &txRecord{height: block.Height, status: status, txn: txn.Txn}
	}
}
