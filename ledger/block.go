package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"go.dedis.ch/secretcompute/storage"
)

var DUMMY_PREVHASH = hex.EncodeToString(make([]byte, 32))

// -----------------------------------------------------------------------------
// BlockHeader

// BlockHeader is the header of a block in the ledger
type BlockHeader struct {
	PrevHash  string
	Height    uint64
	Timestamp int64

	StateHash       string
	TransactionHash string
}

// Hash computes the block hash based on data in block header
func (bh *BlockHeader) Hash() string {
	h := sha256.New()
	h.Write([]byte(bh.PrevHash))
	h.Write([]byte(strconv.FormatUint(bh.Height, 10)))
	h.Write([]byte(strconv.FormatInt(bh.Timestamp, 10)))

	h.Write([]byte(bh.StateHash))
	h.Write([]byte(bh.TransactionHash))

	return hex.EncodeToString(h.Sum(nil))
}

// -----------------------------------------------------------------------------
// Block

// Block groups the transactions committed together and the resulting state
type Block struct {
	*BlockHeader
	States       storage.KVStore
	Transactions []SignedTransaction
	// Failed holds the hashes of included transactions that did not execute.
	Failed map[string]string
}

// HasTxn checks whether the txn is included in the block
func (b *Block) HasTxn(txnHash string) bool {
	for _, txn := range b.Transactions {
		if txn.Hash() == txnHash {
			return true
		}
	}
	return false
}

// -----------------------------------------------------------------------------
// BlockBuilder

type BlockBuilder struct {
	prevHash     string
	height       uint64
	states       storage.KVStore
	transactions []SignedTransaction
	failed       map[string]string
}

func NewBlockBuilder() *BlockBuilder {
	return &BlockBuilder{
		transactions: make([]SignedTransaction, 0),
		failed:       map[string]string{},
	}
}

// AddTxn executes txn on the builder state and appends it. A transaction that
// fails to execute is still recorded so that its status becomes final.
func (bb *BlockBuilder) AddTxn(txn *SignedTransaction) error {
	err := txn.Txn.Exec(bb.states)
	if err != nil {
		bb.failed[txn.Hash()] = err.Error()
	}
	bb.transactions = append(bb.transactions, *txn)
	return err
}

func (bb *BlockBuilder) SetPrevHash(prevHash string) *BlockBuilder {
	bb.prevHash = prevHash
	return bb
}

func (bb *BlockBuilder) SetHeight(height uint64) *BlockBuilder {
	bb.height = height
	return bb
}

func (bb *BlockBuilder) SetState(state storage.KVStore) *BlockBuilder {
	bb.states = state
	return bb
}

func (bb *BlockBuilder) Build() *Block {
	h := sha256.New()
	for _, txn := range bb.transactions {
		h.Write(txn.Txn.HashBytes())
	}
	txnHash := h.Sum(nil)

	header := BlockHeader{
		PrevHash:        bb.prevHash,
		Height:          bb.height,
		Timestamp:       time.Now().UnixNano(),
		StateHash:       hex.EncodeToString(bb.states.Hash()),
		TransactionHash: hex.EncodeToString(txnHash),
	}

	return &Block{
		BlockHeader:  &header,
		States:       bb.states,
		Transactions: bb.transactions,
		Failed:       bb.failed,
	}
}
