// Package httpnet carries the cluster and ledger APIs over HTTP. The server
// exposes any cluster.Client and ledger.Client; the client implements both
// interfaces against a remote server. Compute events flow over a websocket.
package httpnet

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.dedis.ch/secretcompute/ledger"
	"go.dedis.ch/secretcompute/mpcerr"
	"go.dedis.ch/secretcompute/types"
	"golang.org/x/xerrors"
)

// errorBody is the JSON body of a failed call.
type errorBody struct {
	Kind      string `json:"kind,omitempty"`
	Component string `json:"component,omitempty"`
	Op        string `json:"op,omitempty"`
	Field     string `json:"field,omitempty"`
	Message   string `json:"message"`
	// Ledger names the ledger sentinel the error wraps, if any.
	Ledger string `json:"ledger,omitempty"`
}

// frame is a websocket message of the event stream. The first frame the
// server sends is either "ready" or "error".
type frame struct {
	Type  string              `json:"type"`
	Event *types.ComputeEvent `json:"event,omitempty"`
	Error *errorBody          `json:"error,omitempty"`
}

const (
	frameReady = "ready"
	frameEvent = "event"
	frameError = "error"
)

var ledgerErrors = []error{ledger.ErrBadNonce, ledger.ErrInsufficientBalance, ledger.ErrRejected}

type actionResponse struct {
	ActionID types.ActionID `json:"action_id"`
}

type computeResponse struct {
	ComputeID types.ComputeID `json:"compute_id"`
}

type chainResponse struct {
	ChainID string `json:"chain_id"`
}

type hashResponse struct {
	Hash string `json:"hash"`
}

type statusResponse struct {
	Status ledger.TxStatus `json:"status"`
}

type transactionResponse struct {
	Transaction ledger.Transaction `json:"transaction"`
	Status      ledger.TxStatus    `json:"status"`
}

// -----------------------------------------------------------------------------
// Errors

func encodeError(err error) *errorBody {
	body := &errorBody{Message: err.Error()}

	var e *mpcerr.Error
	if errors.As(err, &e) {
		body.Kind = mpcerr.KindName(e.Kind)
		body.Component = string(e.Component)
		body.Op = string(e.Op)
		body.Field = e.Field
		if e.Err != nil {
			body.Message = e.Err.Error()
		} else {
			body.Message = ""
		}
	}

	for _, sentinel := range ledgerErrors {
		if errors.Is(err, sentinel) {
			body.Ledger = sentinel.Error()
			break
		}
	}
	return body
}

// decodeError rebuilds a remote error. Errors without a kind become transient
// when the server failed.
func decodeError(c mpcerr.Component, op mpcerr.Op, status int, body *errorBody) error {
	var cause error
	if body.Message != "" {
		cause = errors.New(body.Message)
	}
	for _, sentinel := range ledgerErrors {
		if body.Ledger == sentinel.Error() {
			cause = xerrors.Errorf("%w: %v", sentinel, body.Message)
		}
	}

	kind := mpcerr.ParseKind(body.Kind)
	if kind == nil && status >= http.StatusInternalServerError {
		kind = mpcerr.ErrTransient
	}

	if body.Component != "" {
		c = mpcerr.Component(body.Component)
	}
	if body.Op != "" {
		op = mpcerr.Op(body.Op)
	}
	return mpcerr.Wrap(c, op, kind, cause).WithField(body.Field)
}

// statusOf maps an error to the HTTP status the server answers with.
func statusOf(err error) int {
	switch kind := mpcerr.KindOf(err); {
	case kind == nil:
		if errors.Is(err, ledger.ErrRejected) || errors.Is(err, ledger.ErrBadNonce) ||
			errors.Is(err, ledger.ErrInsufficientBalance) {
			return http.StatusBadRequest
		}
		return http.StatusInternalServerError
	case mpcerr.IsTransient(err):
		return http.StatusServiceUnavailable
	case errors.Is(kind, mpcerr.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(kind, mpcerr.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(kind, mpcerr.ErrUnknownCluster), errors.Is(kind, mpcerr.ErrUnknownCompute),
		errors.Is(kind, mpcerr.ErrUnknownProgram), errors.Is(kind, mpcerr.ErrUnknownStore):
		return http.StatusNotFound
	case errors.Is(kind, mpcerr.ErrReceiptAlreadyConsumed):
		return http.StatusConflict
	case errors.Is(kind, mpcerr.ErrStatusUnsupported):
		return http.StatusNotImplemented
	}
	return http.StatusBadRequest
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
