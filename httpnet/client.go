package httpnet

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.dedis.ch/secretcompute/cluster"
	"go.dedis.ch/secretcompute/ledger"
	"go.dedis.ch/secretcompute/mpcerr"
	"go.dedis.ch/secretcompute/types"
	"golang.org/x/xerrors"
)

// DefaultTimeout bounds a single HTTP call.
const DefaultTimeout = 30 * time.Second

// transport performs the JSON calls of both clients.
type transport struct {
	base   string
	http   *http.Client
	dialer websocket.Dialer
}

// ClientOption configures a client.
type ClientOption func(*transport)

// WithHTTPClient sets the HTTP client used for calls.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(t *transport) {
		t.http = c
	}
}

func newTransport(endpoint string, opts ...ClientOption) transport {
	t := transport{
		base:   strings.TrimSuffix(endpoint, "/"),
		http:   &http.Client{Timeout: DefaultTimeout},
		dialer: websocket.Dialer{HandshakeTimeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(&t)
	}
	return t
}

// call sends body as JSON and decodes the answer into Resp. Connection
// failures and server failures are transient.
func call[Resp any](ctx context.Context, t transport, c mpcerr.Component, op mpcerr.Op,
	method, path string, body interface{}) (Resp, error) {

	var resp Resp

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return resp, mpcerr.Wrap(c, op, nil, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.base+path, reader)
	if err != nil {
		return resp, mpcerr.Wrap(c, op, mpcerr.ErrConfig, err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := t.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return resp, mpcerr.Wrap(c, op, nil, err)
		}
		return resp, mpcerr.Wrap(c, op, mpcerr.ErrTransient, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxBodySize))
	if err != nil {
		return resp, mpcerr.Wrap(c, op, mpcerr.ErrTransient, err)
	}

	if res.StatusCode != http.StatusOK {
		var body errorBody
		err = json.Unmarshal(data, &body)
		if err != nil {
			body = errorBody{Message: strings.TrimSpace(string(data))}
		}
		return resp, decodeError(c, op, res.StatusCode, &body)
	}

	err = json.Unmarshal(data, &resp)
	if err != nil {
		return resp, mpcerr.Wrap(c, op, mpcerr.ErrMalformedResponse, err)
	}
	return resp, nil
}

// -----------------------------------------------------------------------------
// Cluster

// ClusterClient implements cluster.Client against an httpnet server.
type ClusterClient struct {
	t transport
}

// NewClusterClient creates a cluster client of the server at endpoint.
func NewClusterClient(endpoint string, opts ...ClientOption) *ClusterClient {
	return &ClusterClient{t: newTransport(endpoint, opts...)}
}

func clusterPath(clusterID, suffix string) string {
	return "/clusters/" + url.PathEscape(clusterID) + suffix
}

// Quote implements cluster.Client.
func (c *ClusterClient) Quote(ctx context.Context, clusterID string, op types.Operation) (types.Quote, error) {
	return call[types.Quote](ctx, c.t, mpcerr.Cluster, mpcerr.OpQuote,
		http.MethodPost, clusterPath(clusterID, "/quotes"), op)
}

// Redeem implements cluster.Client.
func (c *ClusterClient) Redeem(ctx context.Context, clusterID string, req cluster.RedeemRequest) (types.Receipt, error) {
	return call[types.Receipt](ctx, c.t, mpcerr.Cluster, mpcerr.OpRedeem,
		http.MethodPost, clusterPath(clusterID, "/receipts"), req)
}

// StoreProgram implements cluster.Client.
func (c *ClusterClient) StoreProgram(ctx context.Context, clusterID string, req cluster.StoreProgramRequest) (types.ActionID, error) {
	resp, err := call[actionResponse](ctx, c.t, mpcerr.Cluster, mpcerr.OpStoreProgram,
		http.MethodPost, clusterPath(clusterID, "/programs"), req)
	return resp.ActionID, err
}

// StoreValues implements cluster.Client.
func (c *ClusterClient) StoreValues(ctx context.Context, clusterID string, req cluster.StoreValuesRequest) (types.RawHandles, error) {
	return call[types.RawHandles](ctx, c.t, mpcerr.Cluster, mpcerr.OpStoreValues,
		http.MethodPost, clusterPath(clusterID, "/values"), req)
}

// Compute implements cluster.Client.
func (c *ClusterClient) Compute(ctx context.Context, clusterID string, req cluster.ComputeRequest) (types.ComputeID, error) {
	resp, err := call[computeResponse](ctx, c.t, mpcerr.Cluster, mpcerr.OpSubmit,
		http.MethodPost, clusterPath(clusterID, "/computes"), req)
	return resp.ComputeID, err
}

// Status implements cluster.Client.
func (c *ClusterClient) Status(ctx context.Context, clusterID string, req cluster.StatusRequest) (types.ComputeEvent, error) {
	path := clusterPath(clusterID, "/computes/"+url.PathEscape(string(req.ComputeID))+"/status")
	return call[types.ComputeEvent](ctx, c.t, mpcerr.Cluster, mpcerr.OpStatus, http.MethodPost, path, req)
}

// Subscribe implements cluster.Client. The stream also ends when ctx is done.
func (c *ClusterClient) Subscribe(ctx context.Context, clusterID string, req cluster.SubscribeRequest) (cluster.EventStream, error) {
	endpoint := c.t.base + clusterPath(clusterID, "/events")
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		endpoint = "wss://" + strings.TrimPrefix(endpoint, "https://")
	case strings.HasPrefix(endpoint, "http://"):
		endpoint = "ws://" + strings.TrimPrefix(endpoint, "http://")
	}

	conn, _, err := c.t.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, mpcerr.Wrap(mpcerr.Cluster, mpcerr.OpSubscribe, mpcerr.ErrTransient, err)
	}

	err = conn.WriteJSON(req)
	if err != nil {
		conn.Close()
		return nil, mpcerr.Wrap(mpcerr.Cluster, mpcerr.OpSubscribe, mpcerr.ErrTransient, err)
	}

	var first frame
	_ = conn.SetReadDeadline(time.Now().Add(DefaultTimeout))
	err = conn.ReadJSON(&first)
	if err != nil {
		conn.Close()
		return nil, mpcerr.Wrap(mpcerr.Cluster, mpcerr.OpSubscribe, mpcerr.ErrTransient, err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	switch {
	case first.Type == frameError && first.Error != nil:
		conn.Close()
		return nil, decodeError(mpcerr.Cluster, mpcerr.OpSubscribe, http.StatusBadRequest, first.Error)
	case first.Type != frameReady:
		conn.Close()
		return nil, mpcerr.New(mpcerr.Cluster, mpcerr.OpSubscribe, mpcerr.ErrMalformedResponse,
			"unexpected %q frame", first.Type)
	}

	s := &wsStream{
		conn:   conn,
		events: make(chan types.ComputeEvent),
		ended:  make(chan struct{}),
		closed: make(chan struct{}),
	}
	go s.read()
	context.AfterFunc(ctx, func() { s.Close() })

	return s, nil
}

// wsStream is the client side of the event websocket.
type wsStream struct {
	conn   *websocket.Conn
	events chan types.ComputeEvent

	// err is set before ended is closed.
	err   error
	ended chan struct{}

	once   sync.Once
	closed chan struct{}
}

func (s *wsStream) read() {
	defer close(s.ended)

	for {
		var f frame
		err := s.conn.ReadJSON(&f)
		if err != nil {
			select {
			case <-s.closed:
				s.err = io.EOF
			default:
				if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					s.err = io.EOF
				} else {
					s.err = xerrors.Errorf("event stream: %v", err)
				}
			}
			return
		}
		if f.Type != frameEvent || f.Event == nil {
			continue
		}

		select {
		case s.events <- *f.Event:
		case <-s.closed:
			s.err = io.EOF
			return
		}
	}
}

// Recv implements cluster.EventStream.
func (s *wsStream) Recv(ctx context.Context) (types.ComputeEvent, error) {
	select {
	case ev := <-s.events:
		return ev, nil
	case <-s.ended:
		return types.ComputeEvent{}, s.err
	case <-ctx.Done():
		return types.ComputeEvent{}, ctx.Err()
	}
}

// Close implements cluster.EventStream.
func (s *wsStream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closed)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		err = s.conn.Close()
	})
	return err
}

// -----------------------------------------------------------------------------
// Ledger

// LedgerClient implements ledger.Client against an httpnet server.
type LedgerClient struct {
	t transport

	sync.Mutex
	chainID string
}

// NewLedgerClient creates a ledger client of the server at endpoint. An empty
// chainID is fetched from the server on first use.
func NewLedgerClient(endpoint, chainID string, opts ...ClientOption) *LedgerClient {
	return &LedgerClient{t: newTransport(endpoint, opts...), chainID: chainID}
}

// ChainID implements ledger.Client. It is empty if the server cannot be
// reached.
func (l *LedgerClient) ChainID() string {
	l.Lock()
	defer l.Unlock()

	if l.chainID != "" {
		return l.chainID
	}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()
	resp, err := call[chainResponse](ctx, l.t, mpcerr.Ledger, mpcerr.OpPay, http.MethodGet, "/ledger/chain", nil)
	if err != nil {
		return ""
	}
	l.chainID = resp.ChainID
	return l.chainID
}

// Account implements ledger.Client.
func (l *LedgerClient) Account(ctx context.Context, addr string) (ledger.AccountInfo, error) {
	return call[ledger.AccountInfo](ctx, l.t, mpcerr.Ledger, mpcerr.OpPay,
		http.MethodGet, "/ledger/accounts/"+url.PathEscape(addr), nil)
}

// Broadcast implements ledger.Client.
func (l *LedgerClient) Broadcast(ctx context.Context, txn *ledger.SignedTransaction) (string, error) {
	resp, err := call[hashResponse](ctx, l.t, mpcerr.Ledger, mpcerr.OpBroadcast,
		http.MethodPost, "/ledger/txs", txn)
	return resp.Hash, err
}

// Status implements ledger.Client.
func (l *LedgerClient) Status(ctx context.Context, hash string) (ledger.TxStatus, error) {
	resp, err := call[statusResponse](ctx, l.t, mpcerr.Ledger, mpcerr.OpPoll,
		http.MethodGet, "/ledger/txs/"+url.PathEscape(hash)+"/status", nil)
	if err != nil {
		return ledger.TxUnknown, err
	}
	return resp.Status, nil
}

// Transaction implements ledger.Client.
func (l *LedgerClient) Transaction(ctx context.Context, hash string) (ledger.Transaction, ledger.TxStatus, error) {
	resp, err := call[transactionResponse](ctx, l.t, mpcerr.Ledger, mpcerr.OpPoll,
		http.MethodGet, "/ledger/txs/"+url.PathEscape(hash), nil)
	if err != nil {
		return ledger.Transaction{}, ledger.TxUnknown, err
	}
	return resp.Transaction, resp.Status, nil
}
