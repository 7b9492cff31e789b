package httpnet

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.dedis.ch/secretcompute/cluster"
	"go.dedis.ch/secretcompute/ledger"
	"go.dedis.ch/secretcompute/metrics"
	"go.dedis.ch/secretcompute/mpcerr"
	"go.dedis.ch/secretcompute/types"
)

const (
	writeWait       = 10 * time.Second
	shutdownTimeout = 5 * time.Second
	maxBodySize     = 1 << 20
)

// Server serves a cluster and a ledger over HTTP.
type Server struct {
	cluster  cluster.Client
	ledger   ledger.Client
	router   *mux.Router
	upgrader websocket.Upgrader

	// ctx ends the event streams when the server closes.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger zerolog.Logger
}

// NewServer creates the HTTP API of c and l.
func NewServer(c cluster.Client, l ledger.Client) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		cluster: c,
		ledger:  l,
		router:  mux.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		ctx:    ctx,
		cancel: cancel,
		logger: log.With().Str("component", "httpnet").Logger(),
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(s.observe)

	clusters := r.PathPrefix("/clusters/{cluster}").Subrouter()
	clusters.HandleFunc("/quotes", handle(s, mpcerr.Cluster, mpcerr.OpQuote, s.quote)).Methods(http.MethodPost)
	clusters.HandleFunc("/receipts", handle(s, mpcerr.Cluster, mpcerr.OpRedeem, s.redeem)).Methods(http.MethodPost)
	clusters.HandleFunc("/programs", handle(s, mpcerr.Cluster, mpcerr.OpStoreProgram, s.storeProgram)).Methods(http.MethodPost)
	clusters.HandleFunc("/values", handle(s, mpcerr.Cluster, mpcerr.OpStoreValues, s.storeValues)).Methods(http.MethodPost)
	clusters.HandleFunc("/computes", handle(s, mpcerr.Cluster, mpcerr.OpSubmit, s.compute)).Methods(http.MethodPost)
	clusters.HandleFunc("/computes/{compute}/status", handle(s, mpcerr.Cluster, mpcerr.OpStatus, s.status)).Methods(http.MethodPost)
	clusters.HandleFunc("/events", s.events).Methods(http.MethodGet)

	chain := r.PathPrefix("/ledger").Subrouter()
	chain.HandleFunc("/chain", s.chainID).Methods(http.MethodGet)
	chain.HandleFunc("/accounts/{address}", s.account).Methods(http.MethodGet)
	chain.HandleFunc("/txs", handle(s, mpcerr.Ledger, mpcerr.OpBroadcast, s.broadcast)).Methods(http.MethodPost)
	chain.HandleFunc("/txs/{hash}", s.transaction).Methods(http.MethodGet)
	chain.HandleFunc("/txs/{hash}/status", s.txStatus).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

// Handler returns the HTTP handler of the API.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: writeWait,
	}

	go func() {
		<-ctx.Done()
		s.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		if err != nil {
			s.logger.Warn().Msgf("shutdown: %v", err)
		}
	}()

	s.logger.Info().Msgf("listening on %s", addr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Close ends the open event streams.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

// observe logs and counts requests.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			tpl, err := current.GetPathTemplate()
			if err == nil {
				route = tpl
			}
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		metrics.Get().Requests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		s.logger.Debug().Msgf("%s %s %d (%s)", r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrader take the connection over.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer cannot be hijacked")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// handle decodes the JSON request, calls fn and encodes its answer.
func handle[Req any, Resp any](s *Server, c mpcerr.Component, op mpcerr.Op,
	fn func(ctx context.Context, vars map[string]string, req Req) (Resp, error)) http.HandlerFunc {

	return func(w http.ResponseWriter, r *http.Request) {
		var req Req
		err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req)
		if err != nil {
			s.fail(w, mpcerr.Wrap(c, op, mpcerr.ErrMalformedResponse, err))
			return
		}

		resp, err := fn(r.Context(), mux.Vars(r), req)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn().Msgf("request failed: %v", err)
	}
	writeJSON(w, status, encodeError(err))
}

// -----------------------------------------------------------------------------
// Cluster

func (s *Server) quote(ctx context.Context, vars map[string]string, op types.Operation) (types.Quote, error) {
	return s.cluster.Quote(ctx, vars["cluster"], op)
}

func (s *Server) redeem(ctx context.Context, vars map[string]string, req cluster.RedeemRequest) (types.Receipt, error) {
	return s.cluster.Redeem(ctx, vars["cluster"], req)
}

func (s *Server) storeProgram(ctx context.Context, vars map[string]string,
	req cluster.StoreProgramRequest) (actionResponse, error) {

	id, err := s.cluster.StoreProgram(ctx, vars["cluster"], req)
	return actionResponse{ActionID: id}, err
}

func (s *Server) storeValues(ctx context.Context, vars map[string]string,
	req cluster.StoreValuesRequest) (types.RawHandles, error) {

	return s.cluster.StoreValues(ctx, vars["cluster"], req)
}

func (s *Server) compute(ctx context.Context, vars map[string]string,
	req cluster.ComputeRequest) (computeResponse, error) {

	id, err := s.cluster.Compute(ctx, vars["cluster"], req)
	return computeResponse{ComputeID: id}, err
}

func (s *Server) status(ctx context.Context, vars map[string]string,
	req cluster.StatusRequest) (types.ComputeEvent, error) {

	if string(req.ComputeID) != vars["compute"] {
		return types.ComputeEvent{}, mpcerr.New(mpcerr.Cluster, mpcerr.OpStatus, mpcerr.ErrUnknownCompute,
			"request is for %s", req.ComputeID).WithField(vars["compute"])
	}
	return s.cluster.Status(ctx, vars["cluster"], req)
}

// events streams the events of the subscriber over a websocket. The client
// sends its SubscribeRequest as the first message.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Msgf("websocket upgrade: %v", err)
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()
	defer conn.Close()

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	var req cluster.SubscribeRequest
	err = conn.ReadJSON(&req)
	if err != nil {
		s.logger.Warn().Msgf("bad subscription: %v", err)
		return
	}

	stream, err := s.cluster.Subscribe(ctx, mux.Vars(r)["cluster"], req)
	if err != nil {
		_ = writeFrame(conn, frame{Type: frameError, Error: encodeError(err)})
		return
	}
	defer stream.Close()

	err = writeFrame(conn, frame{Type: frameReady})
	if err != nil {
		return
	}

	// the client sends nothing more, reading only detects it leaving
	go func() {
		defer cancel()
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				return
			}
		}
	}()

	s.logger.Info().Msgf("event stream opened for %s", req.UserID)
	for {
		ev, err := stream.Recv(ctx)
		if err != nil {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			s.logger.Info().Msgf("event stream closed for %s: %v", req.UserID, err)
			return
		}

		err = writeFrame(conn, frame{Type: frameEvent, Event: &ev})
		if err != nil {
			s.logger.Warn().Msgf("event stream of %s dropped: %v", req.UserID, err)
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, f frame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(f)
}

// -----------------------------------------------------------------------------
// Ledger

func (s *Server) chainID(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, chainResponse{ChainID: s.ledger.ChainID()})
}

func (s *Server) account(w http.ResponseWriter, r *http.Request) {
	info, err := s.ledger.Account(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) broadcast(ctx context.Context, vars map[string]string,
	txn ledger.SignedTransaction) (hashResponse, error) {

	hash, err := s.ledger.Broadcast(ctx, &txn)
	return hashResponse{Hash: hash}, err
}

func (s *Server) transaction(w http.ResponseWriter, r *http.Request) {
	txn, status, err := s.ledger.Transaction(r.Context(), mux.Vars(r)["hash"])
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transactionResponse{Transaction: txn, Status: status})
}

func (s *Server) txStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.ledger.Status(r.Context(), mux.Vars(r)["hash"])
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: status})
}
