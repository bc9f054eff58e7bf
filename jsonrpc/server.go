package jsonrpc

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/handler"
	"github.com/creachadair/jrpc2/jhttp"
	"github.com/holiman/uint256"

	"qdag/errors"
	"qdag/jsonx"
	"qdag/logx"
	"qdag/node"
	"qdag/ratelimit"
	"qdag/store"
	"qdag/types"
	"qdag/unit"
)

// Ledger is the node surface the RPC server consumes.
type Ledger interface {
	SubmitTransaction(tx *types.Transaction) (string, error)
	GetTransactionStatus(txHash string) *node.TxStatus
	GetUnitStatus(unitID string) (types.FinalityState, bool)
	GetUnit(unitID string) (*unit.Unit, error)
	ReadFinalized(from uint64, max int) ([]store.Entry, error)
	FinalizedHeight() uint64
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func toJRPC2Error(e *rpcError) error {
	if e == nil {
		return nil
	}
	var ledgerError errors.LedgerError
	if err := jsonx.Unmarshal([]byte(e.Message), &ledgerError); err == nil && ledgerError.Code != "" {
		return jrpc2.Errorf(jrpc2.Code(e.Code), "%s", ledgerError.Message).WithData(ledgerError)
	}
	return jrpc2.Errorf(jrpc2.Code(e.Code), "%s", e.Message)
}

// --- Params/Results ---

type txMsgParams struct {
	Type      int32  `json:"type"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
	Fee       string `json:"fee"`
	Nonce     uint64 `json:"nonce"`
	Timestamp uint64 `json:"timestamp"`
	TextData  string `json:"text_data"`
}

type signedTxParams struct {
	TxMsg     txMsgParams `json:"tx_msg"`
	Signature string      `json:"signature"`
}

type sendTxResponse struct {
	Ok     bool   `json:"ok"`
	TxHash string `json:"tx_hash"`
	Error  string `json:"error,omitempty"`
}

type getTxStatusRequest struct {
	TxHash string `json:"tx_hash"`
}

type getUnitStatusRequest struct {
	UnitID string `json:"unit_id"`
}

type unitStatusResponse struct {
	UnitID string `json:"unit_id"`
	State  string `json:"state"`
	Known  bool   `json:"known"`
}

type getUnitRequest struct {
	UnitID string `json:"unit_id"`
}

type getUnitResponse struct {
	Unit  *unit.Unit `json:"unit"`
	State string     `json:"state,omitempty"`
	Error string     `json:"error,omitempty"`
}

type getFinalizedRequest struct {
	FromOffset uint64 `json:"from_offset"`
	MaxEntries int    `json:"max_entries"`
}

type getFinalizedResponse struct {
	Entries    []store.Entry `json:"entries"`
	NextOffset uint64        `json:"next_offset"`
	Height     uint64        `json:"height"`
}

type healthResponse struct {
	Ok     bool   `json:"ok"`
	Height uint64 `json:"height"`
}

// --- Server ---

type Server struct {
	addr       string
	ledger     Ledger
	corsConfig CORSConfig
	limiter    *ratelimit.Limiter
	httpSrv    *http.Server
}

type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         int
}

func NewServer(addr string, ledger Ledger) *Server {
	return &Server{
		addr:   addr,
		ledger: ledger,
	}
}

// SetCORSConfig allows configuring CORS settings
func (s *Server) SetCORSConfig(config CORSConfig) {
	s.corsConfig = config
}

// SetRateLimiter installs a per-client request limiter. Nil disables limiting.
func (s *Server) SetRateLimiter(l *ratelimit.Limiter) {
	s.limiter = l
}

func (s *Server) Start() {
	methods := s.buildMethodMap()
	jh := jhttp.NewBridge(methods, &jhttp.BridgeOptions{Server: &jrpc2.ServerOptions{}})

	mux := http.NewServeMux()
	mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.setCORSHeaders(w, r)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		if s.limiter != nil && !s.limiter.Allow(clientKey(r)) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		jh.ServeHTTP(w, r)
	}))

	s.httpSrv = &http.Server{Addr: s.addr, Handler: mux}
	go func() {
		logx.Info("JSONRPC", "Serving on ", s.addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logx.Error("JSONRPC", "Server stopped: ", err)
		}
	}()
}

func (s *Server) Stop(ctx context.Context) {
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			logx.Error("JSONRPC", "Shutdown failed: ", err)
		}
	}
}

func (s *Server) buildMethodMap() handler.Map {
	return handler.Map{
		"tx.send": handler.New(func(ctx context.Context, p signedTxParams) (*sendTxResponse, error) {
			res, rerr := s.rpcSendTx(p)
			if rerr != nil {
				return nil, toJRPC2Error(rerr)
			}
			return res, nil
		}),
		"tx.getstatus": handler.New(func(ctx context.Context, p getTxStatusRequest) (*node.TxStatus, error) {
			return s.ledger.GetTransactionStatus(p.TxHash), nil
		}),
		"unit.getstatus": handler.New(func(ctx context.Context, p getUnitStatusRequest) (*unitStatusResponse, error) {
			state, known := s.ledger.GetUnitStatus(p.UnitID)
			resp := &unitStatusResponse{UnitID: p.UnitID, Known: known}
			if known {
				resp.State = state.String()
			}
			return resp, nil
		}),
		"unit.get": handler.New(func(ctx context.Context, p getUnitRequest) (*getUnitResponse, error) {
			res, rerr := s.rpcGetUnit(p)
			if rerr != nil {
				return nil, toJRPC2Error(rerr)
			}
			return res, nil
		}),
		"ledger.getfinalized": handler.New(func(ctx context.Context, p getFinalizedRequest) (*getFinalizedResponse, error) {
			res, rerr := s.rpcGetFinalized(p)
			if rerr != nil {
				return nil, toJRPC2Error(rerr)
			}
			return res, nil
		}),
		"ledger.health": handler.New(func(ctx context.Context) (*healthResponse, error) {
			return &healthResponse{Ok: true, Height: s.ledger.FinalizedHeight()}, nil
		}),
	}
}

// --- Implementations ---

func (s *Server) rpcSendTx(p signedTxParams) (*sendTxResponse, *rpcError) {
	amount, err := uint256.FromDecimal(p.TxMsg.Amount)
	if err != nil {
		return &sendTxResponse{Ok: false, Error: fmt.Sprintf("invalid amount: %v", err)}, nil
	}
	fee := uint256.NewInt(0)
	if p.TxMsg.Fee != "" {
		fee, err = uint256.FromDecimal(p.TxMsg.Fee)
		if err != nil {
			return &sendTxResponse{Ok: false, Error: fmt.Sprintf("invalid fee: %v", err)}, nil
		}
	}
	tx := &types.Transaction{
		Type:      p.TxMsg.Type,
		Sender:    p.TxMsg.Sender,
		Recipient: p.TxMsg.Recipient,
		Amount:    amount,
		Fee:       fee,
		Nonce:     p.TxMsg.Nonce,
		Timestamp: p.TxMsg.Timestamp,
		TextData:  p.TxMsg.TextData,
		Signature: p.Signature,
	}
	txHash, err := s.ledger.SubmitTransaction(tx)
	if err != nil {
		return &sendTxResponse{Ok: false, Error: err.Error()}, nil
	}
	return &sendTxResponse{Ok: true, TxHash: txHash}, nil
}

func (s *Server) rpcGetUnit(p getUnitRequest) (*getUnitResponse, *rpcError) {
	u, err := s.ledger.GetUnit(p.UnitID)
	if err != nil {
		return nil, &rpcError{Code: -32000, Message: err.Error()}
	}
	if u == nil {
		return &getUnitResponse{Error: "not found"}, nil
	}
	resp := &getUnitResponse{Unit: u}
	if state, known := s.ledger.GetUnitStatus(p.UnitID); known {
		resp.State = state.String()
	}
	return resp, nil
}

func (s *Server) rpcGetFinalized(p getFinalizedRequest) (*getFinalizedResponse, *rpcError) {
	max := p.MaxEntries
	if max <= 0 || max > 1024 {
		max = 256
	}
	entries, err := s.ledger.ReadFinalized(p.FromOffset, max)
	if err != nil {
		return nil, &rpcError{Code: -32000, Message: err.Error()}
	}
	next := p.FromOffset
	if len(entries) > 0 {
		next = entries[len(entries)-1].Offset + 1
	}
	return &getFinalizedResponse{
		Entries:    entries,
		NextOffset: next,
		Height:     s.ledger.FinalizedHeight(),
	}, nil
}

// --- Helpers ---

func (s *Server) setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	if len(s.corsConfig.AllowedOrigins) > 0 {
		if s.corsConfig.AllowedOrigins[0] == "*" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			origin := r.Header.Get("Origin")
			for _, allowedOrigin := range s.corsConfig.AllowedOrigins {
				if origin == allowedOrigin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
	}
	if len(s.corsConfig.AllowedMethods) > 0 {
		w.Header().Set("Access-Control-Allow-Methods", strings.Join(s.corsConfig.AllowedMethods, ", "))
	}
	if len(s.corsConfig.AllowedHeaders) > 0 {
		w.Header().Set("Access-Control-Allow-Headers", strings.Join(s.corsConfig.AllowedHeaders, ", "))
	}
	if s.corsConfig.MaxAge > 0 {
		w.Header().Set("Access-Control-Max-Age", fmt.Sprintf("%d", s.corsConfig.MaxAge))
	}
}

// CORSFromEnv reads environment variables and constructs a CORSConfig.
// Returns (cfg, true) if any CORS-related env var is set; otherwise (zero, false).
//
// Env vars:
// - CORS_ALLOWED_ORIGINS: comma-separated list
// - CORS_ALLOWED_METHODS: comma-separated list
// - CORS_ALLOWED_HEADERS: comma-separated list
// - CORS_MAX_AGE: integer seconds
func CORSFromEnv() (CORSConfig, bool) {
	origins := os.Getenv("CORS_ALLOWED_ORIGINS")
	methods := os.Getenv("CORS_ALLOWED_METHODS")
	headers := os.Getenv("CORS_ALLOWED_HEADERS")
	maxAgeStr := os.Getenv("CORS_MAX_AGE")

	var maxAge int
	if maxAgeStr != "" {
		if v, err := strconv.Atoi(maxAgeStr); err == nil {
			maxAge = v
		}
	}

	var allowedOrigins, allowedMethods, allowedHeaders []string
	if origins != "" {
		allowedOrigins = splitAndTrim(origins)
	}
	if methods != "" {
		allowedMethods = splitAndTrim(methods)
	}
	if headers != "" {
		allowedHeaders = splitAndTrim(headers)
	}

	provided := len(allowedOrigins) > 0 || len(allowedMethods) > 0 || len(allowedHeaders) > 0 || maxAge > 0
	if !provided {
		return CORSConfig{}, false
	}

	return CORSConfig{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: allowedMethods,
		AllowedHeaders: allowedHeaders,
		MaxAge:         maxAge,
	}, true
}

// clientKey identifies a caller for rate limiting: the remote host without
// the ephemeral port.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	var out []string
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
