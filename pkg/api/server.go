// Package api implements the JSON-RPC 2.0 server for Scrip.
//
// Supported methods:
//   - Query: getBalance, getCurrency, getTransaction, getClaim, getPool,
//     getStake, getAllowance, getContract, getExecution, getHealth, getVersion
//   - Funds: transfer, approve, transferFrom
//   - Currency: createCurrency, mint, burn, renounceMinting, deleteCurrency,
//     requestRateChange, applyRateChange
//   - Staking: stakeDeposit, stakeWithdraw
//   - Claims: createClaim, payClaim, cancelClaim
//   - Contracts: setContract, removeContract, invoke
//   - Pools: createPool, addLiquidity, removeLiquidity, swap
//
// Mutating methods act on behalf of the account an API key resolves to; the
// key travels in the X-API-Key header.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/scrip-ledger/scrip/internal/types"
	"github.com/scrip-ledger/scrip/pkg/ledger"
)

// Version is the reported server version.
const Version = "scrip-dev"

// Config holds API server configuration.
type Config struct {
	// Addr is the listen address (host:port).
	Addr string

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out writes.
	WriteTimeout time.Duration

	// MaxRequestSize is the maximum allowed request body size in bytes.
	MaxRequestSize int64

	// LogRequests enables request logging.
	LogRequests bool
}

// DefaultConfig returns a default API server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8474",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxRequestSize: 64 * 1024,
		LogRequests:    false,
	}
}

// Server is the JSON-RPC 2.0 server.
type Server struct {
	config Config

	engine *ledger.Engine
	keys   *Keys

	server *http.Server

	// Method handlers. Authenticated handlers receive the resolved caller.
	queries  map[string]queryFunc
	commands map[string]commandFunc

	mu      sync.RWMutex
	running bool
}

// queryFunc handles a read-only method.
type queryFunc func(params json.RawMessage) (interface{}, *RPCError)

// commandFunc handles a mutating method on behalf of an authenticated caller.
type commandFunc func(caller types.AccountID, params json.RawMessage) (interface{}, *RPCError)

// New creates a new API server.
func New(config Config, engine *ledger.Engine, keys *Keys) *Server {
	s := &Server{
		config:   config,
		engine:   engine,
		keys:     keys,
		queries:  make(map[string]queryFunc),
		commands: make(map[string]commandFunc),
	}
	s.registerHandlers()
	return s
}

// registerHandlers registers all method handlers.
func (s *Server) registerHandlers() {
	// Query methods
	s.queries["getBalance"] = s.getBalance
	s.queries["getCurrency"] = s.getCurrency
	s.queries["getTransaction"] = s.getTransaction
	s.queries["getClaim"] = s.getClaim
	s.queries["getPool"] = s.getPool
	s.queries["getStake"] = s.getStake
	s.queries["getAllowance"] = s.getAllowance
	s.queries["getContract"] = s.getContract
	s.queries["getExecution"] = s.getExecution
	s.queries["getHealth"] = s.getHealth
	s.queries["getVersion"] = s.getVersion

	// Fund methods
	s.commands["transfer"] = s.transfer
	s.commands["approve"] = s.approve
	s.commands["transferFrom"] = s.transferFrom

	// Currency methods
	s.commands["createCurrency"] = s.createCurrency
	s.commands["mint"] = s.mint
	s.commands["burn"] = s.burn
	s.commands["renounceMinting"] = s.renounceMinting
	s.commands["deleteCurrency"] = s.deleteCurrency
	s.commands["requestRateChange"] = s.requestRateChange
	s.commands["applyRateChange"] = s.applyRateChange

	// Staking methods
	s.commands["stakeDeposit"] = s.stakeDeposit
	s.commands["stakeWithdraw"] = s.stakeWithdraw

	// Claim methods
	s.commands["createClaim"] = s.createClaim
	s.commands["payClaim"] = s.payClaim
	s.commands["cancelClaim"] = s.cancelClaim

	// Contract methods
	s.commands["setContract"] = s.setContract
	s.commands["removeContract"] = s.removeContract
	s.commands["invoke"] = s.invoke

	// Pool methods
	s.commands["createPool"] = s.createPool
	s.commands["addLiquidity"] = s.addLiquidity
	s.commands["removeLiquidity"] = s.removeLiquidity
	s.commands["swap"] = s.swap
}

// Start starts the API server and blocks until the context is canceled.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.mu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRPC)

	s.server = &http.Server{
		Addr:         s.config.Addr,
		Handler:      mux,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	if s.config.LogRequests {
		log.Printf("[API] Server starting on %s", s.config.Addr)
	}

	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop stops the API server.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

// handleRPC handles incoming JSON-RPC requests.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, s.config.MaxRequestSize))
	if err != nil {
		s.writeError(w, nil, ErrParseError)
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, nil, ErrParseError)
		return
	}
	if req.JSONRPC != JSONRPCVersion {
		s.writeError(w, req.ID, ErrInvalidRequest)
		return
	}

	if s.config.LogRequests {
		log.Printf("[API] %s id=%v", req.Method, req.ID)
	}

	result, rpcErr := s.dispatch(r, req.Method, req.Params)
	if rpcErr != nil {
		s.writeError(w, req.ID, rpcErr)
		return
	}
	s.writeResult(w, req.ID, result)
}

// dispatch routes a method to its handler, authenticating commands.
func (s *Server) dispatch(r *http.Request, method string, params json.RawMessage) (interface{}, *RPCError) {
	if q, ok := s.queries[method]; ok {
		return q(params)
	}
	cmd, ok := s.commands[method]
	if !ok {
		return nil, NewRPCError(MethodNotFound, fmt.Sprintf("Method not found: %s", method))
	}

	secret := r.Header.Get("X-API-Key")
	if secret == "" {
		return nil, ErrUnauthorized
	}
	caller, err := s.keys.Resolve(secret)
	if err != nil {
		return nil, ErrUnauthorized
	}
	return cmd(caller, params)
}

// writeResult writes a successful response.
func (s *Server) writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := Response{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Result:  result,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, id interface{}, err *RPCError) {
	resp := Response{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error:   err,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
