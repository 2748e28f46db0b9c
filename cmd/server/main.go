// Package main runs the holder analysis service: an HTTP/WebSocket surface
// over the task coordinator, backed by live chain data providers and the
// credit ledger.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"holderscope/internal/chaindata"
	"holderscope/internal/coordinator"
	"holderscope/internal/domain"
	"holderscope/internal/graph"
	"holderscope/internal/observability"
	"holderscope/internal/sink"
	"holderscope/internal/storage"
	chstore "holderscope/internal/storage/clickhouse"
	"holderscope/internal/storage/memory"
	"holderscope/internal/storage/migrations"
	pgstore "holderscope/internal/storage/postgres"
)

// Covalent chain ID for Base mainnet.
const baseChainID = 8453

// Server wires the coordinator to its HTTP and WebSocket surface.
type Server struct {
	coord    *coordinator.Coordinator
	hub      *sink.Hub
	ledger   storage.CreditLedger
	logger   *log.Logger
	upgrader websocket.Upgrader
	started  time.Time
}

type allStores struct {
	ledger    storage.CreditLedger
	logs      storage.AnalysisLogStore
	snapshots storage.HolderSnapshotStore
}

func main() {
	// .env is optional; system env vars win.
	godotenv.Load()

	addr := flag.String("addr", envOr("HTTP_ADDR", ":8080"), "HTTP listen address")
	rpcEndpoint := flag.String("rpc-endpoint", os.Getenv("BASE_RPC_ENDPOINT"), "Base chain RPC HTTP endpoint")
	baseExplorerURL := flag.String("base-explorer-url", envOr("BASE_EXPLORER_URL", "https://api.basescan.org/api"), "Base explorer API URL")
	baseExplorerKey := flag.String("base-explorer-key", os.Getenv("BASE_EXPLORER_KEY"), "Base explorer API key")
	ethExplorerURL := flag.String("eth-explorer-url", envOr("ETH_EXPLORER_URL", "https://api.etherscan.io/api"), "Ethereum explorer API URL")
	ethExplorerKey := flag.String("eth-explorer-key", os.Getenv("ETH_EXPLORER_KEY"), "Ethereum explorer API key (optional)")
	covalentKey := flag.String("covalent-key", os.Getenv("COVALENT_API_KEY"), "Covalent API key (optional)")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	taskTimeout := flag.Duration("task-timeout", 2*time.Minute, "Per-task provider timeout")
	cacheSize := flag.Int("cache-size", 64, "Report cache capacity")
	explorerPace := flag.Duration("explorer-pace", 250*time.Millisecond, "Minimum interval between explorer API calls")
	verbose := flag.Bool("verbose", false, "Verbose coordinator logging")

	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	if *rpcEndpoint == "" {
		logger.Fatal("--rpc-endpoint is required")
	}
	if *baseExplorerKey == "" {
		logger.Fatal("--base-explorer-key is required")
	}
	if !*useMemory && (*postgresDSN == "" || *clickhouseDSN == "") {
		logger.Fatal("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	provider, err := createProvider(*rpcEndpoint, *baseExplorerURL, *baseExplorerKey,
		*ethExplorerURL, *ethExplorerKey, *covalentKey, *explorerPace)
	if err != nil {
		logger.Fatalf("Failed to create chain data provider: %v", err)
	}

	analyzer := graph.NewAnalyzer(graph.Options{Lookup: provider})
	hub := sink.NewHub(log.New(os.Stdout, "[sink] ", log.LstdFlags))

	coord, err := coordinator.New(coordinator.Options{
		Provider:    provider,
		Graph:       analyzer,
		Ledger:      stores.ledger,
		Sink:        hub,
		Logs:        stores.logs,
		Snapshots:   stores.snapshots,
		TaskTimeout: *taskTimeout,
		CacheSize:   *cacheSize,
		Verbose:     *verbose,
	})
	if err != nil {
		logger.Fatalf("Failed to create coordinator: %v", err)
	}

	server := &Server{
		coord:   coord,
		hub:     hub,
		ledger:  stores.ledger,
		logger:  logger,
		started: time.Now(),
	}

	httpServer := &http.Server{
		Addr:    *addr,
		Handler: server.routes(),
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, shutting down...", sig)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
		cancel()
	}()

	logger.Printf("Listening on %s", *addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("HTTP server error: %v", err)
	}

	coord.Close()
	logger.Println("Shutdown complete")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// createStores builds the ledger and archive stores, running migrations on
// the durable backends.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool) (*allStores, func(), error) {
	if useMemory {
		stores := &allStores{
			ledger:    memory.NewCreditLedger(),
			logs:      memory.NewAnalysisLogStore(),
			snapshots: memory.NewHolderSnapshotStore(),
		}
		return stores, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}

	chConn, err := chstore.NewConn(ctx, clickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
	}
	if err := migrations.RunClickhouseMigrations(ctx, chConn); err != nil {
		chConn.Close()
		pool.Close()
		return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
	}

	stores := &allStores{
		ledger:    pgstore.NewCreditLedger(pool),
		logs:      pgstore.NewAnalysisLogStore(pool),
		snapshots: chstore.NewHolderSnapshotStore(chConn),
	}
	cleanup := func() {
		chConn.Close()
		pool.Close()
	}
	return stores, cleanup, nil
}

func createProvider(rpcEndpoint, baseURL, baseKey, ethURL, ethKey, covalentKey string, pace time.Duration) (*chaindata.Client, error) {
	opts := chaindata.Options{
		RPC:          chaindata.NewRPCClient(rpcEndpoint),
		BaseExplorer: chaindata.NewExplorerClient(baseURL, baseKey, chaindata.WithExplorerPacer(chaindata.NewPacer(pace))),
	}
	if ethKey != "" {
		opts.EthExplorer = chaindata.NewExplorerClient(ethURL, ethKey, chaindata.WithExplorerPacer(chaindata.NewPacer(pace)))
	}
	if covalentKey != "" {
		opts.Covalent = chaindata.NewCovalentClient(covalentKey, baseChainID)
	}
	return chaindata.NewClient(opts)
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", observability.Handler())

	mux.HandleFunc("/analyze", s.handleAnalyze)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/results", s.handleResults)
	mux.HandleFunc("/report", s.handleReport)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/accounts", s.handleAccounts)
	mux.HandleFunc("/accounts/balance", s.handleBalance)

	return mux
}

type analyzeRequest struct {
	TokenAddress string `json:"token_address"`
	RequesterID  string `json:"requester_id"`
	Kind         string `json:"kind"`
	Channel      string `json:"channel,omitempty"`
}

type analyzeResponse struct {
	Admitted bool   `json:"admitted"`
	Error    string `json:"error,omitempty"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, analyzeResponse{Error: "invalid JSON body"})
		return
	}
	if req.Channel == "" {
		req.Channel = req.RequesterID
	}

	admitted, err := s.coord.Submit(r.Context(), req.TokenAddress, req.RequesterID,
		req.Channel, domain.AnalysisKind(req.Kind))
	if err != nil {
		writeJSON(w, submitStatus(err), analyzeResponse{Admitted: admitted, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, analyzeResponse{Admitted: admitted})
}

// submitStatus maps coordinator admission errors onto HTTP status codes.
func submitStatus(err error) int {
	switch {
	case errors.Is(err, storage.ErrInsufficientCredits):
		return http.StatusPaymentRequired
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, coordinator.ErrInvalidKind),
		errors.Is(err, storage.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		// Invalid addresses and internal errors.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return http.StatusServiceUnavailable
		}
		return http.StatusBadRequest
	}
}

// StatusResponse is the JSON response for the /status endpoint.
type StatusResponse struct {
	Status            string                `json:"status"`
	Uptime            string                `json:"uptime"`
	QueueLength       int                   `json:"queue_length"`
	IsProcessing      bool                  `json:"is_processing"`
	CurrentTask       *coordinator.TaskInfo `json:"current_task,omitempty"`
	InFlightCount     int                   `json:"in_flight_count"`
	CachedResultCount int                   `json:"cached_result_count"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.coord.GetQueueStatus()
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:            "running",
		Uptime:            time.Since(s.started).String(),
		QueueLength:       st.QueueLength,
		IsProcessing:      st.IsProcessing,
		CurrentTask:       st.CurrentTask,
		InFlightCount:     st.InFlightCount,
		CachedResultCount: st.CachedResultCount,
	})
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	requester := r.URL.Query().Get("requester")
	if requester == "" {
		http.Error(w, "requester query parameter is required", http.StatusBadRequest)
		return
	}
	report, ok := s.coord.GetCachedResult(requester)
	if !ok {
		http.Error(w, "no result for requester", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	kind := domain.AnalysisKind(r.URL.Query().Get("kind"))
	if token == "" || !kind.Valid() {
		http.Error(w, "token and kind query parameters are required", http.StatusBadRequest)
		return
	}
	report, ok := s.coord.GetCachedReport(token, kind)
	if !ok {
		http.Error(w, "no cached report", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	channel := r.URL.Query().Get("channel")
	if channel == "" {
		http.Error(w, "channel query parameter is required", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("websocket upgrade for %s: %v", channel, err)
		return
	}
	s.hub.Register(channel, conn)

	// Reads are only used to detect the peer going away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.hub.Unregister(channel)
				return
			}
		}
	}()
}

type accountRequest struct {
	RequesterID string `json:"requester_id"`
	Credits     int64  `json:"credits"`
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req accountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	err := s.ledger.CreateAccount(r.Context(), req.RequesterID, req.Credits)
	switch {
	case errors.Is(err, storage.ErrDuplicateKey):
		http.Error(w, "account already exists", http.StatusConflict)
	case errors.Is(err, storage.ErrInvalidInput):
		http.Error(w, "invalid requester or credits", http.StatusBadRequest)
	case err != nil:
		s.logger.Printf("create account %s: %v", req.RequesterID, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusCreated)
	}
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	requester := r.URL.Query().Get("requester")
	if requester == "" {
		http.Error(w, "requester query parameter is required", http.StatusBadRequest)
		return
	}
	bal, err := s.ledger.Balance(r.Context(), requester)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "unknown requester", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Printf("balance %s: %v", requester, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"requester_id": requester,
		"credits":      bal,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
