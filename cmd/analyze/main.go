// Package main runs a single token analysis from the command line and
// prints the report as JSON. Credits are granted to a local in-memory
// ledger, so the CLI never touches the production credit balance.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"holderscope/internal/chaindata"
	"holderscope/internal/coordinator"
	"holderscope/internal/domain"
	"holderscope/internal/graph"
	"holderscope/internal/sink"
	"holderscope/internal/storage/memory"
)

const baseChainID = 8453

const cliRequester = "cli"

func main() {
	godotenv.Load()

	token := flag.String("token", "", "Token contract address to analyze")
	kindFlag := flag.String("kind", "quick", "Analysis kind: quick or deep")
	rpcEndpoint := flag.String("rpc-endpoint", os.Getenv("BASE_RPC_ENDPOINT"), "Base chain RPC HTTP endpoint")
	baseExplorerURL := flag.String("base-explorer-url", envOr("BASE_EXPLORER_URL", "https://api.basescan.org/api"), "Base explorer API URL")
	baseExplorerKey := flag.String("base-explorer-key", os.Getenv("BASE_EXPLORER_KEY"), "Base explorer API key")
	ethExplorerURL := flag.String("eth-explorer-url", envOr("ETH_EXPLORER_URL", "https://api.etherscan.io/api"), "Ethereum explorer API URL")
	ethExplorerKey := flag.String("eth-explorer-key", os.Getenv("ETH_EXPLORER_KEY"), "Ethereum explorer API key (optional)")
	covalentKey := flag.String("covalent-key", os.Getenv("COVALENT_API_KEY"), "Covalent API key (optional)")
	explorerPace := flag.Duration("explorer-pace", 250*time.Millisecond, "Minimum interval between explorer API calls")
	timeout := flag.Duration("timeout", 5*time.Minute, "Overall analysis timeout")
	output := flag.String("output", "", "Write the report JSON to a file instead of stdout")
	verbose := flag.Bool("verbose", false, "Verbose coordinator logging")

	flag.Parse()

	logger := log.New(os.Stderr, "[analyze] ", log.LstdFlags)

	if *token == "" {
		logger.Fatal("--token is required")
	}
	kind := domain.AnalysisKind(*kindFlag)
	if !kind.Valid() {
		logger.Fatalf("unknown kind %q, use quick or deep", *kindFlag)
	}
	if *rpcEndpoint == "" {
		logger.Fatal("--rpc-endpoint is required")
	}
	if *baseExplorerKey == "" {
		logger.Fatal("--base-explorer-key is required")
	}

	opts := chaindata.Options{
		RPC:          chaindata.NewRPCClient(*rpcEndpoint),
		BaseExplorer: chaindata.NewExplorerClient(*baseExplorerURL, *baseExplorerKey, chaindata.WithExplorerPacer(chaindata.NewPacer(*explorerPace))),
	}
	if *ethExplorerKey != "" {
		opts.EthExplorer = chaindata.NewExplorerClient(*ethExplorerURL, *ethExplorerKey, chaindata.WithExplorerPacer(chaindata.NewPacer(*explorerPace)))
	}
	if *covalentKey != "" {
		opts.Covalent = chaindata.NewCovalentClient(*covalentKey, baseChainID)
	}
	provider, err := chaindata.NewClient(opts)
	if err != nil {
		logger.Fatalf("create chain data provider: %v", err)
	}

	ledger := memory.NewCreditLedger()
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := ledger.CreateAccount(ctx, cliRequester, kind.CreditCost()); err != nil {
		logger.Fatalf("create CLI credit account: %v", err)
	}

	coord, err := coordinator.New(coordinator.Options{
		Provider:    provider,
		Graph:       graph.NewAnalyzer(graph.Options{Lookup: provider}),
		Ledger:      ledger,
		Sink:        sink.NewLogSink(logger),
		TaskTimeout: *timeout,
		Verbose:     *verbose,
	})
	if err != nil {
		logger.Fatalf("create coordinator: %v", err)
	}
	defer coord.Close()

	admitted, err := coord.Submit(ctx, *token, cliRequester, cliRequester, kind)
	if err != nil {
		logger.Fatalf("submit: %v", err)
	}
	if !admitted {
		logger.Fatal("submission was not admitted")
	}

	if err := waitDrained(ctx, coord); err != nil {
		logger.Fatalf("waiting for analysis: %v", err)
	}

	report, ok := coord.GetCachedResult(cliRequester)
	if !ok {
		// The failure reason was already logged by the sink.
		logger.Fatal("analysis failed")
	}

	out := os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			logger.Fatalf("create output file: %v", err)
		}
		defer f.Close()
		out = f
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		logger.Fatalf("encode report: %v", err)
	}
}

func waitDrained(ctx context.Context, coord *coordinator.Coordinator) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			st := coord.GetQueueStatus()
			if !st.IsProcessing && st.QueueLength == 0 {
				return nil
			}
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
