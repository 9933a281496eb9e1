// Scrip: metered contract scripting engine over a virtual economy ledger.
//
// This is the main entry point for scripd, the Scrip daemon. It opens the
// row store and execution journal, wires the ledger engine, and serves the
// JSON-RPC API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/scrip-ledger/scrip/internal/types"
	"github.com/scrip-ledger/scrip/pkg/api"
	"github.com/scrip-ledger/scrip/pkg/cvm/compiler"
	"github.com/scrip-ledger/scrip/pkg/cvm/ir"
	"github.com/scrip-ledger/scrip/pkg/ledger"
	"github.com/scrip-ledger/scrip/pkg/ledger/audit"
	"github.com/scrip-ledger/scrip/pkg/store"
)

// Version information
var (
	Version   = "0.1.0"
	GitCommit = "dev"
)

// Configuration flags
var (
	dataDir     = flag.String("data-dir", "/var/lib/scrip", "Data directory for the row store and journal")
	apiAddr     = flag.String("api-addr", ":8474", "API server listen address")
	enableAPI   = flag.Bool("enable-api", true, "Enable JSON-RPC API server")
	logRequests = flag.Bool("log-requests", false, "Log API requests")
	mintKey     = flag.String("mint-key", "", "Account id to mint an API key for, then exit")
	compileOnly = flag.String("compile", "", "Compile a script file, print its instruction count, and exit")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("scripd %s (%s)\n", Version, GitCommit)
		os.Exit(0)
	}

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	if *compileOnly != "" {
		if err := compileFile(*compileOnly); err != nil {
			log.Fatalf("Compile failed: %v", err)
		}
		return
	}

	log.Printf("Starting scripd %s", Version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	st, err := store.Open(store.DefaultConfig(filepath.Join(*dataDir, "rows")))
	if err != nil {
		log.Fatalf("Failed to open row store: %v", err)
	}
	defer st.Close()

	journal, err := audit.Open(filepath.Join(*dataDir, "journal.db"))
	if err != nil {
		log.Fatalf("Failed to open execution journal: %v", err)
	}
	defer journal.Close()

	engine := ledger.New(st, journal, ledger.DefaultConfig())

	keys, err := api.OpenKeys(filepath.Join(*dataDir, "keys.db"))
	if err != nil {
		log.Fatalf("Failed to open key store: %v", err)
	}
	defer keys.Close()

	if *mintKey != "" {
		secret, err := keys.Create(types.AccountID(*mintKey))
		if err != nil {
			log.Fatalf("Failed to mint API key: %v", err)
		}
		fmt.Println(secret)
		return
	}

	if !*enableAPI {
		log.Println("API disabled, idling until shutdown")
		<-ctx.Done()
		log.Println("scripd stopped")
		return
	}

	cfg := api.DefaultConfig()
	cfg.Addr = *apiAddr
	cfg.LogRequests = *logRequests
	server := api.New(cfg, engine, keys)

	log.Printf("Serving JSON-RPC API on %s", cfg.Addr)
	if err := server.Start(ctx); err != nil {
		log.Fatalf("API server failed: %v", err)
	}
	log.Println("scripd stopped")
}

// compileFile compiles a script and reports its size on stdout.
func compileFile(path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	prog, err := compiler.Compile(string(src))
	if err != nil {
		return err
	}
	table := ledger.DefaultConfig().Costs
	fmt.Printf("instructions: %d\n", ir.Count(prog))
	fmt.Printf("static cost:  %d\n", table.StaticCost(prog))
	return nil
}
