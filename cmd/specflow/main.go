// Command specflow runs the pipeline server and maintenance tooling.
//
// Usage:
//
//	specflow serve                      # start the API and metrics server
//	specflow serve --config spec.yaml   # with a config file
//	specflow health [--addr URL]        # check a running server
//	specflow prune [--older-than 168h]  # prune old execution records
//	specflow version
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/specflow/specflow"
	"github.com/specflow/specflow/api"
	"github.com/specflow/specflow/config"
	"github.com/specflow/specflow/internal/server"
)

var (
	// Injected at build time.
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "health":
		runHealthCheck(os.Args[2:])
	case "prune":
		runPrune(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func loadConfig(configPath string) *config.Config {
	loader := config.NewLoader()
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	addr := fs.String("addr", ":8080", "Listen address")
	fs.Parse(args)

	sys, err := specflow.Open(loadConfig(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		os.Exit(1)
	}
	defer sys.Close()

	sys.Logger.Info("starting specflow",
		zap.String("version", specflow.Version),
		zap.String("build_time", buildTime),
		zap.String("git_commit", gitCommit))

	apiServer := api.NewServer(sys.Store, api.Options{
		Coordinator: sys.Coordinator,
		Gatherer:    sys.Gatherer(),
	}, sys.Logger)

	srvCfg := server.DefaultConfig()
	srvCfg.Addr = *addr
	mgr := server.NewManager(apiServer.Handler(), srvCfg, sys.Logger)
	if err := mgr.Start(); err != nil {
		sys.Logger.Fatal("failed to start server", zap.Error(err))
	}

	mgr.WaitForShutdown()
	sys.Logger.Info("specflow stopped")
}

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/healthz")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}
	fmt.Println("OK")
}

func runPrune(args []string) {
	fs := flag.NewFlagSet("prune", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	olderThan := fs.Duration("older-than", 7*24*time.Hour, "Prune terminal executions older than this")
	fs.Parse(args)

	sys, err := specflow.Open(loadConfig(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer sys.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pruned, err := sys.Store.PruneExecutions(ctx, *olderThan)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Prune failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Pruned %d execution records\n", pruned)
}

func printVersion() {
	fmt.Printf("specflow %s\n", specflow.Version)
	fmt.Printf("  Build Time: %s\n", buildTime)
	fmt.Printf("  Git Commit: %s\n", gitCommit)
}

func printUsage() {
	fmt.Println(`specflow - multi-agent spec pipeline

Usage:
  specflow <command> [options]

Commands:
  serve     Start the API and metrics server
  health    Check a running server
  prune     Prune old execution records from the result store
  version   Show version information
  help      Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)
  --addr <addr>     Listen address (default :8080)

Options for 'prune':
  --config <path>       Path to configuration file (YAML)
  --older-than <dur>    Age threshold (default 168h)`)
}
