// Package main is the hybridkb CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/hybridkb/internal/config"
	"github.com/hyperjump/hybridkb/internal/retrieval"
	"github.com/hyperjump/hybridkb/internal/server"
	"github.com/hyperjump/hybridkb/internal/watcher"
	"github.com/hyperjump/hybridkb/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/hybridkb/config.yaml"

// loadConfig loads config from path. When path is the default and config.yaml exists in
// the current directory, that file is used instead so a checkout runs with its own config.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// openService loads config and opens the retrieval service in direct mode.
// The returned cleanup closes the service and flushes the logger.
func openService(configPath string, debug bool) (*retrieval.Service, *zap.Logger, func()) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		fatalf("Failed to load config: %v\n", err)
	}
	logger, err := utils.NewLogger(cfg.Debug || debug)
	if err != nil {
		fatalf("Failed to create logger: %v\n", err)
	}
	svc, err := retrieval.Open(cfg, logger)
	if err != nil {
		_ = logger.Sync()
		fatalf("Failed to initialize: %v\n", err)
	}
	return svc, logger, func() {
		if err := svc.Close(); err != nil {
			logger.Warn("close failed", zap.Error(err))
		}
		_ = logger.Sync()
	}
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format, args...)
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	args := os.Args[2:]
	switch command {
	case "server":
		runServer(args)
	case "search":
		runSearch(args)
	case "ingest":
		runIngest(args)
	case "remove":
		runRemove(args)
	case "kb":
		runKnowledgeBase(args)
	case "documents":
		runDocuments(args)
	case "reindex":
		runReindex(args)
	case "clear-embeddings":
		runClearEmbeddings(args)
	case "stats":
		runStats(args)
	case "version", "--version", "-v":
		fmt.Printf("hybridkb version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer(args []string) {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	noWatch := fs.Bool("no-watch", false, "do not watch the inbox directory")
	_ = fs.Parse(args)

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fatalf("Failed to load config: %v\n", err)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fatalf("Failed to create logger: %v\n", err)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	svc, err := retrieval.Open(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize", zap.Error(err))
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Warn("close failed", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var inbox *watcher.Watcher
	if cfg.Watch.InboxDir != "" && !*noWatch {
		inbox = watcher.NewWatcher(cfg.Watch.InboxDir, cfg.Watch.Extensions, svc, watcher.WithLogger(logger))
		if err := inbox.Start(ctx); err != nil {
			logger.Fatal("failed to start watcher", zap.Error(err))
		}
		go func() {
			n := inbox.SyncExisting(ctx)
			logger.Info("inbox synced", zap.String("inbox", inbox.Inbox()), zap.Int("ingested", n))
		}()
	}

	srv := server.NewServer(svc, &cfg.Server, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	if inbox != nil {
		inbox.Stop()
	}
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
}

func printUsage() {
	fmt.Println(`hybridkb - hybrid retrieval engine for insurance knowledge bases

Usage:
  hybridkb server [flags]                      Start the HTTP server and inbox watcher
  hybridkb search [flags] <query>              Search knowledge bases
  hybridkb ingest [flags] <file-or-directory>  Ingest documents into a knowledge base
  hybridkb remove [flags] <filename>           Remove a document from a knowledge base
  hybridkb kb <create|list|delete|status>      Manage knowledge bases
  hybridkb documents [flags]                   List documents of a knowledge base
  hybridkb reindex [flags]                     Re-embed one or all knowledge bases
  hybridkb clear-embeddings [flags]            Drop the vector partitions of a knowledge base
  hybridkb stats [flags]                       Show aggregate statistics
  hybridkb version                             Show version
  hybridkb help                                Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/hybridkb/config.yaml)
  --kb string        Knowledge base id
  --output string    Output format: text, compact (search only) or json (default: text)

Server Flags:
  --debug            Enable debug logging
  --no-watch         Do not watch the inbox directory

Search Flags:
  --server string    Server URL (default: http://localhost:8080). Use --server "" to open the database directly.
  --kb string        Comma-separated knowledge base ids (default: all)
  --mode string      vector, lexical, hybrid or fulltext (default: hybrid)
  --top-k int        Number of results (default from config)
  --provider string  auto, local or cloud
  --vector-weight, --lexical-weight float   Override the fusion weights
  --expand, --rerank                        Toggle query expansion and re-ranking

Ingest, Remove, Reindex, Stats and KB List Flags:
  --server string    Send the request to a running server instead of opening the database

Examples:
  hybridkb server
  hybridkb search "Haftung bei Wasserschaden"
  hybridkb search --kb rechtliches --mode lexical "Art. 14 VVG"
  hybridkb search --output json "Kündigungsfrist"
  hybridkb ingest --kb produkte ./docs/hausrat.md
  hybridkb remove --kb produkte hausrat.md
  hybridkb kb create --name "Schadenfälle" schadenfaelle
  hybridkb reindex --all
  hybridkb stats --output json`)
}
