// The trackprobe command inspects HLS multivariant playlists and serves a
// catalog of their video tracks over HTTP.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agleyzer/trackprobe/internal/catalog"
	"github.com/agleyzer/trackprobe/internal/cluster"
	"github.com/agleyzer/trackprobe/internal/config"
	"github.com/agleyzer/trackprobe/internal/logger"
	"github.com/agleyzer/trackprobe/internal/manifest"
	"github.com/agleyzer/trackprobe/internal/metrics"
	"github.com/agleyzer/trackprobe/internal/server"
)

const (
	version = "1.0.0"
)

func main() {
	// A missing .env is not an error
	_ = config.Load()

	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "probe":
		err = runProbe(os.Args[2:], os.Stdout)
	case "serve":
		err = runServe(os.Args[2:])
	case "version", "--version", "-version":
		fmt.Printf("trackprobe v%s\n", version)
	case "help", "--help", "-h":
		usage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", os.Args[1])
		usage(os.Stderr)
		os.Exit(1)
	}

	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "trackprobe - HLS video track inspector v%s\n\n", version)
	fmt.Fprintf(w, "Usage:\n")
	fmt.Fprintf(w, "  trackprobe probe [options] <playlist-url>   Print the tracks of a playlist as JSON\n")
	fmt.Fprintf(w, "  trackprobe serve [options]                  Run the catalog HTTP server\n")
	fmt.Fprintf(w, "  trackprobe version                          Show version\n\n")
	fmt.Fprintf(w, "Examples:\n")
	fmt.Fprintf(w, "  trackprobe probe https://example.com/master.m3u8\n")
	fmt.Fprintf(w, "  trackprobe serve --port 8080 --refresh 1m\n")
	fmt.Fprintf(w, "  trackprobe serve --raft-id node1 --raft-bind 127.0.0.1:7000 --peers 127.0.0.1:7000,127.0.0.1:7001,127.0.0.1:7002\n")
}

type probeOptions struct {
	url     string
	timeout time.Duration
	verbose bool
}

func parseProbeFlags(args []string, output io.Writer) (probeOptions, error) {
	var opts probeOptions

	fs := flag.NewFlagSet("probe", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.DurationVar(&opts.timeout, "timeout", config.GetEnvDuration("PROBE_TIMEOUT", manifest.DefaultTimeout), "HTTP timeout for fetching the playlist")
	fs.BoolVar(&opts.verbose, "verbose", config.GetEnvBool("VERBOSE", false), "Enable verbose logging")
	fs.Usage = func() {
		fmt.Fprintf(output, "Usage: trackprobe probe [options] <playlist-url>\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return opts, err
	}

	if fs.NArg() < 1 {
		return opts, fmt.Errorf("playlist URL is required")
	}
	opts.url = fs.Arg(0)

	if opts.timeout <= 0 {
		return opts, fmt.Errorf("timeout must be positive, got: %s", opts.timeout)
	}

	return opts, nil
}

func runProbe(args []string, stdout io.Writer) error {
	opts, err := parseProbeFlags(args, os.Stderr)
	if err != nil {
		return err
	}

	log := newLogger(opts.verbose, os.Stderr)
	fetcher := manifest.NewFetcher(opts.timeout, log)

	m, err := fetcher.Fetch(context.Background(), opts.url)
	if err != nil {
		return fmt.Errorf("failed to probe playlist: %w", err)
	}

	return writeManifest(stdout, m)
}

func writeManifest(w io.Writer, m *manifest.Manifest) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}

type serveOptions struct {
	port    int
	refresh time.Duration
	timeout time.Duration
	verbose bool
	cluster cluster.Config
}

func parseServeFlags(args []string, output io.Writer) (serveOptions, error) {
	var (
		opts  serveOptions
		peers string
	)

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.IntVar(&opts.port, "port", config.GetEnvInt("PORT", 8080), "HTTP server port")
	fs.DurationVar(&opts.refresh, "refresh", config.GetEnvDuration("REFRESH_INTERVAL", 0), "Re-probe all sources at this interval (0 disables)")
	fs.DurationVar(&opts.timeout, "timeout", config.GetEnvDuration("PROBE_TIMEOUT", manifest.DefaultTimeout), "HTTP timeout for fetching playlists")
	fs.BoolVar(&opts.verbose, "verbose", config.GetEnvBool("VERBOSE", false), "Enable verbose logging")
	fs.StringVar(&opts.cluster.RaftID, "raft-id", config.GetEnv("RAFT_ID", ""), "Unique node ID for Raft cluster (enables cluster mode)")
	fs.StringVar(&opts.cluster.BindAddr, "raft-bind", config.GetEnv("RAFT_BIND", ""), "Raft bind address (e.g., 127.0.0.1:7000)")
	fs.StringVar(&peers, "peers", config.GetEnv("RAFT_PEERS", ""), "Comma-separated list of Raft peer addresses, including this node")
	fs.StringVar(&opts.cluster.LogLevel, "raft-log-level", config.GetEnv("RAFT_LOG_LEVEL", ""), "Raft log level (trace, debug, info, warn, error); empty silences Raft")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	opts.cluster.Peers = cluster.ParsePeers(peers)

	if opts.port < 1 || opts.port > 65535 {
		return opts, fmt.Errorf("port must be between 1 and 65535")
	}
	if opts.refresh < 0 {
		return opts, fmt.Errorf("refresh interval must not be negative, got: %s", opts.refresh)
	}
	if opts.timeout <= 0 {
		return opts, fmt.Errorf("timeout must be positive, got: %s", opts.timeout)
	}
	if opts.cluster.Enabled() {
		if err := opts.cluster.Validate(); err != nil {
			return opts, fmt.Errorf("invalid cluster flags: %w", err)
		}
	}

	return opts, nil
}

func runServe(args []string) error {
	opts, err := parseServeFlags(args, os.Stderr)
	if err != nil {
		return err
	}

	log := newLogger(opts.verbose, os.Stdout)
	log.Info("trackprobe starting", "version", version)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info("received signal", "signal", sig)
		cancel()
	}()

	fetcher := manifest.NewFetcher(opts.timeout, log)
	met := metrics.New()

	var (
		store   catalog.Store = catalog.NewMemoryStore()
		manager *cluster.Manager
	)
	if opts.cluster.Enabled() {
		manager, err = cluster.NewManager(opts.cluster, log)
		if err != nil {
			return fmt.Errorf("failed to create cluster manager: %w", err)
		}
		if err := manager.Start(ctx); err != nil {
			return fmt.Errorf("failed to start cluster: %w", err)
		}
		defer manager.Shutdown()

		log.Info("waiting for cluster leader election")
		waitCtx, waitCancel := context.WithTimeout(ctx, 30*time.Second)
		err := manager.WaitForLeader(waitCtx)
		waitCancel()
		if err != nil {
			return fmt.Errorf("no cluster leader elected: %w", err)
		}
		log.Info("cluster leader elected", "leader", manager.LeaderAddr(), "state", manager.State())

		store = manager
	}

	cat := catalog.New(store, fetcher, log, catalog.WithProbeHook(met.ObserveProbe))

	if opts.refresh > 0 {
		go cat.StartAutoRefresh(ctx, opts.refresh)
	}

	srv := server.New(cat, fetcher, met, opts.port, log)
	if manager != nil {
		srv.WithCluster(manager)
	}

	log.Info("track catalog ready",
		"sources", fmt.Sprintf("http://localhost:%d/sources", opts.port),
		"health", fmt.Sprintf("http://localhost:%d/health", opts.port),
		"metrics", fmt.Sprintf("http://localhost:%d/metrics", opts.port),
	)

	// Start server (blocks until shutdown)
	if err := srv.Start(ctx); err != nil {
		return err
	}

	log.Info("trackprobe stopped")
	return nil
}

func newLogger(verbose bool, w io.Writer) *slog.Logger {
	level := config.GetEnv("LOG_LEVEL", "info")
	if verbose {
		level = "debug"
	}
	return logger.New(w, level, config.GetEnv("LOG_FORMAT", "text"))
}
