package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"nestkv/internal/config"
	"nestkv/internal/hostkey"
	"nestkv/internal/logging"
	"nestkv/internal/metrics"
	"nestkv/internal/shell"
	"nestkv/internal/ssh"
	"nestkv/internal/storage"
)

var logger = logging.For("main")

// errCommandFailed is returned by run when a one-shot command printed an
// error. The message is already on stdout, so main only sets the exit code.
var errCommandFailed = errors.New("command failed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout)
	if errors.Is(err, errCommandFailed) {
		stop()
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("nestkv: %v", err)
	}
}

// run parses args, opens the configured store and either executes the
// remaining arguments as a single command or starts the shell on stdin.
func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("nestkv", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config file")
	backend := fs.String("backend", "", "storage backend: bolt, sqlite or memory (overrides config)")
	dataDir := fs.String("data-dir", "", "data directory (overrides config)")
	visibility := fs.String("visibility", "", "visibility class (overrides config)")
	namespace := fs.String("namespace", "", "slash separated namespace path (overrides config)")
	logLevel := fs.String("log-level", "", "log level (overrides config)")
	metricsListen := fs.String("metrics-listen", "", "Prometheus listen address (overrides config)")
	sshListen := fs.String("ssh-listen", "", "serve the shell over SSH on this address (overrides config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	// Load config (TOML file with defaults)
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// CLI flags override config file values
	if *backend != "" {
		cfg.Storage.Backend = *backend
	}
	if *dataDir != "" {
		cfg.Storage.DataDir = *dataDir
	}
	if *visibility != "" {
		cfg.Storage.Visibility = *visibility
	}
	if *namespace != "" {
		cfg.Storage.Namespace = strings.Split(*namespace, "/")
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *metricsListen != "" {
		cfg.Metrics.Listen = *metricsListen
	}
	if *sshListen != "" {
		cfg.SSH.Listen = *sshListen
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logging.Init(cfg.Log.Level, cfg.Log.Format)

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Listen != "" {
		if m, err = metrics.New(); err != nil {
			_ = st.Close()
			return fmt.Errorf("metrics: %w", err)
		}
		srv := serveMetrics(cfg.Metrics.Listen, m)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	db := storage.New(st, storage.Options{Metrics: m})
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn("closing store", "err", err)
		}
	}()

	// Validate has already accepted the visibility name.
	vis, _ := storage.ParseVisibility(cfg.Storage.Visibility)
	s, err := db.Storage(vis, cfg.Storage.Namespace...)
	if err != nil {
		return err
	}

	rest := fs.Args()
	if cfg.SSH.Listen != "" && len(rest) == 0 {
		return serveSSH(ctx, cfg, db, s)
	}

	sh := shell.New(db, s)
	defer sh.Close()

	if len(rest) > 0 {
		sh.Exec(ctx, rest, stdout)
		if sh.Session().Failed() {
			return errCommandFailed
		}
		return nil
	}
	return sh.Run(ctx, stdin, stdout)
}

// serveSSH runs the SSH shell server until ctx is cancelled.
func serveSSH(ctx context.Context, cfg *config.Config, db *storage.DB, root *storage.Storage) error {
	dataDir := config.ExpandHome(cfg.Storage.DataDir)
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	key, err := hostkey.Load(dataDir)
	if err != nil {
		return fmt.Errorf("host key: %w", err)
	}

	srv := ssh.NewServer(cfg.SSH.Listen, key, db, root, cfg.AuthorizedKeysPath())
	if err := srv.Listen(); err != nil {
		return err
	}
	logger.Info("ssh listening", "addr", srv.Addr(), "fingerprint", key.Fingerprint, "root", root.String())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx) }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-errCh:
	}
	srv.Stop()
	return err
}

func serveMetrics(addr string, m *metrics.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "addr", addr, "err", err)
		}
	}()
	logger.Info("metrics listening", "addr", addr)
	return srv
}
