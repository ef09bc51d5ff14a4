// Command slack-chatter runs the MCP search gateway: a JSON-RPC 2.0
// tool-calling front end over an external semantic search backend,
// served over authenticated HTTP and/or a local stdio channel.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"github.com/chatterhq/slack-chatter/internal/auth"
	"github.com/chatterhq/slack-chatter/internal/backend"
	"github.com/chatterhq/slack-chatter/internal/config"
	"github.com/chatterhq/slack-chatter/internal/logging"
	"github.com/chatterhq/slack-chatter/internal/mcp"
	"github.com/chatterhq/slack-chatter/internal/metrics"
	"github.com/chatterhq/slack-chatter/internal/models"
	"github.com/chatterhq/slack-chatter/internal/ratelimit"
	"github.com/chatterhq/slack-chatter/internal/server"
	"github.com/chatterhq/slack-chatter/internal/session"
	"github.com/chatterhq/slack-chatter/internal/store"
	"github.com/chatterhq/slack-chatter/internal/tools"
)

var Version = "dev"

func main() {
	// Handle hash-secret subcommand before anything else.
	if len(os.Args) > 1 && os.Args[1] == "hash-secret" {
		hashSecret()
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// hashSecret prints the bcrypt hash of a secret read from stdin, for
// use as a client_secret in the credentials file.
func hashSecret() {
	fmt.Fprint(os.Stderr, "Enter secret: ")

	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		fmt.Fprintln(os.Stderr, "no input")
		os.Exit(1)
	}

	hash, err := bcrypt.GenerateFromPassword(scanner.Bytes(), bcrypt.DefaultCost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(string(hash))
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// The stdio transport owns stdout, so logs move to stderr.
	logger := logging.New(cfg.Environment, cfg.LogLevel, cfg.StdioEnabled())

	m := metrics.New()

	limiter := ratelimit.NewLimiter(cfg.BackendRateWindow, cfg.BackendRateQuota, nil)
	executor := ratelimit.NewExecutor(limiter, ratelimit.DefaultConfig(), logger, m)
	svc := backend.NewClient(cfg.BackendURL, cfg.BackendAPIKey, executor, logger)
	registry := tools.NewRegistry(svc, logger)

	info := mcp.ServerInfo{Name: "slack-chatter", Version: Version}
	dispatcherFor := func(scopes []string) *mcp.Dispatcher {
		return mcp.NewDispatcher(registry, scopes, info, logger, m)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	if cfg.HTTPEnabled() {
		if err := runHTTP(ctx, g, cfg, logger, m, svc, dispatcherFor); err != nil {
			return err
		}
	}

	if cfg.StdioEnabled() {
		// The local channel is pre-authenticated: one implicit
		// session holding every scope.
		stdio := server.NewStdio(dispatcherFor(tools.AllScopes), os.Stdin, os.Stdout, logger)

		g.Go(func() error {
			if err := stdio.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("stdio transport: %w", err)
			}

			// EOF on stdin means the parent is gone; wind the rest
			// of the process down too.
			stop()

			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("shutdown complete")

	return nil
}

// runHTTP wires the OAuth store, session manager, and mux, and
// registers the serve/shutdown pair on the errgroup.
func runHTTP(ctx context.Context, g *errgroup.Group, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, svc backend.Service, dispatcherFor session.DispatcherFactory) error {
	creds, err := cfg.LoadCredentials()
	if err != nil {
		return err
	}

	codes, tokens, closeStore, err := openStores(cfg.StorePath)
	if err != nil {
		return err
	}

	authStore := auth.NewStore(codes, tokens, creds.Clients, creds.APIKeys, logger)
	sessions := session.NewManager(cfg.SessionTTL, dispatcherFor, logger, m)

	mux := server.NewMux(server.MuxConfig{
		AuthStore: authStore,
		Sessions:  sessions,
		Backend:   svc,
		Metrics:   m,
		Logger:    logger,
		ServerURL: cfg.ServerURL,
		Scopes:    tools.AllScopes,
	})

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g.Go(func() error {
		logger.Info("starting http server",
			slog.String("listen", cfg.ListenAddr),
			slog.String("server_url", cfg.ServerURL),
			slog.Int("clients", len(creds.Clients)),
			slog.Int("api_keys", len(creds.APIKeys)),
		)

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down http server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		_ = httpServer.Shutdown(shutdownCtx)

		sessions.Stop()
		authStore.Stop()

		if closeStore != nil {
			_ = closeStore()
		}

		return nil
	})

	return nil
}

// openStores picks the OAuth state backing: bbolt buckets when a path
// is configured, plain memory otherwise.
func openStores(path string) (store.Store[models.AuthCode], store.Store[models.Token], func() error, error) {
	codeExpiry := func(c models.AuthCode) time.Time { return c.ExpiresAt }
	tokenExpiry := func(t models.Token) time.Time { return t.ExpiresAt }

	if path == "" {
		return store.NewMem[models.AuthCode](codeExpiry), store.NewMem[models.Token](tokenExpiry), nil, nil
	}

	db, err := store.Open(path)
	if err != nil {
		return nil, nil, nil, err
	}

	codes, err := store.NewBolt[models.AuthCode](db, "auth_codes", codeExpiry)
	if err != nil {
		return nil, nil, nil, errors.Join(err, db.Close())
	}

	tokens, err := store.NewBolt[models.Token](db, "tokens", tokenExpiry)
	if err != nil {
		return nil, nil, nil, errors.Join(err, db.Close())
	}

	return codes, tokens, db.Close, nil
}
