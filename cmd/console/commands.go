package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BlackOSSoftware/mspk-console/cmd/console/internal/channel"
	"github.com/BlackOSSoftware/mspk-console/cmd/console/internal/chat"
	"github.com/BlackOSSoftware/mspk-console/cmd/console/internal/effects"
	"github.com/BlackOSSoftware/mspk-console/cmd/console/internal/eventconn"
	"github.com/BlackOSSoftware/mspk-console/cmd/console/internal/notify"
	"github.com/BlackOSSoftware/mspk-console/cmd/console/internal/quotes"
	"github.com/BlackOSSoftware/mspk-console/cmd/console/internal/restapi"
	"github.com/BlackOSSoftware/mspk-console/cmd/console/internal/session"
	"github.com/BlackOSSoftware/mspk-console/pkg/config"
)

// runOptions holds flags for the run command.
type runOptions struct {
	Ticket        string
	MetricsAddr   string
	PrintInterval time.Duration
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "console",
		Short: "MSPK admin console realtime client",
		Long: `Keeps the admin console's market watch, ticket conversation and
notification list in sync with the backend and the push gateway.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newLoginCommand())
	cmd.AddCommand(newLogoutCommand())
	return cmd
}

func newRunCommand() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the realtime sync client",
		Long: `Start the realtime sync client.

Example:
  console run
  console run --ticket 42 --metrics-addr :9102`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsole(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.Ticket, "ticket", "", "ticket conversation to open")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	cmd.Flags().DurationVar(&opts.PrintInterval, "print-interval", 10*time.Second, "how often to log the market watch")
	return cmd
}

func newLoginCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "login [session-id]",
		Short: "Write a new session marker, invalidating other running consoles",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := uuid.NewString()
			if len(args) == 1 {
				id = args[0]
			}
			return withStore(cmd.Context(), func(ctx context.Context, store *session.RedisStore) error {
				if err := store.Set(ctx, id); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			})
		},
	}
}

func newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the session marker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, store *session.RedisStore) error {
				return store.Clear(ctx)
			})
		},
	}
}

func withStore(ctx context.Context, fn func(context.Context, *session.RedisStore) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer rdb.Close()
	return fn(ctx, session.NewRedisStore(rdb, cfg.Console.SessionKey, zap.NewNop()))
}

func runConsole(parent context.Context, opts *runOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer rdb.Close()
	store := session.NewRedisStore(rdb, cfg.Console.SessionKey, logger)

	sink := effects.NewLogSink(logger, func(reason string) {
		cancel(fmt.Errorf("forced logout: %s", reason))
	})
	api := restapi.New(cfg.Console.APIBaseURL, cfg.Console.Token, logger)

	// One push connection for the whole process, shared by every reconciler
	conn := eventconn.New(cfg.Console.GatewayURL, cfg.Console.Token, logger)
	reg := channel.NewRegistry(conn, logger)
	defer reg.Close()
	go func() {
		if err := conn.Run(ctx, reg); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Event connection stopped", zap.Error(err))
		}
	}()

	guard := session.NewGuard(store, cfg.Console.SessionKey, sink, logger)
	if err := guard.Attach(ctx, store); err != nil {
		return err
	}

	watch := quotes.NewReconciler(api, reg, sink, logger)
	defer watch.Close()
	if err := watch.Load(ctx, cfg.Console.Watchlist); err != nil {
		logger.Warn("Starting with an empty market watch", zap.Error(err))
	}

	if opts.Ticket != "" {
		conversation := chat.NewReconciler(api, reg, sink, logger)
		defer conversation.Close()
		if err := conversation.Open(ctx, opts.Ticket); err != nil {
			logger.Warn("Ticket conversation not loaded", zap.String("ticket_id", opts.Ticket), zap.Error(err))
		}
	}

	poller := notify.New(api, sink, logger, cfg.Console.PollInterval, func() bool {
		return guard.Baseline() != ""
	})
	poller.Start(ctx)
	defer poller.Stop()

	if opts.MetricsAddr != "" {
		srv := &http.Server{Addr: opts.MetricsAddr, Handler: promhttp.Handler()}
		go func() {
			logger.Info("Metrics server started", zap.String("addr", opts.MetricsAddr))
			if err := srv.ListenAndServe(); err != http.ErrServerClosed {
				logger.Error("Metrics server error", zap.Error(err))
			}
		}()
		defer srv.Shutdown(context.Background())
	}

	logger.Info("Console started",
		zap.String("gateway", cfg.Console.GatewayURL),
		zap.Strings("watchlist", cfg.Console.Watchlist))

	if opts.PrintInterval <= 0 {
		opts.PrintInterval = 10 * time.Second
	}
	ticker := time.NewTicker(opts.PrintInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
				logger.Warn("Console stopped", zap.Error(cause))
				return cause
			}
			logger.Info("Shutdown Complete")
			return nil
		case <-ticker.C:
			logWatch(logger, watch.Quotes(), poller.Unread())
		}
	}
}

func logWatch(logger *zap.Logger, qs []quotes.Quote, unread int) {
	for _, q := range qs {
		logger.Info("Quote",
			zap.String("symbol", q.Symbol),
			zap.String("price", q.FormatPrice()),
			zap.String("change", q.FormatChange()),
			zap.String("direction", string(q.Direction())))
	}
	logger.Info("Notifications", zap.Int("unread", unread))
}
