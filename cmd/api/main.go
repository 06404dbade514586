// Command api runs the escrow workflow service: the HTTP edge, the outbox
// dispatcher, and the overdue-escrow sweeper.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"escrowflow/auth"
	"escrowflow/config"
	"escrowflow/db"
	"escrowflow/escrow"
	"escrowflow/gateway"
	"escrowflow/logging"
	"escrowflow/notify"
	"escrowflow/outbox"
	"escrowflow/token"
)

// logSink is the fallback transport: it logs outbound messages instead of
// sending them. The real chat transport registers over this in deployments.
type logSink struct{ log *slog.Logger }

func (s logSink) Send(_ context.Context, chatRef, text string) error {
	s.log.Info("outbound message", "chat_ref", chatRef, "text", text)
	return nil
}

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.New("info", "text").Error("load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting escrowflow", "listen_addr", cfg.ListenAddr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("bootstrap database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	repo := escrow.NewRepository()
	tokens := token.NewService(cfg.TokenTTL)
	controller := escrow.NewController(pool, repo, tokens).
		WithLogger(logger).
		WithFeePercent(cfg.FeePercent)

	operators := make([]auth.Credential, len(cfg.Operators))
	for i, op := range cfg.Operators {
		operators[i] = auth.Credential{Name: op.Name, PasswordHash: op.PasswordHash}
	}
	authSvc := auth.NewService(operators, cfg.JWTSecret)

	notifier := notify.New(logSink{log: logger}, cfg.Brand, cfg.UPIID, logger)
	dispatcher := outbox.NewDispatcher(pool, notifier, logger).WithInterval(cfg.DispatchInterval)
	sweeper := escrow.NewSweeper(controller, cfg.SweepInterval, logger)

	handler := gateway.NewHandler(controller, gateway.NewPoolReader(pool, repo), authSvc)
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           gateway.NewRouter(handler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		err := dispatcher.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		err := sweeper.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Error("service exited", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
