package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/npezzotti/go-attendance/internal/api"
	"github.com/npezzotti/go-attendance/internal/catalog"
	"github.com/npezzotti/go-attendance/internal/config"
	"github.com/npezzotti/go-attendance/internal/engine"
	"github.com/npezzotti/go-attendance/internal/identity"
	"github.com/npezzotti/go-attendance/internal/remote"
	"github.com/npezzotti/go-attendance/internal/server"
	"github.com/npezzotti/go-attendance/internal/stats"
	"github.com/npezzotti/go-attendance/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("addr", "localhost:8000", "server address")
	serveCmd.Flags().String("store", config.DriverMemory, "store driver (memory, file, redis, postgres)")
	serveCmd.Flags().String("remote", "", "base URL of the remote authority")
	serveCmd.Flags().StringSlice("allowed-origins", []string{"http://localhost:3000"}, "allowed origins for CORS")
	_ = v.BindPFlag("addr", serveCmd.Flags().Lookup("addr"))
	_ = v.BindPFlag("store.driver", serveCmd.Flags().Lookup("store"))
	_ = v.BindPFlag("remote.url", serveCmd.Flags().Lookup("remote"))
	_ = v.BindPFlag("allowed_origins", serveCmd.Flags().Lookup("allowed-origins"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	backend, err := openBackend(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.WithError(err).Error("store close")
		}
	}()

	docs, err := prepareDocuments(ctx, cfg, backend, logger)
	if err != nil {
		return err
	}

	dir := identity.NewDirectory(docs)
	if cfg.SeedDemo && identity.SeedDemo(ctx, dir) {
		logger.Info("seeded demo roster into empty directory")
	}

	allow := identity.NewAllowList(cfg.PrivilegedIDs)
	cat := catalog.Default()

	mux := http.NewServeMux()
	statsUpdater := stats.NewStatsUpdater(mux, logger)

	hub := server.NewHub(logger, statsUpdater, func(n engine.Notifier, log logrus.FieldLogger) (server.Session, error) {
		e, err := engine.New(docs, cat, dir, allow, n, log, engine.WithTickInterval(cfg.TickInterval))
		if err != nil {
			return nil, err
		}
		return e, nil
	})

	srv := api.NewAttendanceApp(mux, logger, hub, docs, dir, cat, allow, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go hub.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.WithField("signal", sig.String()).Info("received signal")
	case err := <-errCh:
		logger.WithError(err).Error("server")
	}

	shutDownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		return err
	}

	logger.Info("closing sessions...")
	if err := hub.Shutdown(shutDownCtx); err != nil {
		return err
	}

	logger.Info("shutdown complete")
	return nil
}

// prepareDocuments wraps backend and, when a remote authority is
// configured, merges its documents in before mirroring every later save to
// it.
func prepareDocuments(ctx context.Context, cfg *config.Config, backend store.Backend, logger logrus.FieldLogger) (*store.Documents, error) {
	docs := store.NewDocuments(backend, logger)
	if cfg.Remote.URL == "" {
		return docs, nil
	}

	client, err := remote.NewClient(cfg.Remote.URL,
		remote.WithReadTimeout(cfg.Remote.ReadTimeout),
		remote.WithWriteTimeout(cfg.Remote.WriteTimeout),
	)
	if err != nil {
		return nil, err
	}

	remote.Merge(ctx, docs, client, logger)
	logger.WithField("remote", cfg.Remote.URL).Info("merged remote documents")

	return docs.WithMirror(client), nil
}
