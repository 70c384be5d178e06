package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gitlab.com/dirk.krummacker/addressbooks-service/internal/config"
	"gitlab.com/dirk.krummacker/addressbooks-service/internal/logging"
	"gitlab.com/dirk.krummacker/addressbooks-service/internal/metrics"
	"gitlab.com/dirk.krummacker/addressbooks-service/internal/service"
)

var (
	configFile string
	port       int
)

// Usage example on the command line:
// > PORT=8080 DBUSER=dirk DBPWD=bullo92 GIN_MODE=release GIN_LOGGING=OFF go run main.go
// > DBDRIVER=sqlite DBFILE=addressbooks.db DEFAULT_USER=dirk go run main.go --port 9090
var rootCmd = &cobra.Command{
	Use:   "service",
	Short: "Serves the address books REST API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().StringVar(&configFile, "config", "", "configuration file (default addressbooks.yaml if present)")
	rootCmd.Flags().IntVar(&port, "port", 0, "port to listen on, overrides the PORT env variable")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if port != 0 {
		cfg.Port = port
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	registry, err := service.CreateRegistry(ctx, cfg, logger)
	if err != nil {
		logger.Error("could not create backends", zap.Error(err))
		return err
	}
	defer func() {
		if err := registry.Close(); err != nil {
			logger.Warn("could not close backends", zap.Error(err))
		}
	}()

	m := metrics.New()
	controller, err := service.CreateController(cfg, registry, logger, m)
	if err != nil {
		return err
	}
	router := service.SetupHttpRouter(controller, service.Options{
		RequestLogging: cfg.GinLogging,
		DefaultUser:    cfg.DefaultUser,
		Metrics:        m.Handler(),
	})

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("address", server.Addr))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", zap.Error(err))
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
