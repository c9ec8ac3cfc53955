package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/angelfsepulveda/customchatfree/internal/api"
	"github.com/angelfsepulveda/customchatfree/internal/service/ai"
	"github.com/angelfsepulveda/customchatfree/internal/worker"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	aiService, err := ai.NewAiService(a.cfg.AI, a.log.With("component", "ai"))
	if err != nil {
		return fmt.Errorf("init ai service: %w", err)
	}
	dispatcher := worker.NewDispatcher(worker.DispatcherConfig{
		MinWorkers:        a.cfg.Worker.MinWorkers,
		MaxWorkers:        a.cfg.Worker.MaxWorkers,
		QueueSize:         a.cfg.Worker.QueueSize,
		WorkerIdleTimeout: a.cfg.Worker.IdleTimeout,
	}, aiService, a.log.With("component", "worker"))
	defer dispatcher.Stop()

	handler := api.NewHandler(a.assistant, dispatcher, aiService, api.Options{
		DefaultUsername: a.cfg.User.DefaultUsername,
		RequestTimeout:  a.cfg.Worker.RequestTimeout,
	}, a.log.With("component", "api"))

	if a.cfg.Server.Mode != "" {
		gin.SetMode(a.cfg.Server.Mode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), api.RequestLogger(a.log.With("component", "http")))
	handler.RegisterRoutes(router)

	server := &http.Server{
		Addr:              a.cfg.Server.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("server listening", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}
