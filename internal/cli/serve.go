package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	gridci "github.com/petrijr/gridci"
	"github.com/petrijr/gridci/internal/hook"
	"github.com/petrijr/gridci/internal/report"
	"github.com/petrijr/gridci/internal/workflowfile"
	"github.com/petrijr/gridci/pkg/api"
)

func serveCmd() *cobra.Command {
	var addr string
	var workflowDir string

	c := &cobra.Command{
		Use:   "serve",
		Short: "Serve a GitHub webhook endpoint that triggers workflows from a directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), addr, workflowDir)
		},
	}

	c.Flags().StringVar(&addr, "addr", ":8080", "listen address for the webhook server")
	c.Flags().StringVar(&workflowDir, "workflows", ".gridci", "directory of workflow YAML files")
	c.Flags().String("webhook-secret", "", "shared GitHub webhook secret (or GRIDCI_WEBHOOK_SECRET)")
	c.Flags().String("github-token", "", "token for posting commit statuses (or GRIDCI_GITHUB_TOKEN)")
	return c
}

func serve(ctx context.Context, addr, workflowDir string) error {
	logger := slog.Default()

	files, err := workflowfile.LoadDir(workflowDir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no workflow files found in %s", workflowDir)
	}

	obs := []api.Observer{gridci.NewLoggingObserver(logger)}
	if token := viper.GetString("github-token"); token != "" {
		reporter := report.NewStatusReporter(report.NewGitHubClient(token))
		obs = append(obs, report.NewStatusObserver(reporter, logger))
	}

	eng, cleanup, err := buildEngineWithObserver(gridci.NewCompositeObserver(obs...))
	if err != nil {
		return err
	}
	defer cleanup()

	for _, file := range files {
		def, err := file.Workflow()
		if err != nil {
			return err
		}
		if err := eng.RegisterWorkflow(def); err != nil {
			return err
		}
		logger.Info("workflow registered", slog.String("workflow", def.Name))
	}

	recovered, err := eng.RecoverStuckRuns(ctx)
	if err != nil {
		return fmt.Errorf("recover stuck runs: %w", err)
	}
	if recovered > 0 {
		logger.Warn("marked interrupted runs as failed", slog.Int("count", recovered))
	}

	mux := http.NewServeMux()
	mux.Handle("/hooks/github", hook.NewHandler(eng, viper.GetString("webhook-secret"), logger))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("webhook server listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func buildEngineWithObserver(obs api.Observer) (gridci.Engine, func(), error) {
	db, err := openDB()
	if err != nil {
		return nil, nil, err
	}
	if db == nil {
		return gridci.NewInMemoryEngineWithObserver(obs), func() {}, nil
	}
	eng, err := gridci.NewSQLiteEngineWithObserver(db, obs)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return eng, func() { db.Close() }, nil
}
