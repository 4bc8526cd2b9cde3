package cmd

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aerobless/thereabout/internal/api"
	"github.com/aerobless/thereabout/internal/importer"
	"github.com/aerobless/thereabout/internal/progress"
	"github.com/aerobless/thereabout/internal/scheduler"
	"github.com/aerobless/thereabout/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the thereabout HTTP API server",
	Long: `Run thereabout as a long-running server.

The server runs in the foreground and provides:
  - HTTP API on the configured port (default: 8080)
  - Asynchronous chat export imports with progress reporting
  - Scheduled cleanup of stale upload scratch directories

Use Ctrl+C to stop the server gracefully.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer st.Close()

	if err := st.InitSchema(); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}

	tracker := progress.NewTracker()
	imp := importer.New(st, tracker, logger)
	imp.SetBatchSize(cfg.Import.BatchSize)

	server := api.NewServer(cfg, st, imp, tracker, logger)

	sweeper, err := scheduler.NewSweeper(
		cfg.ScratchRoot(),
		cfg.Maintenance.SweepSchedule,
		time.Duration(cfg.Maintenance.SweepMaxAgeHours)*time.Hour,
	)
	if err != nil {
		return fmt.Errorf("create scratch sweeper: %w", err)
	}
	sweeper.WithLogger(logger)
	sweeper.Start()

	fmt.Printf("thereabout server started\n")
	fmt.Printf("  API server: http://%s\n", net.JoinHostPort("localhost", strconv.Itoa(cfg.Server.Port)))
	fmt.Printf("  Database:   %s\n", cfg.DatabasePath())
	fmt.Printf("  Data directory: %s\n", cfg.Data.DataDir)
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop.")

	g, gctx := errgroup.WithContext(cmd.Context())
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()

	fmt.Println("\nShutting down...")
	sweepCtx := sweeper.Stop()
	select {
	case <-sweepCtx.Done():
		fmt.Println("Shutdown complete.")
	case <-time.After(30 * time.Second):
		fmt.Println("Shutdown timed out after 30 seconds.")
	}

	return err
}
