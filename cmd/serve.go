package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	redisadapter "github.com/conneroisu/bang/internal/adapters/redis"
	"github.com/conneroisu/bang/internal/config"
	"github.com/conneroisu/bang/internal/metrics"
	"github.com/conneroisu/bang/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a directory of pages with live reload",
	Long: `Serve every page under the pages directory with its component markers
expanded. Browsers reload when a page or component file changes.

Examples:
  bang serve                          # Serve the current directory
  bang serve --pages site --port 3000 # Serve ./site on port 3000
  bang serve --state state.yml        # Seed every request's state
  bang serve --redis localhost:6379   # Publish state snapshots to Redis`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8080, "Port to serve on")
	serveCmd.Flags().String("host", "localhost", "Host to bind to")
	serveCmd.Flags().String("pages", ".", "Directory holding pages and component folders")
	serveCmd.Flags().String("redis", "", "Redis address for state snapshots")
	serveCmd.Flags().String("state", "", "YAML file of state objects keyed by client token")
	serveCmd.Flags().Bool("metrics", false, "Expose Prometheus metrics at /metrics")

	bindFlags(serveCmd.Flags(), map[string]string{
		"server.port":  "port",
		"server.host":  "host",
		"server.pages": "pages",
		"redis.addr":   "redis",
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, err := newLogger()
	if err != nil {
		return err
	}

	stateFile, _ := cmd.Flags().GetString("state")
	state, err := loadStateFile(stateFile)
	if err != nil {
		return err
	}

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithState(state),
	}
	if enabled, _ := cmd.Flags().GetBool("metrics"); enabled {
		opts = append(opts, server.WithMetrics(metrics.NewCollector()))
	}
	if cfg.Redis.Addr != "" {
		sink := redisadapter.New(cfg.Redis.Addr, redisadapter.WithPrefix(cfg.Redis.Prefix))
		defer sink.Close()
		opts = append(opts, server.WithSnapshotSink(sink))
	}

	srv := server.New(cfg, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Starting bang server at http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
