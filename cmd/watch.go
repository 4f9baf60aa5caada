package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/bang/internal/config"
	"github.com/conneroisu/bang/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch PAGE",
	Short: "Re-render a page whenever it or its components change",
	Long: `Render PAGE to the output file, then watch the page's directory and render
again after every change to a page, markup, style or script file.

Examples:
  bang watch index.html -o dist/index.html
  bang watch site/index.html -o out.html --state state.yml`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

var (
	watchOutput    string
	watchStateFile string
	watchDebounce  time.Duration
	watchVerbose   bool
)

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVarP(&watchOutput, "output", "o", "", "Output file")
	watchCmd.Flags().StringVar(&watchStateFile, "state", "", "YAML file of state objects keyed by client token")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 300*time.Millisecond, "Delay before re-rendering")
	watchCmd.Flags().BoolVarP(&watchVerbose, "verbose", "v", false, "Verbose output")
	watchCmd.MarkFlagRequired("output")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, err := newLogger()
	if err != nil {
		return err
	}

	page := args[0]
	fetcher, err := pageFetcher(page, "")
	if err != nil {
		return err
	}

	rebuild := func(ctx context.Context) error {
		// the state file may change between renders
		state, err := loadStateFile(watchStateFile)
		if err != nil {
			return err
		}
		renderCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		out, err := renderFile(renderCtx, renderJob{
			config:  cfg,
			logger:  logger,
			fetcher: fetcher,
			page:    page,
			state:   state,
		})
		if err != nil {
			return err
		}
		return writeOutput(watchOutput, out)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rebuild(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Initial render failed: %v\n", err)
	} else {
		fmt.Printf("Rendered %s to %s\n", page, watchOutput)
	}

	fileWatcher, err := watcher.NewFileWatcher(watchDebounce, watcher.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fileWatcher.Stop()

	output := absPath(watchOutput)
	fileWatcher.AddFilter(watcher.ComponentFileFilter)
	fileWatcher.AddFilter(watcher.NoHiddenFilter)
	fileWatcher.AddFilter(watcher.NoGitFilter)
	fileWatcher.AddFilter(func(path string) bool {
		return absPath(path) != output
	})

	fileWatcher.AddHandler(func(ctx context.Context, events []watcher.ChangeEvent) error {
		if watchVerbose {
			for _, event := range events {
				fmt.Printf("   %s: %s\n", event.Type, event.Path)
			}
		}
		if err := rebuild(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Render failed: %v\n", err)
			return nil
		}
		fmt.Printf("%d file(s) changed, rendered %s\n", len(events), watchOutput)
		return nil
	})

	dir := filepath.Dir(page)
	if err := fileWatcher.AddRecursive(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	if watchStateFile != "" {
		if err := fileWatcher.AddPath(filepath.Dir(watchStateFile)); err != nil {
			return fmt.Errorf("failed to watch %s: %w", watchStateFile, err)
		}
	}
	if err := fileWatcher.Start(ctx); err != nil {
		return err
	}

	fmt.Printf("Watching %s (press Ctrl+C to stop)\n", dir)
	<-ctx.Done()
	fmt.Println("Stopping file watcher...")
	return nil
}

func absPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}
