package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/net/html"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/bang/internal/config"
	"github.com/conneroisu/bang/internal/engine"
	"github.com/conneroisu/bang/internal/logging"
	"github.com/conneroisu/bang/internal/source"
)

var (
	renderOutput    string
	renderStateFile string
	renderUse       []string
	renderBaseURL   string
	renderTimeout   time.Duration
)

var renderCmd = &cobra.Command{
	Use:   "render PAGE",
	Short: "Expand the component markers of a page",
	Long: `Expand every component marker in PAGE and write the result as HTML with
declarative shadow DOM.

Component folders are read relative to the page's directory unless
--components-url points at a server. Without --use every double-barrelled
tag found in the page is registered.

Examples:
  bang render index.html                       # Write to stdout
  bang render index.html -o dist/index.html    # Write to a file
  bang render index.html --state state.yml     # Seed state from YAML
  bang render index.html --use my-card         # Register only my-card`,
	Args: cobra.ExactArgs(1),
	RunE: runRender,
}

func init() {
	rootCmd.AddCommand(renderCmd)

	renderCmd.Flags().StringVarP(&renderOutput, "output", "o", "", "Output file (default stdout)")
	renderCmd.Flags().StringVar(&renderStateFile, "state", "", "YAML file of state objects keyed by client token")
	renderCmd.Flags().StringSliceVar(&renderUse, "use", nil, "Components to register (default: all found)")
	renderCmd.Flags().StringVar(&renderBaseURL, "components-url", "", "Fetch component files from this base URL")
	renderCmd.Flags().DurationVar(&renderTimeout, "timeout", 30*time.Second, "Maximum time to wait for components to settle")

	renderCmd.Flags().String("components-path", "./components", "Directory holding component folders")
	bindFlags(renderCmd.Flags(), map[string]string{"componentsPath": "components-path"})
}

func runRender(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, err := newLogger()
	if err != nil {
		return err
	}

	state, err := loadStateFile(renderStateFile)
	if err != nil {
		return err
	}

	page := args[0]
	fetcher, err := pageFetcher(page, renderBaseURL)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), renderTimeout)
	defer cancel()

	out, err := renderFile(ctx, renderJob{
		config:  cfg,
		logger:  logger,
		fetcher: fetcher,
		page:    page,
		state:   state,
		use:     renderUse,
	})
	if err != nil {
		return err
	}
	return writeOutput(renderOutput, out)
}

type renderJob struct {
	config  *config.Config
	logger  logging.Logger
	fetcher source.Fetcher
	page    string
	state   map[string]any
	use     []string
}

// renderFile expands one page with a fresh engine.
func renderFile(ctx context.Context, job renderJob) ([]byte, error) {
	f, err := os.Open(job.page)
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	defer f.Close()

	doc, err := html.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", job.page, err)
	}

	e := engine.New(
		engine.WithConfig(job.config),
		engine.WithFetcher(job.fetcher),
		engine.WithLogger(job.logger),
	)
	for key, value := range job.state {
		e.SetState(ctx, key, value, false)
	}
	if err := e.Mount(ctx, doc); err != nil {
		return nil, err
	}

	if len(job.use) == 0 {
		names, err := e.UseDiscovered(ctx)
		if err != nil {
			return nil, err
		}
		job.logger.Info(ctx, "registered components", "page", job.page, "components", names)
	} else {
		for _, name := range job.use {
			if err := e.Use(ctx, name); err != nil {
				return nil, err
			}
		}
	}

	var buf bytes.Buffer
	if err := e.Render(ctx, &buf); err != nil {
		return nil, err
	}
	for _, failure := range e.Failures() {
		job.logger.Warn(ctx, failure.Err, "component failed to render", "component", failure.Component)
	}
	return buf.Bytes(), nil
}

// pageFetcher serves component files from baseURL, or from the page's
// directory when baseURL is empty.
func pageFetcher(page, baseURL string) (source.Fetcher, error) {
	if baseURL != "" {
		return source.NewHTTPFetcher(baseURL)
	}
	return source.NewFSFetcher(os.DirFS(filepath.Dir(page))), nil
}

// loadStateFile reads a YAML document whose top-level keys are client
// tokens. An empty path yields no state.
func loadStateFile(path string) (map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	var state map[string]any
	if err := yaml.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse state file %s: %w", path, err)
	}
	return state, nil
}

func writeOutput(path string, data []byte) error {
	if path == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	// write then rename so watchers never see a partial file
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return os.Rename(tmp, path)
}
