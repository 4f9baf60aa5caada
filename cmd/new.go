package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/conneroisu/bang/internal/config"
	"github.com/conneroisu/bang/internal/scaffolding"
)

var (
	newTemplate string
	newForce    bool
	newList     bool
)

var newCmd = &cobra.Command{
	Use:   "new NAME",
	Short: "Scaffold a component folder",
	Long: `Create a component folder under the configured components path holding
markup, style and, for some templates, a behavior script.

Examples:
  bang new my-card                   # Basic component
  bang new my-card --template card   # Card with a slot
  bang new my-counter -t counter     # Component with a behavior script
  bang new --list                    # Show available templates`,
	Args: func(cmd *cobra.Command, args []string) error {
		if newList {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(1)(cmd, args)
	},
	RunE: runNew,
}

func init() {
	rootCmd.AddCommand(newCmd)

	newCmd.Flags().StringVarP(&newTemplate, "template", "t", "basic", "Template to use")
	newCmd.Flags().BoolVarP(&newForce, "force", "f", false, "Overwrite existing files")
	newCmd.Flags().BoolVar(&newList, "list", false, "List available templates")
}

func runNew(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	generator := scaffolding.NewComponentGenerator(cfg)

	if newList {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		for _, tmpl := range generator.ListTemplates() {
			fmt.Fprintf(w, "%s\t%s\n", tmpl.Name, tmpl.Description)
		}
		return w.Flush()
	}

	files, err := generator.Generate(scaffolding.GenerateOptions{
		Name:     args[0],
		Template: newTemplate,
		Force:    newForce,
	})
	for _, f := range files {
		fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", f)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Use it in a page with <!--%s-->\n", args[0])
	return nil
}
