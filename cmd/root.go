package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/conneroisu/bang/internal/logging"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "bang",
	Short: "Expand HTML comment markers into shadow DOM components",
	Long: `bang turns marker comments such as <!--my-card title="Hi"--> into
custom elements backed by a component folder holding markup, style and an
optional behavior script.

Pages are expanded with declarative shadow DOM, so the output works without
any client-side runtime.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .bang.yml)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (text, json)")

	bindFlags(rootCmd.PersistentFlags(), map[string]string{
		"log.level":  "log-level",
		"log.format": "log-format",
	})
}

// bindFlags binds each viper key to the named flag of flags.
func bindFlags(flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bang: cannot bind flag %s: %v", name, err))
		}
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfig := os.Getenv("BANG_CONFIG_FILE"); envConfig != "" {
		viper.SetConfigFile(envConfig)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".bang")
	}

	viper.SetEnvPrefix("BANG")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// newLogger builds the command logger from --log-level and --log-format.
func newLogger() (logging.Logger, error) {
	level, err := logging.ParseLevel(viper.GetString("log.level"))
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: viper.GetString("log.format"),
		Output: os.Stderr,
	}).WithComponent("cli"), nil
}
