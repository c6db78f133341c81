// Package cmd implements the CLI commands for vidsift.
package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jmylchreest/vidsift/internal/config"
	"github.com/jmylchreest/vidsift/internal/observability"
	"github.com/jmylchreest/vidsift/internal/service/logs"
	"github.com/jmylchreest/vidsift/internal/version"
)

// cfgFile holds the config file path from CLI flag.
var cfgFile string

// envFile is loaded into the environment before config is read.
var envFile string

// logBuffer keeps recent log records for the logs API.
var logBuffer = logs.New(logs.DefaultCapacity)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "vidsift",
	Short:   "Segmented video analysis automation",
	Version: version.Short(),
	Long: `vidsift drives an external analysis tool over a queue of videos.

Each video is measured, split into segments short enough for the tool to
handle, and every segment is analysed in a fresh worker context. Reports are
delivered to the backend API, written as markdown files and stored locally.
Runs can be paused, resumed and stopped, and survive a process restart.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	// Set here to avoid an initialization cycle through rootCmd.PersistentFlags.
	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initLogging()
	}

	// Log flags are not bound to viper; they only override config and env
	// when set explicitly.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.vidsift.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with VIDSIFT_* variables, ignored if missing")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	loadEnvFile()
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/vidsift")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".vidsift")
	}

	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// loadEnvFile applies envFile without overriding variables already set.
// A missing default file is ignored, a missing explicit one is fatal.
func loadEnvFile() {
	if envFile == "" {
		return
	}
	err := godotenv.Load(envFile)
	switch {
	case err == nil:
		fmt.Fprintln(os.Stderr, "Using env file:", envFile)
	case errors.Is(err, fs.ErrNotExist) && !rootCmd.PersistentFlags().Changed("env-file"):
	default:
		cobra.CheckErr(fmt.Errorf("loading env file: %w", err))
	}
}

// loadConfig decodes and validates the merged viper state.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Unmarshal(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// initLogging configures the default slog logger.
//
// Priority order (highest to lowest):
//  1. CLI flags (--log-level, --log-format), only if explicitly provided
//  2. Environment variables (VIDSIFT_LOGGING_LEVEL, VIDSIFT_LOGGING_FORMAT)
//  3. Config file values
//  4. Built-in defaults (info, json)
func initLogging() error {
	level := viper.GetString("logging.level")
	format := viper.GetString("logging.format")

	if rootCmd.PersistentFlags().Changed("log-level") {
		level, _ = rootCmd.PersistentFlags().GetString("log-level")
	}
	if rootCmd.PersistentFlags().Changed("log-format") {
		format, _ = rootCmd.PersistentFlags().GetString("log-format")
	}

	if level == "" {
		level = "info"
	}
	if format == "" {
		format = "json"
	}

	logCfg := config.LoggingConfig{
		Level:        strings.ToLower(level),
		Format:       strings.ToLower(format),
		AddSource:    viper.GetBool("logging.add_source"),
		TimeFormat:   viper.GetString("logging.time_format"),
		RedactFields: viper.GetStringSlice("logging.redact_fields"),
	}
	if logCfg.Level == "warning" {
		logCfg.Level = "warn"
	}

	// Keep the resolved values so loadConfig validates what is actually used.
	viper.Set("logging.level", logCfg.Level)
	viper.Set("logging.format", logCfg.Format)

	logBuffer.WithRedactor(observability.NewRedactor(logCfg.RedactFields))
	base := observability.NewLoggerWithWriter(logCfg, os.Stderr)
	logger := observability.WithApp(slog.New(logBuffer.Handler(base.Handler())), version.ApplicationName)
	observability.SetDefault(logger)

	return nil
}

// mustBindPFlag binds a viper key to a cobra flag and panics if binding fails.
func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %q to key %q: %v", flag.Name, key, err))
	}
}
