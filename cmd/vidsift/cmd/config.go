package cmd

import (
	"fmt"
	"io"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/vidsift/internal/config"
	"github.com/jmylchreest/vidsift/pkg/duration"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing vidsift configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

Redirect the output to a file to start a configuration template:

  vidsift config dump > .vidsift.yaml

Environment variables use the VIDSIFT_ prefix and underscores for nesting.
Example: orchestrator.task_timeout -> VIDSIFT_ORCHESTRATOR_TASK_TIMEOUT`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load("")
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return writeConfigDump(cmd.OutOrStdout(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// toMap converts a struct to a map keyed by mapstructure tags, with
// durations in their short human form.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Pointer {
		val = val.Elem()
	}
	typ := val.Type()

	for i := range val.NumField() {
		field := val.Field(i)
		fieldType := typ.Field(i)
		if !fieldType.IsExported() {
			continue
		}

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Tag.Get("yaml")
		}
		if key == "" || key == "-" {
			key = fieldType.Name
		}

		switch fv := field.Interface().(type) {
		case time.Duration:
			result[key] = duration.Format(fv)
		case config.Duration:
			result[key] = duration.Format(fv.Duration())
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(fv)
			} else {
				result[key] = fv
			}
		}
	}
	return result
}

func writeConfigDump(w io.Writer, cfg *config.Config) error {
	data, err := yaml.Marshal(toMap(cfg))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	header := `# vidsift configuration file
# ===========================
#
# All values shown below are defaults.
# Duration format: 45m, 12m, 1h30m, "5 minutes" or PT45M
#
# Environment variable overrides:
#   VIDSIFT_SERVER_HOST, VIDSIFT_SERVER_PORT
#   VIDSIFT_DATABASE_DRIVER, VIDSIFT_DATABASE_DSN
#   VIDSIFT_WORKER_DRIVER, VIDSIFT_WORKER_DRIVER_URL
#   VIDSIFT_REPORTS_BACKEND_URL, VIDSIFT_CREDENTIALS_TOKEN_FILE
#   VIDSIFT_LOGGING_LEVEL, VIDSIFT_LOGGING_FORMAT
#

`
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
