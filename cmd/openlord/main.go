// Command openlord runs the chat server and a terminal chat client.
//
// Usage:
//
//	export OPENAI_API_KEY="..."
//	openlord serve
//	openlord chat --server http://localhost:8080
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/zaidmukaddam/openlord.ai/pkg/config"
	"github.com/zaidmukaddam/openlord.ai/pkg/httplog"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:          "openlord",
		Short:        "Tool-augmented chat server and terminal client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "openlord.yaml", "path to the YAML config file")

	root.AddCommand(serveCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// setupLogging installs the default logger writing to w.
func setupLogging(w io.Writer, level string) {
	lvl := httplog.ParseLevel(level)
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
	slog.Info("Logging initialized", "level", lvl)
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config",
		Short: "Write the default configuration to --config",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(configPath); err == nil {
				return fmt.Errorf("%s already exists", configPath)
			}
			if err := config.Save(configPath, config.Defaults()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", configPath)
			return nil
		},
	}
}
