package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"cookclip/internal/config"
)

// Set at build time with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

type cli struct {
	configFile string
	envFile    string
	logLevel   string
}

func (c *cli) load() (config.Config, error) {
	cfg, err := config.Load(config.Options{File: c.configFile, EnvFile: c.envFile})
	if err != nil {
		return config.Config{}, err
	}
	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
	}
	return cfg, nil
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "cookclip",
		Short: "🍳 Turn cooking videos into recipes",
		Long: `cookclip downloads short cooking videos from social platforms, reads
what is said and shown in them, and writes the recipe back to the chat.

Examples:
  cookclip serve                                  # run the chat bot and admin server
  cookclip extract https://www.tiktok.com/@x/video/1
  cookclip probe https://youtube.com/shorts/abc   # metadata only, nothing downloaded`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&c.configFile, "config", "c", "", "config file (default: ./cookclip.yaml or ~/.cookclip/cookclip.yaml)")
	root.PersistentFlags().StringVar(&c.envFile, "env-file", "", "dotenv file (default: .env)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "override log.level")

	root.AddCommand(
		newServeCmd(c),
		newExtractCmd(c),
		newProbeCmd(c),
		newConfigCmd(c),
		newVersionCmd(),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, red("✖ "+err.Error()))
		stop()
		os.Exit(1)
	}
}
