package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"dupeguard/internal/config"
	"dupeguard/internal/datadir"
	"dupeguard/internal/version"
)

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "dupeguard",
	Short: "DupeGuard - repost detector for Telegram chats",
	Long: `DupeGuard watches Telegram chats for images and replies when an image
is a near-duplicate of one already posted in the same chat.

Without a subcommand the bot is started.`,
	Version:       version.Full(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		buildInfo := version.GetBuildInfo()
		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			return printJSON(cmd.OutOrStdout(), buildInfo)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "DupeGuard %s\n", version.Full())
		if buildInfo.GitCommit != "unknown" {
			fmt.Fprintf(out, "Git commit: %s\n", buildInfo.GitCommit)
		}
		if buildInfo.BuildDate != "unknown" {
			fmt.Fprintf(out, "Build date: %s\n", buildInfo.BuildDate)
		}
		fmt.Fprintf(out, "Go version: %s\n", buildInfo.GoVersion)
		fmt.Fprintf(out, "Platform: %s\n", buildInfo.Platform)
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default: <data dir>/config/config.json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	versionCmd.Flags().Bool("json", false, "Output in JSON format")
	rootCmd.AddCommand(versionCmd)

	// If no command is specified, default to serve
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	}
}

func initConfig() {
	// Load .env files early so every command sees the same environment
	if dd, err := datadir.New(""); err == nil {
		_ = datadir.LoadEnv(dd.Root())
	}

	if verbose {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
		log.Println("Verbose logging enabled")
	}
}

// environment is the resolved data directory and configuration.
type environment struct {
	dataDir    *datadir.DataDir
	configPath string
	config     *config.Config
}

// loadEnvironment resolves the data directory, loads the config and
// re-resolves the data directory if the config overrides it.
func loadEnvironment() (*environment, error) {
	dd, err := datadir.New("")
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory: %w", err)
	}
	if err := dd.EnsureDirs(); err != nil {
		return nil, err
	}

	path := cfgFile
	if path == "" {
		path = dd.ConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.DataDir != "" {
		if dd, err = datadir.New(cfg.DataDir); err != nil {
			return nil, fmt.Errorf("failed to resolve data directory: %w", err)
		}
		if err := dd.EnsureDirs(); err != nil {
			return nil, err
		}
	}

	return &environment{dataDir: dd, configPath: path, config: cfg}, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
