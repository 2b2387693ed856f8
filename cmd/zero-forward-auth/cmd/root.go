package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/gematik/zero-lab/go/forwardauth/pkg/forwardauth"
	"github.com/joho/godotenv"
	"github.com/phsym/console-slog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var verbose = false
var workdir = ""

var (
	rootCmd = &cobra.Command{
		Use:   "zero-forward-auth",
		Short: "Forward authentication for reverse proxies",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if workdir != "" {
				err := os.Chdir(workdir)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Failed to change working directory: %v\n", err)
					os.Exit(1)
				}
			}
			godotenv.Load()

			logLevel := slog.LevelInfo
			if verbose {
				logLevel = slog.LevelDebug
			}
			setupLogging(logLevel, os.Getenv("PRETTY_LOGS") != "false")
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}
)

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	viper.AutomaticEnv()
	viper.SetEnvPrefix("FORWARDAUTH")
	persistentFlags := rootCmd.PersistentFlags()
	persistentFlags.StringVarP(&workdir, "workdir", "w", "", "working directory")
	persistentFlags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	persistentFlags.StringP("config-file", "f", "forward-auth.yaml", "config file")
	viper.BindPFlag("config_file", persistentFlags.Lookup("config-file"))
}

// setupLogging installs the console handler for humans, or JSON for log collectors.
func setupLogging(level slog.Level, pretty bool) {
	var handler slog.Handler
	if pretty {
		handler = console.NewHandler(os.Stderr, &console.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

// Expand ~ to $HOME
func expandHome(path string) string {
	if strings.HasPrefix(path, "~") {
		home, _ := os.UserHomeDir()
		path = strings.Replace(path, "~", home, 1)
	}
	return path
}

func loadConfig() *forwardauth.Config {
	configFile := expandHome(viper.GetString("config_file"))
	if configFile == "" {
		cobra.CheckErr("config file is required. Use --config-file/-f flag or FORWARDAUTH_CONFIG_FILE")
	}
	config, err := forwardauth.LoadConfigFile(configFile)
	if err != nil {
		slog.Error("Failed to load config file", "config_file", configFile, "error", err)
		os.Exit(1)
	}
	slog.Debug("Loaded config", "config_file", configFile)
	return config
}
