package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gematik/zero-lab/go/forwardauth/pkg/forwardauth"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version and the effective identity provider settings",
	Run: func(cmd *cobra.Command, args []string) {
		printVersion(os.Stdout, expandHome(viper.GetString("config_file")))
	},
}

func printVersion(w io.Writer, configFile string) {
	fmt.Fprintf(w, "%s v%s\n", forwardauth.ServiceName, forwardauth.Version)

	configFile, err := filepath.Abs(configFile)
	if err != nil {
		fmt.Fprintf(w, "Config file: %s\n", err)
		return
	}
	config, err := forwardauth.LoadConfigFile(configFile)
	if err != nil {
		fmt.Fprintf(w, "Config file: %s (not usable: %s)\n", configFile, err)
		return
	}

	fmt.Fprintln(w, "Config file:", configFile)
	fmt.Fprintln(w, "Issuer:", config.OIDC.Issuer)
	fmt.Fprintln(w, "Client ID:", config.OIDC.ClientID)
	fmt.Fprintln(w, "Verification mode:", config.Verification.Mode)
	if config.Login.Enabled {
		fmt.Fprintf(w, "Login: %s flow, %s stored in session, state in %s\n",
			config.Login.Flow, config.Login.TokenType, config.Login.StateStore)
	} else {
		fmt.Fprintln(w, "Login: disabled")
	}
}
