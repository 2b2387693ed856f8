package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/gematik/zero-lab/go/forwardauth/pkg/forwardauth"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(checkCmd)
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the config and run the startup checks against the identity provider",
	Run: func(cmd *cobra.Command, args []string) {
		config := loadConfig()

		server, err := forwardauth.New(context.Background(), config)
		if err != nil {
			slog.Error("Startup checks failed", "error", err)
			os.Exit(1)
		}
		defer server.Close()

		endpoints, err := server.Metadata.ProviderEndpoints(context.Background())
		cobra.CheckErr(err)
		fmt.Println("Issuer:", endpoints.Issuer)
		fmt.Println("Verification mode:", config.Verification.Mode)
		fmt.Println("Introspection supported:", endpoints.SupportsIntrospection())
		if config.Login.Enabled {
			fmt.Println("Login flow:", config.Login.Flow)
			fmt.Println("Redirect URI:", config.RedirectURI())
		}
		fmt.Println("OK")
	},
}
