package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/gematik/zero-lab/go/forwardauth/pkg/oidc"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(keysCmd)
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List the signing keys published by the identity provider",
	Run: func(cmd *cobra.Command, args []string) {
		config := loadConfig()

		metadata := oidc.NewMetadataCache(config.OIDC.Issuer, oidc.MetadataCacheOptions{})
		set, err := metadata.PublishedKeys(context.Background())
		cobra.CheckErr(err)

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KID\tKTY\tALG\tUSE\tSTATUS")
		for _, key := range set.Keys {
			status := "valid"
			if err := key.Validate(); err != nil {
				status = err.Error()
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", key.Kid, key.Kty, key.Alg, key.Use, status)
		}
		cobra.CheckErr(w.Flush())
	},
}
