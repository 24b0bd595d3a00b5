package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/stephnangue/gristproxy/cmd/server"
	"github.com/stephnangue/gristproxy/cmd/users"
)

var gristproxyCmd = &cobra.Command{
	Use:   "gristproxy",
	Short: "gristproxy is an authenticating edge proxy for the Grist API",
	Long: `gristproxy sits between a browser application and a Grist server.
It validates the caller's Auth0 access token, rate limits each caller and
forwards the request to Grist with that caller's own Grist API key.`,
	SilenceUsage: true,
}

// Execute runs the root command, exiting the process on error.
func Execute(ctx context.Context) {
	if err := gristproxyCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	gristproxyCmd.AddCommand(server.ServerCmd)
	gristproxyCmd.AddCommand(users.UsersCmd)
}
