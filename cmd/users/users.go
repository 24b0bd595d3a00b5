package users

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/stephnangue/gristproxy/cmd/helpers"
	"github.com/stephnangue/gristproxy/config"
	"github.com/stephnangue/gristproxy/cred"
)

var (
	configPath string

	UsersCmd = &cobra.Command{
		Use:   "users",
		Short: "List the identities allowed through the proxy",
		Long: `
Usage: gristproxy users [options]

  Loads the configuration the same way the server does, from the optional
  configuration file and the environment, and prints every identity that is
  mapped to a Grist API key. Keys are masked.

      $ gristproxy users --config=/etc/gristproxy/config.hcl
  `,
		RunE: run,
	}
)

func init() {
	UsersCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (e.g., path/to/gristproxy.hcl)")
}

func run(cmd *cobra.Command, args []string) error {
	conf, err := config.Load(configPath)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, w := range conf.Warnings {
		fmt.Fprintf(out, "WARNING: %s\n", w)
	}

	return printUsers(cmd, cred.NewMap(conf.Credentials()))
}

func printUsers(cmd *cobra.Command, m *cred.Map) error {
	rows := make([][]any, 0, m.Len())
	for _, c := range m.List() {
		rows = append(rows, []any{c.Identity, helpers.MaskKey(c.Key), c.Source})
	}
	return helpers.PrintTable(cmd.OutOrStdout(), []string{"Identity", "Key", "Source"}, rows)
}
