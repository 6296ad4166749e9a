// Command bulletind serves a bulletin board over HTTP.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:     "bulletind",
		Short:   "bulletind - message bulletin board server",
		Version: version,
		Long: `bulletind stores short messages between email addresses and serves
paged, filterable listings of them as server-sent events.

Configuration is read from the environment (and a .env file, if present).`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(checkConfigCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
