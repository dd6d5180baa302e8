package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var versionCmd = &cobra.Command{
	Use:               "version",
	Short:             "Print the consentd version",
	GroupID:           "system",
	PersistentPreRunE: noClient,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "consentd %s (%s)\n", version, runtime.Version())
	},
}
