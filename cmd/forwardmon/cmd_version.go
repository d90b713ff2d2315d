// cmd/forwardmon/cmd_version.go
package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the forwardmon version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("forwardmon " + version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
