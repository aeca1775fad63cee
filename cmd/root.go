// Package cmd contains the cobra command line setup
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "execution-bridge",
	Short: "execution-bridge " + Version,
	Long:  `Execution layer bridge between a consensus client, several execution engines and an external builder`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("execution-bridge %s\n", Version)
		_ = cmd.Help()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
