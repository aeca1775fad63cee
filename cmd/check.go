package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/flashbots/execution-bridge/builderclient"
	"github.com/flashbots/execution-bridge/datastore"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(checkCmd)
	addCommonFlags(checkCmd)
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check every configured engine and the builder once",
	PreRun: func(cmd *cobra.Command, args []string) {
		bindCommonFlags(cmd)
	},
	Run: func(cmd *cobra.Command, args []string) {
		log := serviceLog("check")
		ctx := context.Background()

		engines, err := newEngines(ctx, log)
		if err != nil {
			log.WithError(err).Fatal("invalid engine configuration")
		}
		defer engines.Close()

		numOnline := engines.UpcheckAll(ctx)
		for _, info := range engines.Engines() {
			line := fmt.Sprintf("engine  %-24s %s", info.Name, info.Status)
			if info.LastError != "" {
				line += "  (" + info.LastError + ")"
			}
			fmt.Println(line)
		}

		bridge, err := newBridge(log, datastore.NewProposerMemoryDatastore())
		if err != nil {
			log.WithError(err).Fatal("invalid builder configuration")
		}
		switch err := bridge.Status(ctx); {
		case errors.Is(err, builderclient.ErrNoBuilder):
			fmt.Println("builder disabled")
		case err != nil:
			fmt.Printf("builder unavailable  (%s)\n", err)
		default:
			fmt.Println("builder ok")
		}

		if numOnline == 0 {
			os.Exit(1)
		}
	},
}
