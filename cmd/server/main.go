// Package main runs the digital credential mediator over HTTP.
package main

import (
	"github.com/spf13/cobra"
	"github.com/trustbloc/logutil-go/pkg/log"

	"github.com/kokukuma/dc-mediator/cmd/server/startcmd"
)

var logger = log.New("dc-mediator")

func main() {
	rootCmd := &cobra.Command{
		Use: "dc-mediator",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}

	rootCmd.AddCommand(startcmd.GetStartCmd(&startcmd.HTTPServer{}))

	if err := rootCmd.Execute(); err != nil {
		logger.Fatal("Failed to run dc-mediator", log.WithError(err))
	}
}
