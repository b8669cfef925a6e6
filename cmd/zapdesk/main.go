// Package main is the zapdesk server binary.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "zapdesk",
		Short: "Multi-tenant WhatsApp support desk",
		Long: `zapdesk routes WhatsApp conversations into support queues,
drives the queue-selection chatbot and serves the agent API.`,
	}
	root.AddCommand(newServeCommand())
	root.AddCommand(newAgentCommand())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "zapdesk", version)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
