package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "guildstream",
		Short: "Bridge a chat gateway into an ordered, idempotent fact stream",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.toml")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Connect to the gateway and serve the fact stream",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
	root.AddCommand(serve)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
