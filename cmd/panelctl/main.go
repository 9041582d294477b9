package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "panelctl",
		Short: "Run multi-backend panel discussions and candidate searches",
		Long:  "panelctl drives a panel of generation backends through moderated multi-round discussions, sanitizes and scores their answers, and can search for the best single answer to a query across backends.",
	}

	root.PersistentFlags().String("config", "", "Path to config file (default: configs/config.yaml)")

	root.AddCommand(newDiscussCmd())
	root.AddCommand(newSearchCmd())
	root.AddCommand(newExportCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
