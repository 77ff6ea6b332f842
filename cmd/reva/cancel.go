package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <runId>",
	Short: "Request cooperative cancellation of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}

func runCancel(cmd *cobra.Command, args []string) error {
	eng, err := openEngineHere()
	if err != nil {
		return err
	}
	defer eng.close()

	if err := eng.orch.Cancel(args[0]); err != nil {
		return err
	}
	fmt.Printf("Cancellation requested for run %s\n", args[0])
	return nil
}
