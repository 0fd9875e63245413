// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Creates the engine's internal tables in the embedded store",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := NewEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		sp, _ := pterm.DefaultSpinner.WithText("Initializing store...").Start()
		if err := e.Init(cmd.Context()); err != nil {
			sp.Fail(fmt.Sprintf("Failed to initialize store: %s", err))
			return err
		}

		sp.Success("Initialization complete")
		return nil
	},
}
