// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync-local",
	Short: "Materializes applied bucket operations into local tables, if safe to do so",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := NewEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		applied, err := e.SyncLocal(cmd.Context())
		if err != nil {
			return err
		}

		if applied {
			fmt.Println("local state updated")
		} else {
			fmt.Println("skipped: not yet safe to update local state")
		}
		return nil
	},
}
