// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var deleteBucketCmd = &cobra.Command{
	Use:   "delete-bucket <name>",
	Short: "Marks a bucket for deletion",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := NewEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.DeleteBucket(cmd.Context(), args[0]); err != nil {
			return err
		}

		fmt.Printf("bucket %q marked for deletion\n", args[0])
		return nil
	},
}
