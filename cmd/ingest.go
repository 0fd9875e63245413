// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Applies an operation batch (JSON or YAML) to the local oplog",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := readBatchFile(args[0])
		if err != nil {
			return err
		}

		e, err := NewEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.Ingest(cmd.Context(), raw); err != nil {
			return err
		}

		fmt.Println("batch ingested")
		return nil
	},
}

// readBatchFile reads a batch fixture from path and, if it is
// YAML-authored, converts it to JSON before ingestion. A bare "-"
// reads from stdin.
func readBatchFile(path string) ([]byte, error) {
	var raw []byte
	var err error

	if path == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading batch file: %w", err)
	}

	if looksLikeJSON(raw) {
		return raw, nil
	}

	return yaml.YAMLToJSON(raw)
}

func looksLikeJSON(b []byte) bool {
	for _, c := range b {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		case '{', '[':
			return true
		default:
			return false
		}
	}
	return false
}
