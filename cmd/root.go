// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bucketsync/core/cmd/flags"
	"github.com/bucketsync/core/pkg/engine"
)

// Version is the bucketsync version.
var Version = "development"

func init() {
	viper.SetEnvPrefix("BUCKETSYNC")
	viper.AutomaticEnv()

	flags.DBFlags(rootCmd)
}

var rootCmd = &cobra.Command{
	Use:          "bucketsync",
	SilenceUsage: true,
	Version:      Version,
}

// NewEngine opens the embedded store named by the --db flag and
// initializes its schema.
func NewEngine(ctx context.Context) (*engine.Engine, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", flags.DatabasePath(), flags.BusyTimeoutMs())

	e, err := engine.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := e.Init(ctx); err != nil {
		return nil, err
	}

	return e, nil
}

// Execute executes the root command.
func Execute() error {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(gcCmd)
	rootCmd.AddCommand(deleteBucketCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serveCmd)

	return rootCmd.Execute()
}
