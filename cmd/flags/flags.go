// SPDX-License-Identifier: Apache-2.0

package flags

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func DatabasePath() string {
	return viper.GetString("DB")
}

func BusyTimeoutMs() int {
	return viper.GetInt("DB_BUSY_TIMEOUT")
}

func DBFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("db", "bucketsync.db", "Path to the embedded SQLite database file")
	cmd.PersistentFlags().Int("db-busy-timeout", 5000, "Busy timeout in milliseconds applied to the embedded store")

	viper.BindPFlag("DB", cmd.PersistentFlags().Lookup("db"))
	viper.BindPFlag("DB_BUSY_TIMEOUT", cmd.PersistentFlags().Lookup("db-busy-timeout"))
}
