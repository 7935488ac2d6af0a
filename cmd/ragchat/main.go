package main

import (
	"fmt"
	"os"

	"github.com/barekit/ragchat/pkg/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.NewViper()
	var configFile string

	root := &cobra.Command{
		Use:           "ragchat",
		Short:         "Chat assistant that remembers your other conversations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("store", "", "store type (sqlite, postgres, mysql, mssql, mongo, neo4j, inmemory)")
	root.PersistentFlags().String("dsn", "", "store connection string")
	bindFlags(v, root, map[string]string{
		"log.level":  "log-level",
		"store.type": "store",
		"store.dsn":  "dsn",
	})

	load := func() (*config.Config, error) {
		return config.Load(v, configFile)
	}
	root.AddCommand(newServeCmd(v, load), newChatCmd(load))
	return root
}

// bindFlags binds persistent flags to config keys so flags override the
// environment only when set.
func bindFlags(v *viper.Viper, cmd *cobra.Command, keys map[string]string) {
	for key, flag := range keys {
		_ = v.BindPFlag(key, cmd.PersistentFlags().Lookup(flag))
	}
}
