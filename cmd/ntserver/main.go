// Copyright 2015-2023 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

// Command ntserver is a thin runnable example of pkg/nt's server role: it
// binds a NTv3 endpoint, logs directory and connection events as they
// happen, and otherwise carries no protocol logic of its own.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sandia-minimega/networktables/internal/directory"
	"github.com/sandia-minimega/networktables/internal/fanout"
	"github.com/sandia-minimega/networktables/internal/ntlog"
	"github.com/sandia-minimega/networktables/pkg/nt"
)

var (
	network string
	addr    string
	name    string
	level   string
)

var rootCmd = &cobra.Command{
	Use:   "ntserver",
	Short: "A NetworkTables v3 server",
	RunE: func(cmd *cobra.Command, args []string) error {
		network = viper.GetString("network")
		addr = viper.GetString("addr")
		name = viper.GetString("name")
		level = viper.GetString("level")

		lvl, err := ntlog.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("--level: %w", err)
		}
		ntlog.AddLogger("stdout", os.Stdout, lvl, true)

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		h, err := nt.Bind(ctx, network, addr, name)
		if err != nil {
			return fmt.Errorf("binding %s %s: %w", network, addr, err)
		}
		defer h.Close()

		warn := color.New(color.FgYellow)
		warn.Printf("listening on %s (%s), server name %q\n", addr, network, name)

		h.AddConnectionCallback(func(ev fanout.Event) {
			ntlog.Info("client event: %v (%d connected)", ev.Kind, h.ClientCount())
		})
		h.AddCallback(fanout.Add, func(ev fanout.Event) {
			if e, ok := ev.Entry.(directory.Entry); ok {
				ntlog.Debug("entry created: %s", e.Name)
			}
		})
		h.AddCallback(fanout.Delete, func(ev fanout.Event) {
			if e, ok := ev.Entry.(directory.Entry); ok {
				ntlog.Debug("entry deleted: %s", e.Name)
			}
		})

		<-ctx.Done()
		fmt.Println("shutting down")
		return nil
	},
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&network, "network", "tcp", "transport to bind (\"tcp\" or \"ws\")")
	rootCmd.PersistentFlags().StringVar(&addr, "addr", ":1735", "address to bind")
	rootCmd.PersistentFlags().StringVar(&name, "name", "go-networktables", "server name reported in ServerHello")
	rootCmd.PersistentFlags().StringVar(&level, "level", "info", "log level (debug, info, warn, error, fatal)")

	viper.BindPFlags(rootCmd.PersistentFlags())
}

func initConfig() {
	viper.SetConfigName("ntserver")
	viper.AddConfigPath(".")
	viper.SetEnvPrefix("NTSERVER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("using config file:", viper.ConfigFileUsed())
	}
}

func main() {
	Execute()
}
