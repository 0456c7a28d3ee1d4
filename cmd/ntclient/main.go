// Copyright 2015-2023 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

// Command ntclient is a thin runnable example of pkg/nt's client role: it
// connects to a NTv3 server, prints the bootstrap directory, then watches
// for and prints further entry changes until interrupted.
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
	Use:   "ntclient",
	Short: "A NetworkTables v3 client",
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

		h, err := nt.Connect(ctx, network, addr, name)
		if err != nil {
			return fmt.Errorf("connecting to %s %s: %w", network, addr, err)
		}
		defer h.Close()

		green := color.New(color.FgGreen)
		green.Printf("connected to %s (%s) as %q\n", addr, network, name)

		for _, e := range h.Entries() {
			fmt.Printf("%s = %v\n", e.Name, e.Value)
		}

		h.AddCallback(fanout.Add, func(ev fanout.Event) {
			if e, ok := ev.Entry.(directory.Entry); ok {
				fmt.Printf("+ %s = %v\n", e.Name, e.Value)
			}
		})
		h.AddCallback(fanout.Update, func(ev fanout.Event) {
			if e, ok := ev.Entry.(directory.Entry); ok {
				fmt.Printf("~ %s = %v\n", e.Name, e.Value)
			}
		})
		h.AddCallback(fanout.Delete, func(ev fanout.Event) {
			if e, ok := ev.Entry.(directory.Entry); ok {
				fmt.Printf("- %s\n", e.Name)
			}
		})

		go func() {
			if err := h.Wait(); err != nil {
				ntlog.Error("connection lost: %v", err)
				cancel()
			}
		}()

		<-ctx.Done()
		fmt.Println("disconnecting")
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

	rootCmd.PersistentFlags().StringVar(&network, "network", "tcp", "transport to dial (\"tcp\" or \"ws\")")
	rootCmd.PersistentFlags().StringVar(&addr, "addr", "localhost:1735", "address to dial")
	rootCmd.PersistentFlags().StringVar(&name, "name", "ntclient", "client name sent in ClientHello")
	rootCmd.PersistentFlags().StringVar(&level, "level", "info", "log level (debug, info, warn, error, fatal)")

	viper.BindPFlags(rootCmd.PersistentFlags())
}

func initConfig() {
	viper.SetConfigName("ntclient")
	viper.AddConfigPath(".")
	viper.SetEnvPrefix("NTCLIENT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("using config file:", viper.ConfigFileUsed())
	}
}

func main() {
	Execute()
}
