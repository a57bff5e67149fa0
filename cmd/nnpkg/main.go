// Copyright 2026 The nnpkg Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

// Command nnpkg is the package manager CLI: it drives internal/engine
// through the add transaction, and creates the database directly for init.
package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/nexos-dev/nnpkg/internal/config"
	"github.com/nexos-dev/nnpkg/internal/engine"
	"github.com/nexos-dev/nnpkg/internal/propdb"
)

const version = "0.1.0"

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var confPath string

	root := &cobra.Command{
		Use:   "nnpkg",
		Short: "A local package manager",
		Long:  "nnpkg tracks installed packages in a property database and materializes a symlink index from their contents.",
	}
	root.PersistentFlags().StringVar(&confPath, "conf", "/etc/nnpkg.conf", "path to the main configuration file")

	root.AddCommand(versionCmd())
	root.AddCommand(initCmd(&confPath))
	root.AddCommand(addCmd(&confPath))
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version number",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(version)
		},
	}
}

func initCmd(confPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the package database and string table",
		RunE: func(cmd *cobra.Command, args []string) error {
			mainConf, err := config.ParseMainConfig(*confPath)
			if err != nil {
				log.Error().Err(err).Str("conf", *confPath).Msg("failed to parse configuration")
				return err
			}
			loc := propdb.Location{DBPath: mainConf.PackageDb, StrtabPath: mainConf.Strtab}
			if err := propdb.Create(loc); err != nil {
				log.Error().Err(err).Msg("failed to create database")
				return err
			}
			log.Info().Str("db", loc.DBPath).Msg("database created")
			return nil
		},
	}
}

func addCmd(confPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "add PKG_CONF",
		Short: "Add a package described by a package configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cb := engine.NewAddControlBlock(*confPath, args[0], logProgress)
			// The progress callback has already logged the error on ERR.
			if err := engine.Execute(cb); err != nil {
				return err
			}
			return nil
		},
	}
}

func logProgress(cb *engine.ControlBlock, state engine.State) {
	ev := log.Info()
	if state == engine.StateAddPkg {
		ev = ev.Str("package", cb.ProgressHint[0])
	}
	if state == engine.StateErr {
		logTransactionError(cb)
		return
	}
	ev.Str("state", state.String()).Msg("transaction progress")
}

func logTransactionError(cb *engine.ControlBlock) {
	ev := log.Error().Str("code", string(cb.Err.Code))
	for i := 0; i < cb.Err.NumHints; i++ {
		ev = ev.Str("hint", cb.Err.Hints[i])
	}
	ev.Msg("transaction failed")
}
