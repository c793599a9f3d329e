// Copyright 2026 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/pingcap/schemadict/pkg/config"
	"github.com/pingcap/schemadict/pkg/util/logutil"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	flagConfig   = "config"
	flagLogLevel = "log-level"
	flagDataDir  = "data-dir"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		sig := <-sc
		log.Warn("received signal to exit", zap.Stringer("signal", sig))
		cancel()
		<-sc
		os.Exit(1)
	}()

	rootCmd := &cobra.Command{
		Use:              "schemadict",
		Short:            "schemadict manages the replicated schema dictionary files of a cluster.",
		TraverseChildren: true,
		SilenceUsage:     true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initGlobal(cmd)
		},
	}
	rootCmd.PersistentFlags().StringP(flagConfig, "C", "", "Path of the toml configuration file")
	rootCmd.PersistentFlags().StringP(flagLogLevel, "L", "", "Override the log level of the configuration")
	rootCmd.PersistentFlags().String(flagDataDir, "", "Override the data directory of the configuration")

	rootCmd.AddCommand(
		newInspectCommand(),
		newVerifyCommand(),
		newUpgradeCommand(),
		newSimulateCommand(),
	)
	rootCmd.SetOut(os.Stdout)
	rootCmd.SetArgs(os.Args[1:])
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		cancel()
		log.Error("schemadict failed", zap.Error(err))
		os.Exit(1) // nolint:gocritic
	}
}

// initGlobal loads the configuration, applies the command line overrides and sets up
// the logger.
func initGlobal(cmd *cobra.Command) error {
	conf := config.NewConfig()
	path, err := cmd.Flags().GetString(flagConfig)
	if err != nil {
		return errors.Trace(err)
	}
	if path != "" {
		if err := conf.Load(path); err != nil {
			return err
		}
	}
	if level, _ := cmd.Flags().GetString(flagLogLevel); level != "" {
		conf.Log.Level = level
	}
	if dir, _ := cmd.Flags().GetString(flagDataDir); dir != "" {
		conf.DataDir = dir
	}
	if err := conf.Valid(); err != nil {
		return errors.Annotate(err, "invalid configuration")
	}
	if err := logutil.InitLogger(conf.Log.ToLogConfig()); err != nil {
		return errors.Trace(err)
	}
	config.StoreGlobalConfig(conf)
	logutil.BgLogger().Debug("configuration loaded", zap.String("path", path), zap.String("data-dir", conf.DataDir))
	return nil
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
