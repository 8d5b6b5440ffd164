// Copyright 2024 The Flowplane Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command flowplaned runs one or more userspace datapaths as configured and
// bridges misses with a flood controller until real flows are installed.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/flowplane/flowplane/datapath"
	"github.com/flowplane/flowplane/datapath/config"
	"github.com/flowplane/flowplane/pkg/log"
	"github.com/flowplane/flowplane/pkg/private/serrors"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	executable := filepath.Base(os.Args[0])
	v := viper.New()
	cmd := &cobra.Command{
		Use:           executable,
		Short:         "Userspace packet forwarding daemon",
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v.GetString("config"))
			if err != nil {
				return err
			}
			if cfg.General.ID == "" {
				cfg.General.ID = executable
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := log.Setup(cfg.Logging); err != nil {
				return err
			}
			defer log.HandlePanic()
			return run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().String("config", "", "Configuration file (required)")
	cmd.MarkFlagRequired("config")
	v.BindPFlags(cmd.Flags())
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	g, errCtx := errgroup.WithContext(ctx)

	metrics := datapath.NewMetrics()
	registry := datapath.NewRegistry()
	for _, dpCfg := range cfg.Datapaths {
		dp, err := registry.Create(datapath.Config{
			Name:           dpCfg.Name,
			MaxFlows:       dpCfg.MaxFlows,
			UpcallQueueLen: dpCfg.UpcallQueueLen,
			Metrics:        metrics,
		})
		if err != nil {
			return serrors.Wrap("creating datapath", err, "name", dpCfg.Name)
		}
		if err := addPorts(dp, dpCfg.Ports); err != nil {
			return err
		}
		g.Go(func() error {
			defer log.HandlePanic()
			return dp.Run(errCtx)
		})
		g.Go(func() error {
			defer log.HandlePanic()
			return runFloodController(errCtx, dp)
		})
	}

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		log.Info("Exposing metrics", "addr", cfg.Metrics.Addr)
		g.Go(func() error {
			defer log.HandlePanic()
			err := server.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return serrors.Wrap("serving metrics", err)
			}
			return nil
		})
		g.Go(func() error {
			defer log.HandlePanic()
			<-errCtx.Done()
			return server.Close()
		})
	}

	return g.Wait()
}

func addPorts(dp *datapath.Datapath, ports []config.PortConfig) error {
	for _, pc := range ports {
		var dev datapath.Device
		if pc.Internal {
			dev = datapath.NewMemDevice()
		} else {
			tap, err := datapath.NewTapDevice(pc.Name)
			if err != nil {
				return serrors.Wrap("opening tap device", err,
					"datapath", dp.Name(), "port", pc.Name)
			}
			dev = tap
		}
		_, err := dp.AddPort(pc.Name, dev, datapath.PortIDAny, pc.Internal)
		if err != nil {
			return serrors.Wrap("adding port", err,
				"datapath", dp.Name(), "port", pc.Name)
		}
	}
	return nil
}
