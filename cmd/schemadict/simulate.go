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
	"net/http"
	"path/filepath"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pingcap/errors"
	"github.com/pingcap/schemadict/pkg/cluster"
	"github.com/pingcap/schemadict/pkg/config"
	"github.com/pingcap/schemadict/pkg/ddl"
	"github.com/pingcap/schemadict/pkg/metrics"
	"github.com/pingcap/schemadict/pkg/registry"
	"github.com/pingcap/schemadict/pkg/schemafile"
	"github.com/pingcap/schemadict/pkg/terror"
	"github.com/pingcap/schemadict/pkg/util"
	"github.com/pingcap/schemadict/pkg/util/logutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const apiNode cluster.NodeID = 100

type simulateOptions struct {
	nodes    int
	tables   int
	inMemory bool
	failNode int
	timeout  time.Duration
}

func newSimulateCommand() *cobra.Command {
	opts := &simulateOptions{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run an in-process cluster, apply DDL, fail and restart a node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSimulation(cmd, config.GetGlobalConfig(), opts)
		},
	}
	cmd.Flags().IntVar(&opts.nodes, "nodes", 3, "Number of dictionary nodes")
	cmd.Flags().IntVar(&opts.tables, "tables", 8, "Number of tables to create")
	cmd.Flags().BoolVar(&opts.inMemory, "in-memory", false, "Keep the schema files in memory")
	cmd.Flags().IntVar(&opts.failNode, "fail-node", 0, "Node to fail and node restart after the DDL, 0 for none")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "Timeout of every step")
	return cmd
}

type simulation struct {
	conf  *config.Config
	opts  *simulateOptions
	fs    afero.Fs
	bus   *cluster.Bus
	dicts map[cluster.NodeID]*ddl.Dict
	api   *ddl.Client
}

func (s *simulation) addNode(id cluster.NodeID) *ddl.Dict {
	store := schemafile.NewStore(s.fs, filepath.Join(s.conf.DataDir, fmt.Sprintf("node%d", id)))
	d := ddl.NewDict(id, s.bus, store, ddl.WithConfig(s.conf))
	s.dicts[id] = d
	s.bus.Register(id, d)
	return d
}

// waitFor polls cond until it holds or the step timeout expires.
func (s *simulation) waitFor(ctx context.Context, what string, cond func() bool) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for !cond() {
		select {
		case <-ctx.Done():
			return errors.Annotatef(ctx.Err(), "wait for %s", what)
		case <-ticker.C:
		}
	}
	return nil
}

func (s *simulation) run(ctx context.Context, to cluster.NodeID, op ddl.OpRequest) (ddl.Result, error) {
	data, err := s.api.Submit(to, op)
	if err != nil {
		return ddl.Result{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()
	return s.api.Wait(ctx, data)
}

func runSimulation(cmd *cobra.Command, conf *config.Config, opts *simulateOptions) error {
	if opts.nodes <= 0 || opts.nodes > 64 {
		return errors.Errorf("nodes should be in [1, 64], got %d", opts.nodes)
	}
	ctx := logutil.WithCategory(cmd.Context(), "simulate")
	logger := logutil.Logger(ctx)
	s := &simulation{
		conf:  conf,
		opts:  opts,
		fs:    afero.NewOsFs(),
		bus:   cluster.NewBus(),
		dicts: make(map[cluster.NodeID]*ddl.Dict),
	}
	if opts.inMemory {
		s.fs = afero.NewMemMapFs()
	}
	if addr := conf.Status.MetricsAddr; addr != "" {
		stop := serveMetrics(ctx, addr)
		defer terror.Call(stop)
	}

	s.api = ddl.NewClient(apiNode, s.bus)
	s.bus.Register(apiNode, s.api)
	s.bus.Start(ctx)
	defer s.bus.Close()

	alive := make([]cluster.NodeID, 0, opts.nodes)
	for i := 1; i <= opts.nodes; i++ {
		alive = append(alive, cluster.NodeID(i))
	}
	for _, id := range alive {
		s.addNode(id)
	}
	for _, id := range alive {
		s.dicts[id].StartSystemRestart(alive)
	}
	if err := s.waitFor(ctx, "system restart", func() bool {
		for _, d := range s.dicts {
			if !d.Ready() {
				return false
			}
		}
		return true
	}); err != nil {
		return err
	}
	logger.Info("cluster started", zap.Int("nodes", opts.nodes))

	for i := 0; i < opts.tables; i++ {
		to := alive[i%len(alive)]
		name := fmt.Sprintf("t%d", i)
		res, err := s.run(ctx, to, ddl.NewCreateRequest(schemafile.KindUserTable, registry.NoHint, 1, name))
		if err != nil {
			return err
		}
		if res.Err != nil {
			logger.Warn("create table failed", zap.String("name", name), zap.Error(res.Err))
			continue
		}
		logger.Info("table created", zap.String("name", name), zap.Uint32("id", res.ObjectID))
	}

	if opts.failNode > 0 {
		failed := cluster.NodeID(opts.failNode)
		if _, ok := s.dicts[failed]; !ok {
			return errors.Errorf("unknown node %d", failed)
		}
		s.bus.FailNode(failed)
		delete(s.dicts, failed)
		survivors := make([]cluster.NodeID, 0, len(alive)-1)
		for _, id := range alive {
			if id != failed {
				survivors = append(survivors, id)
			}
		}
		if len(survivors) == 0 {
			return errors.New("cannot restart the last node")
		}
		if err := s.waitFor(ctx, "node failure handling", func() bool {
			return s.bus.Pending() == 0
		}); err != nil {
			return err
		}
		d := s.addNode(failed)
		d.StartNodeRestart(survivors)
		if err := s.waitFor(ctx, "node restart", d.Ready); err != nil {
			return err
		}
		logger.Info("node restarted", zap.Uint32("node", uint32(failed)))
	}

	printf(cmd, "%s\n", renderStats(s.dicts))
	return nil
}

func renderStats(dicts map[cluster.NodeID]*ddl.Dict) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Node", "Committed", "Aborted", "Rejected", "Partial Failures", "Restart Actions"})
	ids := make([]cluster.NodeID, 0, len(dicts))
	for id := range dicts {
		ids = append(ids, id)
	}
	for _, id := range cluster.NewNodeSet(ids...).IDs() {
		st := dicts[id].Stats()
		t.AppendRow(table.Row{id, st.Committed, st.Aborted, st.Rejected, st.PartialFailures, st.RestartActions})
	}
	return t.Render()
}

// serveMetrics exposes the dictionary metrics on addr until the returned func is called.
func serveMetrics(ctx context.Context, addr string) func() error {
	logger := logutil.Logger(logutil.WithFields(ctx, zap.String("addr", addr)))
	reg := prometheus.NewRegistry()
	metrics.RegisterMetrics(reg)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	var wg util.WaitGroupWrapper
	wg.Run(func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	})
	logger.Info("serving metrics")
	return func() error {
		defer wg.Wait()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return errors.Trace(srv.Shutdown(ctx))
	}
}
