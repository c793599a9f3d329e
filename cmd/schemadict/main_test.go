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
	"bytes"
	"context"
	"testing"

	"github.com/pingcap/schemadict/pkg/config"
	"github.com/pingcap/schemadict/pkg/schemafile"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func seedStore(t *testing.T, fs afero.Fs, dir string) *schemafile.Store {
	store := schemafile.NewStore(fs, dir)
	require.NoError(t, store.Init(schemafile.EntriesPerPage))
	for id, e := range map[uint32]schemafile.Entry{
		3: {State: schemafile.TableAddCommitted, Version: 1, Kind: schemafile.KindUserTable},
		4: {State: schemafile.DropTableCommitted, Version: 2, Kind: schemafile.KindUserTable},
		9: {State: schemafile.AddStarted, Version: 1, Kind: schemafile.KindDatafile},
	} {
		p, err := store.Entry(id)
		require.NoError(t, err)
		*p = e
	}
	require.NoError(t, store.PersistAll(schemafile.Current))
	return store
}

func TestRenderEntries(t *testing.T) {
	store := seedStore(t, afero.NewMemMapFs(), "/data")
	out := renderEntries(store.File(schemafile.Current), false)
	require.Contains(t, out, "add committed")
	require.Contains(t, out, "add started")
	require.NotContains(t, out, "drop committed")

	out = renderEntries(store.File(schemafile.Current), true)
	require.Contains(t, out, "drop committed")
}

func TestVerifyReplicas(t *testing.T) {
	fs := afero.NewMemMapFs()
	seedStore(t, fs, "/data")
	reports, err := verifyReplicas(context.Background(), fs, "/data")
	require.NoError(t, err)
	require.Len(t, reports, 4)
	for _, r := range reports {
		require.True(t, r.ok(), r.path)
		require.Equal(t, "ok", r.status)
	}
	require.Equal(t, int64(9), reports[0].maxLive)

	bad := schemafile.ReplicaPath("/data", schemafile.Old, 1)
	require.NoError(t, afero.WriteFile(fs, bad, []byte("garbage"), 0o644))
	require.NoError(t, fs.Remove(schemafile.ReplicaPath("/data", schemafile.Current, 0)))
	reports, err = verifyReplicas(context.Background(), fs, "/data")
	require.NoError(t, err)
	require.Equal(t, "missing", reports[0].status)
	require.Equal(t, "ok", reports[1].status)
	require.Equal(t, "corrupt", reports[3].status)
	require.Contains(t, renderReports(reports), "corrupt")
}

func TestUpgradeRepairsReplicas(t *testing.T) {
	fs := afero.NewMemMapFs()
	seedStore(t, fs, "/data")
	require.NoError(t, fs.Remove(schemafile.ReplicaPath("/data", schemafile.Current, 0)))

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	require.NoError(t, upgradeStore(cmd, fs, "/data"))
	require.Contains(t, out.String(), "current copy")

	reports, err := verifyReplicas(context.Background(), fs, "/data")
	require.NoError(t, err)
	for _, r := range reports {
		require.True(t, r.ok(), r.path)
	}
}

func TestInitGlobal(t *testing.T) {
	fs := afero.NewOsFs()
	path := t.TempDir() + "/schemadict.toml"
	require.NoError(t, afero.WriteFile(fs, path, []byte("node-id = 3\nmax-objects = 4096\n[lock-queue]\npoll-interval = \"20ms\"\n"), 0o644))

	cmd := &cobra.Command{}
	cmd.Flags().String(flagConfig, "", "")
	cmd.Flags().String(flagLogLevel, "", "")
	cmd.Flags().String(flagDataDir, "", "")
	require.NoError(t, cmd.Flags().Set(flagConfig, path))
	require.NoError(t, cmd.Flags().Set(flagDataDir, "/tmp/sd"))
	require.NoError(t, initGlobal(cmd))
	defer config.StoreGlobalConfig(config.NewConfig())

	conf := config.GetGlobalConfig()
	require.Equal(t, uint32(3), conf.NodeID)
	require.Equal(t, uint32(4096), conf.MaxObjects)
	require.Equal(t, "/tmp/sd", conf.DataDir)
	require.Equal(t, "20ms", conf.LockQueue.PollInterval)
}
