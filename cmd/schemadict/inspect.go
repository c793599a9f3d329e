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
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/pingcap/errors"
	"github.com/pingcap/schemadict/pkg/config"
	"github.com/pingcap/schemadict/pkg/schemafile"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func newInspectCommand() *cobra.Command {
	var (
		old bool
		all bool
	)
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the entries of the schema file of one node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := schemafile.Current
			if old {
				c = schemafile.Old
			}
			store := schemafile.NewStore(afero.NewOsFs(), config.GetGlobalConfig().DataDir)
			if err := store.Load(c); err != nil {
				return errors.Trace(err)
			}
			printf(cmd, "%s\n", renderEntries(store.File(c), all))
			return nil
		},
	}
	cmd.Flags().BoolVar(&old, "old", false, "Inspect the old copy instead of the current one")
	cmd.Flags().BoolVar(&all, "all", false, "Also print dropped entries")
	return cmd
}

// renderEntries formats the entries of f as a table. Init entries are always left out,
// dropped ones unless all is set.
func renderEntries(f *schemafile.File, all bool) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"ID", "State", "Kind", "Version", "GCP", "Info Words"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "ID", Align: text.AlignRight},
		{Name: "Version", Align: text.AlignRight},
		{Name: "GCP", Align: text.AlignRight},
		{Name: "Info Words", Align: text.AlignRight},
	})
	t.SetRowPainter(func(row table.Row) text.Colors {
		if s, ok := row[1].(schemafile.TableState); ok && s.Incomplete() {
			return text.Colors{text.FgYellow}
		}
		return nil
	})
	live := 0
	f.ForEach(func(id uint32, e *schemafile.Entry) bool {
		if e.State == schemafile.Init || (!all && !e.Exists()) {
			return true
		}
		if e.Exists() {
			live++
		}
		t.AppendRow(table.Row{id, e.State, e.Kind, e.Version, e.GCP, e.InfoWords})
		return true
	})
	t.AppendFooter(table.Row{"", "live", live, "", "capacity", f.Capacity()})
	return t.Render()
}
