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
	"github.com/pingcap/errors"
	"github.com/pingcap/schemadict/pkg/config"
	"github.com/pingcap/schemadict/pkg/schemafile"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func newUpgradeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "upgrade",
		Short: "Rewrite the schema files of one node in the current format, repairing bad replicas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return upgradeStore(cmd, afero.NewOsFs(), config.GetGlobalConfig().DataDir)
		},
	}
}

// upgradeStore loads both copies under dir. Loading rewrites every replica that is
// in an older format or was unreadable.
func upgradeStore(cmd *cobra.Command, fs afero.Fs, dir string) error {
	store := schemafile.NewStore(fs, dir)
	for _, c := range []schemafile.CopyID{schemafile.Current, schemafile.Old} {
		if err := store.Load(c); err != nil {
			return errors.Annotatef(err, "load %s copy", c)
		}
		f := store.File(c)
		printf(cmd, "%s copy: %d entries, %d pages\n", c, f.EntryCount(), f.NoOfPages())
	}
	return nil
}
