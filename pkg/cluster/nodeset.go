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

package cluster

import (
	"strconv"
	"strings"

	"github.com/bits-and-blooms/bitset"
)

// NodeID identifies a cluster node. Valid ids are 1..MaxNodes.
type NodeID uint32

// MaxNodes is the highest node id.
const MaxNodes = 64

// InvalidNodeID is the zero NodeID; it never names a node.
const InvalidNodeID NodeID = 0

// NodeSet is a set of node ids.
type NodeSet struct {
	bits *bitset.BitSet
}

// NewNodeSet returns a set holding ids.
func NewNodeSet(ids ...NodeID) *NodeSet {
	s := &NodeSet{bits: bitset.New(MaxNodes + 1)}
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add adds id to s.
func (s *NodeSet) Add(id NodeID) {
	s.bits.Set(uint(id))
}

// Remove removes id from s.
func (s *NodeSet) Remove(id NodeID) {
	s.bits.Clear(uint(id))
}

// Contains reports whether id is in s.
func (s *NodeSet) Contains(id NodeID) bool {
	return s.bits.Test(uint(id))
}

// Len returns the number of ids in s.
func (s *NodeSet) Len() int {
	return int(s.bits.Count())
}

// IsEmpty reports whether s has no ids.
func (s *NodeSet) IsEmpty() bool {
	return s.bits.None()
}

// Clone returns a copy of s.
func (s *NodeSet) Clone() *NodeSet {
	return &NodeSet{bits: s.bits.Clone()}
}

// Equal reports whether s and o hold the same ids.
func (s *NodeSet) Equal(o *NodeSet) bool {
	return s.bits.Equal(o.bits)
}

// Lowest returns the smallest id in s.
func (s *NodeSet) Lowest() (NodeID, bool) {
	i, ok := s.bits.NextSet(0)
	return NodeID(i), ok
}

// IDs returns the ids of s in ascending order.
func (s *NodeSet) IDs() []NodeID {
	ids := make([]NodeID, 0, s.Len())
	for i, ok := s.bits.NextSet(0); ok; i, ok = s.bits.NextSet(i + 1) {
		ids = append(ids, NodeID(i))
	}
	return ids
}

// String implements fmt.Stringer interface.
func (s *NodeSet) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, id := range s.IDs() {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(int(id)))
	}
	sb.WriteByte(']')
	return sb.String()
}
