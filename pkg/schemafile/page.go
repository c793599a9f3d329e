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

package schemafile

import (
	"encoding/binary"
)

const (
	// PageSize is the size in bytes of one schema file page.
	PageSize = 4096
	// WordsPerPage is the number of 32 bit words in one page.
	WordsPerPage = PageSize / 4
	// HeaderWords is the size of the page header in words.
	HeaderWords = 8
	// EntryWords is the size of one entry in words.
	EntryWords = 8
	// EntriesPerPage is the number of entries stored in one page.
	EntriesPerPage = (WordsPerPage - HeaderWords) / EntryWords

	// FormatVersion is the format written by this package.
	FormatVersion uint32 = 2
	// ByteOrderMark is stored in every page to detect the writer's byte order.
	ByteOrderMark uint32 = 0x12345678

	swappedByteOrderMark uint32 = 0x78563412
)

// Header word offsets.
const (
	hdrMagic0 = iota
	hdrMagic1
	hdrByteOrder
	hdrFormatVersion
	hdrFileSize
	hdrPageNumber
	hdrChecksum
	hdrEntryCount
)

var magic = [2]uint32{
	binary.LittleEndian.Uint32([]byte("NDBS")),
	binary.LittleEndian.Uint32([]byte("CHMA")),
}

// PageHeader is the fixed header at the start of every page.
type PageHeader struct {
	Magic         [2]uint32
	ByteOrder     uint32
	FormatVersion uint32
	FileSize      uint32
	PageNumber    uint32
	Checksum      uint32
	EntryCount    uint32
}

// Page is one fixed-size page of a schema file.
type Page struct {
	Header  PageHeader
	Entries [EntriesPerPage]Entry
}

func newPage(pageNo uint32) *Page {
	return &Page{
		Header: PageHeader{
			Magic:         magic,
			ByteOrder:     ByteOrderMark,
			FormatVersion: FormatVersion,
			PageNumber:    pageNo,
		},
	}
}

func (p *Page) words() []uint32 {
	w := make([]uint32, WordsPerPage)
	h := &p.Header
	w[hdrMagic0] = h.Magic[0]
	w[hdrMagic1] = h.Magic[1]
	w[hdrByteOrder] = h.ByteOrder
	w[hdrFormatVersion] = h.FormatVersion
	w[hdrFileSize] = h.FileSize
	w[hdrPageNumber] = h.PageNumber
	w[hdrChecksum] = h.Checksum
	w[hdrEntryCount] = h.EntryCount
	for i := range p.Entries {
		e := &p.Entries[i]
		off := HeaderWords + i*EntryWords
		w[off] = uint32(e.State)
		w[off+1] = e.Version
		w[off+2] = uint32(e.Kind)
		w[off+3] = e.InfoWords
		w[off+4] = e.GCP
		w[off+5] = e.parent
		copy(w[off+6:off+8], e.reserved[:])
	}
	return w
}

func pageFromWords(w []uint32) *Page {
	p := &Page{}
	p.Header = PageHeader{
		Magic:         [2]uint32{w[hdrMagic0], w[hdrMagic1]},
		ByteOrder:     w[hdrByteOrder],
		FormatVersion: w[hdrFormatVersion],
		FileSize:      w[hdrFileSize],
		PageNumber:    w[hdrPageNumber],
		Checksum:      w[hdrChecksum],
		EntryCount:    w[hdrEntryCount],
	}
	for i := range p.Entries {
		off := HeaderWords + i*EntryWords
		e := &p.Entries[i]
		e.State = TableState(w[off])
		e.Version = w[off+1]
		e.Kind = ObjectKind(w[off+2])
		e.InfoWords = w[off+3]
		e.GCP = w[off+4]
		e.parent = w[off+5]
		copy(e.reserved[:], w[off+6:off+8])
	}
	return p
}

func fold(words []uint32) uint32 {
	var x uint32
	for _, w := range words {
		x ^= w
	}
	return x
}

// ComputeChecksum returns the XOR fold of all words of p with the checksum word taken as zero.
func ComputeChecksum(p *Page) uint32 {
	w := p.words()
	w[hdrChecksum] = 0
	return fold(w)
}

// Validate reports whether all words of p, stored checksum included, fold to zero.
func Validate(p *Page) bool {
	return fold(p.words()) == 0
}

// UpdateChecksum stores the checksum of p in its header.
func (p *Page) UpdateChecksum() {
	p.Header.Checksum = ComputeChecksum(p)
}

func (p *Page) encode(buf []byte) {
	for i, v := range p.words() {
		binary.LittleEndian.PutUint32(buf[i*4:], v)
	}
}

func decodeWords(buf []byte, order binary.ByteOrder) []uint32 {
	w := make([]uint32, len(buf)/4)
	for i := range w {
		w[i] = order.Uint32(buf[i*4:])
	}
	return w
}
