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
	"bytes"
	"encoding/binary"

	"github.com/pingcap/errors"
)

// File is one logical copy of the schema file: an ordered list of pages holding
// one entry per object id.
type File struct {
	pages      []*Page
	entryCount uint32
}

// NewFile creates a file able to address entryCount object ids. Every entry is Init.
func NewFile(entryCount uint32) *File {
	f := &File{}
	f.grow(pagesFor(entryCount))
	f.entryCount = entryCount
	return f
}

func pagesFor(entryCount uint32) int {
	n := (int(entryCount) + EntriesPerPage - 1) / EntriesPerPage
	if n == 0 {
		n = 1
	}
	return n
}

func (f *File) grow(noOfPages int) {
	for len(f.pages) < noOfPages {
		f.pages = append(f.pages, newPage(uint32(len(f.pages))))
	}
}

// NoOfPages returns the number of pages in f.
func (f *File) NoOfPages() int {
	return len(f.pages)
}

// Capacity returns the number of addressable object ids.
func (f *File) Capacity() uint32 {
	return uint32(len(f.pages) * EntriesPerPage)
}

// EntryCount returns the logical number of entries recorded in the page headers.
func (f *File) EntryCount() uint32 {
	return f.entryCount
}

// PageOf returns the page number holding the entry of id.
func PageOf(id uint32) int {
	return int(id) / EntriesPerPage
}

// Entry returns the entry of id. Callers must Resize first when id is beyond Capacity.
func (f *File) Entry(id uint32) (*Entry, error) {
	if id >= f.Capacity() {
		return nil, ErrIndexOutOfRange.GenWithStackByArgs(id)
	}
	return &f.pages[PageOf(id)].Entries[int(id)%EntriesPerPage], nil
}

// Page returns page n.
func (f *File) Page(n int) *Page {
	return f.pages[n]
}

// Resize changes the number of addressable entries. Growing adds initialized pages.
// Shrinking fails with ErrObjectsStillLive, leaving f unchanged, if any entry at or
// beyond the new bound still exists.
func (f *File) Resize(entryCount uint32) error {
	capacity := f.Capacity()
	if entryCount < capacity {
		for id := entryCount; id < capacity; id++ {
			e, _ := f.Entry(id)
			if e.Exists() {
				return ErrObjectsStillLive.GenWithStackByArgs(id)
			}
		}
	}
	newPages := pagesFor(entryCount)
	if newPages > len(f.pages) {
		f.grow(newPages)
	} else {
		f.pages = f.pages[:newPages]
	}
	f.entryCount = entryCount
	return nil
}

// Extend raises the entry count to entryCount, adding pages when needed. It never
// shrinks f and reports whether the entry count changed.
func (f *File) Extend(entryCount uint32) bool {
	if entryCount <= f.entryCount {
		return false
	}
	f.grow(pagesFor(entryCount))
	f.entryCount = entryCount
	return true
}

// MaxLiveID returns the highest id whose entry exists, or -1.
func (f *File) MaxLiveID() int64 {
	for id := int64(f.Capacity()) - 1; id >= 0; id-- {
		e, _ := f.Entry(uint32(id))
		if e.Exists() {
			return id
		}
	}
	return -1
}

// ForEach calls fn for every entry in id order until fn returns false.
func (f *File) ForEach(fn func(id uint32, e *Entry) bool) {
	for id := uint32(0); id < f.Capacity(); id++ {
		e, _ := f.Entry(id)
		if !fn(id, e) {
			return
		}
	}
}

// Clone returns a deep copy of f.
func (f *File) Clone() *File {
	c := &File{entryCount: f.entryCount, pages: make([]*Page, len(f.pages))}
	for i, p := range f.pages {
		cp := *p
		c.pages[i] = &cp
	}
	return c
}

func (f *File) refreshHeaders() {
	size := uint32(len(f.pages) * PageSize)
	for i, p := range f.pages {
		p.Header.Magic = magic
		p.Header.ByteOrder = ByteOrderMark
		p.Header.FormatVersion = FormatVersion
		p.Header.FileSize = size
		p.Header.PageNumber = uint32(i)
		p.Header.EntryCount = f.entryCount
		p.UpdateChecksum()
	}
}

// EncodePages refreshes headers and checksums and returns the bytes of count pages
// starting at first.
func (f *File) EncodePages(first, count int) []byte {
	f.refreshHeaders()
	buf := make([]byte, count*PageSize)
	for i := 0; i < count; i++ {
		f.pages[first+i].encode(buf[i*PageSize:])
	}
	return buf
}

// Encode returns the bytes of the whole file.
func (f *File) Encode() []byte {
	return f.EncodePages(0, len(f.pages))
}

// Equal reports whether f and o encode to the same bytes.
func (f *File) Equal(o *File) bool {
	return bytes.Equal(f.Encode(), o.Encode())
}

// DecodeFile parses a schema file image. It validates every page and upgrades older
// formats into the current layout; upgraded reports whether that happened.
func DecodeFile(data []byte) (f *File, upgraded bool, err error) {
	if len(data) == 0 || len(data)%PageSize != 0 {
		return nil, false, ErrSchemaFileCorrupt.GenWithStackByArgs("bad file size ", len(data))
	}
	var order binary.ByteOrder = binary.LittleEndian
	switch binary.LittleEndian.Uint32(data[hdrByteOrder*4:]) {
	case ByteOrderMark:
	case swappedByteOrderMark:
		order = binary.BigEndian
	default:
		return nil, false, ErrSchemaFileCorrupt.GenWithStackByArgs("bad byte order mark")
	}

	noOfPages := len(data) / PageSize
	pageWords := make([][]uint32, noOfPages)
	var version uint32
	for i := 0; i < noOfPages; i++ {
		w := decodeWords(data[i*PageSize:(i+1)*PageSize], order)
		if err := checkPageWords(w, i, len(data)); err != nil {
			return nil, false, err
		}
		if i == 0 {
			version = w[hdrFormatVersion]
		} else if w[hdrFormatVersion] != version {
			return nil, false, ErrSchemaFileCorrupt.GenWithStackByArgs("mixed format versions")
		}
		pageWords[i] = w
	}

	entryCount := pageWords[0][hdrEntryCount]
	switch version {
	case FormatVersion:
		f = &File{entryCount: entryCount, pages: make([]*Page, noOfPages)}
		for i, w := range pageWords {
			f.pages[i] = pageFromWords(w)
		}
		if entryCount > f.Capacity() {
			return nil, false, ErrSchemaFileCorrupt.GenWithStackByArgs("entry count exceeds file size")
		}
		return f, order != binary.LittleEndian, nil
	case formatVersionV1:
		f, err = upgradeV1(pageWords, entryCount)
		return f, true, errors.Trace(err)
	}
	return nil, false, ErrUnsupportedFormat.GenWithStackByArgs(version)
}

func checkPageWords(w []uint32, pageNo int, fileSize int) error {
	if w[hdrMagic0] != magic[0] || w[hdrMagic1] != magic[1] {
		return ErrSchemaFileCorrupt.GenWithStackByArgs("bad magic in page ", pageNo)
	}
	if fold(w) != 0 {
		return ErrSchemaFileCorrupt.GenWithStackByArgs("checksum mismatch in page ", pageNo)
	}
	if w[hdrPageNumber] != uint32(pageNo) || w[hdrFileSize] != uint32(fileSize) {
		return ErrSchemaFileCorrupt.GenWithStackByArgs("bad header in page ", pageNo)
	}
	return nil
}
