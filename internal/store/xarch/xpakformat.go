// Package xarch implements the packed-archive (XPAK) binary format and
// the archive-cache intermediate-store backing file, both built on a
// shared in-file spanning-heap allocator (internal/alloc.SpanHeap).
package xarch

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/cespare/xxhash/v2"
)

const (
	magicXPAK = 0x5041_4B58 // little-endian bytes "XPAK"
	version0  = 0

	headerSize    = 4 + 4 + 4 + 8 + 8 + 8 + 8*8
	fileEntrySize = 8 + 8 + 8 + 8 + 4 + 4
)

// FileEntry is one packed-archive record. Flags is reserved (always 0
// in this implementation) but kept for wire-format fidelity.
type FileEntry struct {
	Offset           uint64
	CompressedSize   uint64
	DecompressedSize uint64
	ContentsHash     uint64
	StringTableOff   uint32
	Flags            uint32
	Name             string
}

// Reader provides read-only, hash-indexed access to a packed-archive
// file. Offsets into the payload region are resolved lazily so opening
// a large archive is cheap.
type Reader struct {
	f           *os.File
	entries     []FileEntry
	hashTable   []uint64 // sorted ascending, parallel to entries
}

// Open parses an XPAK file's header, entry table, hash table and
// string table, validating bounds as it goes (the format's "bounded
// parallel arrays" requirement).
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := openFile(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func openFile(f *os.File) (*Reader, error) {
	hdr := make([]byte, headerSize)
	if _, err := io.ReadFull(f, hdr); err != nil {
		return nil, fmt.Errorf("xarch: reading header: %w", err)
	}
	magic := binary.LittleEndian.Uint32(hdr[0:4])
	if magic != magicXPAK {
		return nil, errors.New("xarch: bad magic, not an XPAK file")
	}
	version := binary.LittleEndian.Uint32(hdr[4:8])
	if version != version0 {
		return nil, fmt.Errorf("xarch: unsupported version %d", version)
	}
	fileCount := binary.LittleEndian.Uint32(hdr[8:12])
	entriesOffset := binary.LittleEndian.Uint64(hdr[12:20])
	hashTableOffset := binary.LittleEndian.Uint64(hdr[20:28])
	stringTableOffset := binary.LittleEndian.Uint64(hdr[28:36])

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := uint64(info.Size())
	if entriesOffset > size || hashTableOffset > size || stringTableOffset > size {
		return nil, errors.New("xarch: table offset out of bounds")
	}

	entries := make([]FileEntry, fileCount)
	if fileCount > 0 {
		buf := make([]byte, uint64(fileCount)*fileEntrySize)
		if _, err := f.ReadAt(buf, int64(entriesOffset)); err != nil {
			return nil, fmt.Errorf("xarch: reading file entries: %w", err)
		}
		for i := uint32(0); i < fileCount; i++ {
			b := buf[i*fileEntrySize:]
			entries[i] = FileEntry{
				Offset:           binary.LittleEndian.Uint64(b[0:8]),
				CompressedSize:   binary.LittleEndian.Uint64(b[8:16]),
				DecompressedSize: binary.LittleEndian.Uint64(b[16:24]),
				ContentsHash:     binary.LittleEndian.Uint64(b[24:32]),
				StringTableOff:   binary.LittleEndian.Uint32(b[32:36]),
				Flags:            binary.LittleEndian.Uint32(b[36:40]),
			}
		}
	}

	hashTable := make([]uint64, fileCount)
	if fileCount > 0 {
		buf := make([]byte, uint64(fileCount)*8)
		if _, err := f.ReadAt(buf, int64(hashTableOffset)); err != nil {
			return nil, fmt.Errorf("xarch: reading hash table: %w", err)
		}
		for i := uint32(0); i < fileCount; i++ {
			hashTable[i] = binary.LittleEndian.Uint64(buf[i*8:])
		}
	}
	if !sort.SliceIsSorted(hashTable, func(i, j int) bool { return hashTable[i] < hashTable[j] }) {
		return nil, errors.New("xarch: hash table is not sorted ascending")
	}

	stringTable, err := io.ReadAll(io.NewSectionReader(f, int64(stringTableOffset), int64(size-stringTableOffset)))
	if err != nil {
		return nil, fmt.Errorf("xarch: reading string table: %w", err)
	}
	for i := range entries {
		entries[i].Name = readCString(stringTable, entries[i].StringTableOff)
	}

	return &Reader{f: f, entries: entries, hashTable: hashTable}, nil
}

func readCString(table []byte, offset uint32) string {
	if int(offset) >= len(table) {
		return ""
	}
	end := offset
	for int(end) < len(table) && table[end] != 0 {
		end++
	}
	return string(table[offset:end])
}

// Close releases the underlying file handle.
func (r *Reader) Close() error { return r.f.Close() }

// Lookup binary-searches the sorted hash table for nameHash, returning
// the matching entry in O(log n).
func (r *Reader) Lookup(nameHash uint64) (FileEntry, bool) {
	i := sort.Search(len(r.hashTable), func(i int) bool { return r.hashTable[i] >= nameHash })
	if i < len(r.hashTable) && r.hashTable[i] == nameHash {
		return r.entries[i], true
	}
	return FileEntry{}, false
}

// Entries returns every file entry, for enumeration (FindFiles).
func (r *Reader) Entries() []FileEntry { return r.entries }

// ReadPayload returns the decompressed bytes for e, decompressing with
// FastLZ (see fastlz.go) iff CompressedSize < DecompressedSize.
func (r *Reader) ReadPayload(e FileEntry) ([]byte, error) {
	raw := make([]byte, e.CompressedSize)
	if _, err := r.f.ReadAt(raw, int64(e.Offset)); err != nil {
		return nil, fmt.Errorf("xarch: reading payload for %q: %w", e.Name, err)
	}
	if e.CompressedSize == e.DecompressedSize {
		return raw, nil
	}
	out, err := fastlzDecompress(raw, int(e.DecompressedSize))
	if err != nil {
		return nil, fmt.Errorf("xarch: decompressing payload for %q: %w", e.Name, err)
	}
	if xxhash.Sum64(out) != e.ContentsHash {
		return nil, fmt.Errorf("xarch: contents hash mismatch for %q", e.Name)
	}
	return out, nil
}

// HashName computes the 64-bit path hash used as the hash-table key,
// matching the archive's filename rules (callers pass an
// already-normalized name).
func HashName(name string) uint64 {
	return xxhash.Sum64String(name)
}

// WriteEntry is the writer-side input for building a new archive.
type WriteEntry struct {
	Name string
	Data []byte
}

// Write serializes entries into a new XPAK file at path, compressing
// each payload with FastLZ when doing so is smaller, sorting the hash
// table ascending as the format requires.
func Write(path string, entries []WriteEntry) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)

	type built struct {
		FileEntry
	}
	names := make([]byte, 0, 256)
	stringOffsets := make([]uint32, len(entries))
	for i, e := range entries {
		stringOffsets[i] = uint32(len(names))
		names = append(names, e.Name...)
		names = append(names, 0)
	}

	built_ := make([]built, len(entries))
	payloads := make([][]byte, len(entries))
	for i, e := range entries {
		compressed := fastlzCompress(e.Data)
		payload := compressed
		compressedSize := uint64(len(compressed))
		if len(compressed) >= len(e.Data) {
			payload = e.Data
			compressedSize = uint64(len(e.Data))
		}
		payloads[i] = payload
		built_[i] = built{FileEntry{
			DecompressedSize: uint64(len(e.Data)),
			CompressedSize:   compressedSize,
			ContentsHash:     xxhash.Sum64(e.Data),
			StringTableOff:   stringOffsets[i],
			Name:             e.Name,
		}}
	}

	fileCount := uint32(len(entries))
	entriesOffset := uint64(headerSize)
	hashTableOffset := entriesOffset + uint64(fileCount)*fileEntrySize
	stringTableOffset := hashTableOffset + uint64(fileCount)*8
	payloadStart := stringTableOffset + uint64(len(names))

	offset := payloadStart
	for i := range built_ {
		built_[i].Offset = offset
		offset += uint64(len(payloads[i]))
	}

	hdr := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(hdr[0:4], magicXPAK)
	binary.LittleEndian.PutUint32(hdr[4:8], version0)
	binary.LittleEndian.PutUint32(hdr[8:12], fileCount)
	binary.LittleEndian.PutUint64(hdr[12:20], entriesOffset)
	binary.LittleEndian.PutUint64(hdr[20:28], hashTableOffset)
	binary.LittleEndian.PutUint64(hdr[28:36], stringTableOffset)
	if _, err := w.Write(hdr); err != nil {
		return err
	}

	order := make([]int, len(entries))
	for i := range order {
		order[i] = i
	}
	hashes := make([]uint64, len(entries))
	for i, e := range entries {
		hashes[i] = HashName(e.Name)
	}
	sort.Slice(order, func(i, j int) bool { return hashes[order[i]] < hashes[order[j]] })

	for _, idx := range order {
		e := built_[idx].FileEntry
		b := make([]byte, fileEntrySize)
		binary.LittleEndian.PutUint64(b[0:8], e.Offset)
		binary.LittleEndian.PutUint64(b[8:16], e.CompressedSize)
		binary.LittleEndian.PutUint64(b[16:24], e.DecompressedSize)
		binary.LittleEndian.PutUint64(b[24:32], e.ContentsHash)
		binary.LittleEndian.PutUint32(b[32:36], e.StringTableOff)
		binary.LittleEndian.PutUint32(b[36:40], e.Flags)
		if _, err := w.Write(b); err != nil {
			return err
		}
	}
	for _, idx := range order {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], hashes[idx])
		if _, err := w.Write(b[:]); err != nil {
			return err
		}
	}
	if _, err := w.Write(names); err != nil {
		return err
	}
	for _, p := range payloads {
		if _, err := w.Write(p); err != nil {
			return err
		}
	}

	return w.Flush()
}
