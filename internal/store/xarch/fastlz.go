package xarch

import "encoding/binary"

// This file is a small internal LZ77 port in FastLZ's spirit (the
// pack has no pure-Go FastLZ binding): literal runs and
// length/distance back-references, hash-chained match search over
// 4-byte keys. It is not wire-compatible with the reference C FastLZ
// encoder — nothing in this module reads archives produced by the
// original engine — it only needs to round-trip what it itself writes.
//
// Token stream:
//   control byte, high bit 0: literal run, low 7 bits = run length - 1
//     (1..128 literal bytes follow)
//   control byte, high bit 1: back-reference, low 7 bits = length - 4
//     (length 4..131), followed by a little-endian uint16 distance
//     (1..65535 bytes back from the current output position)

const (
	minMatchLen = 4
	maxMatchLen = minMatchLen + 127
	maxDistance = 1 << 16
	hashBits    = 15
	hashSize    = 1 << hashBits
)

func hash4(b []byte) uint32 {
	v := binary.LittleEndian.Uint32(b)
	return (v * 2654435761) >> (32 - hashBits)
}

func fastlzCompress(src []byte) []byte {
	if len(src) < minMatchLen {
		return append([]byte(nil), src...)
	}

	var table [hashSize]int32
	for i := range table {
		table[i] = -1
	}

	out := make([]byte, 0, len(src))
	i := 0
	litStart := 0

	flushLiterals := func(end int) {
		for litStart < end {
			n := end - litStart
			if n > 128 {
				n = 128
			}
			out = append(out, byte(n-1))
			out = append(out, src[litStart:litStart+n]...)
			litStart += n
		}
	}

	for i+minMatchLen <= len(src) {
		h := hash4(src[i:])
		cand := table[h]
		table[h] = int32(i)

		if cand >= 0 && i-int(cand) < maxDistance && i-int(cand) > 0 && matchLen(src, int(cand), i) >= minMatchLen {
			length := matchLen(src, int(cand), i)
			if length > maxMatchLen {
				length = maxMatchLen
			}
			flushLiterals(i)
			dist := i - int(cand)
			out = append(out, 0x80|byte(length-minMatchLen))
			var d [2]byte
			binary.LittleEndian.PutUint16(d[:], uint16(dist))
			out = append(out, d[:]...)
			i += length
			litStart = i
			continue
		}
		i++
	}
	flushLiterals(len(src))
	return out
}

func matchLen(src []byte, a, b int) int {
	n := 0
	for b+n < len(src) && src[a+n] == src[b+n] && n < maxMatchLen {
		n++
	}
	return n
}

func fastlzDecompress(src []byte, decompressedSize int) ([]byte, error) {
	out := make([]byte, 0, decompressedSize)
	i := 0
	for i < len(src) {
		ctrl := src[i]
		i++
		if ctrl&0x80 == 0 {
			n := int(ctrl) + 1
			out = append(out, src[i:i+n]...)
			i += n
			continue
		}
		length := int(ctrl&0x7F) + minMatchLen
		dist := int(binary.LittleEndian.Uint16(src[i : i+2]))
		i += 2
		start := len(out) - dist
		for k := 0; k < length; k++ {
			out = append(out, out[start+k])
		}
	}
	return out, nil
}
