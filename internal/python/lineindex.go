package python

import "sort"

// LineIndex converts between byte offsets and 0-based line/column pairs for
// one revision of a file's source. Columns are byte columns, matching
// tree-sitter points for ASCII and keeping conversions allocation-free.
type LineIndex struct {
	starts []uint32 // byte offset of each line start
	size   uint32
}

// NewLineIndex scans src once and records line starts.
func NewLineIndex(src []byte) *LineIndex {
	starts := []uint32{0}
	for i, b := range src {
		if b == '\n' {
			starts = append(starts, uint32(i)+1)
		}
	}
	return &LineIndex{starts: starts, size: uint32(len(src))}
}

// Offset returns the byte offset of (line, col). Out-of-range positions are
// clamped to the file bounds.
func (ix *LineIndex) Offset(line, col uint32) uint32 {
	if int(line) >= len(ix.starts) {
		return ix.size
	}
	off := ix.starts[line] + col
	if off > ix.size {
		off = ix.size
	}
	return off
}

// Position returns the (line, col) of a byte offset.
func (ix *LineIndex) Position(offset uint32) (line, col uint32) {
	if offset > ix.size {
		offset = ix.size
	}
	i := sort.Search(len(ix.starts), func(i int) bool {
		return ix.starts[i] > offset
	}) - 1
	return uint32(i), offset - ix.starts[i]
}

// LineCount reports the number of lines, counting a trailing newline's empty
// line.
func (ix *LineIndex) LineCount() int { return len(ix.starts) }
