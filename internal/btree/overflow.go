package btree

import (
	"bytes"
	"encoding/binary"

	"github.com/alexhholmes/slotdb/internal/base"
	"github.com/alexhholmes/slotdb/normal"
)

// Overflow layout
//
// A key longer than MaxLookupKeyLength, or a key whose data does not fit a
// slot, is stored as:
//
//	lookup key                              -> info record (FlagOverflow)
//	[0x02][lookup key][sequence][index]     -> data chunk
//	[0x01][lookup key][sequence][index]     -> key remainder chunk
//
// Sequence numbers separate full keys sharing the same lookup key. Data
// chunk 0 always exists, even for empty data, and marks a sequence as live.
// Sequence and index use the sign-biased big-endian integer encoding, so all
// chunks of one sequence sort together by index.

const infoSize = 16

// overflowInfo is the record stored under a lookup key with chunked entries
type overflowInfo struct {
	count int64 // live sequences
	next  int64 // next never-used sequence
}

func (o overflowInfo) encode() []byte {
	buf := make([]byte, infoSize)
	binary.LittleEndian.PutUint64(buf[0:], uint64(o.count))
	binary.LittleEndian.PutUint64(buf[8:], uint64(o.next))
	return buf
}

func decodeInfo(h base.Handle, b []byte) (overflowInfo, error) {
	if len(b) != infoSize {
		return overflowInfo{}, corrupt(h, "overflow", "info record of %d bytes", len(b))
	}
	return overflowInfo{
		count: int64(binary.LittleEndian.Uint64(b[0:])),
		next:  int64(binary.LittleEndian.Uint64(b[8:])),
	}, nil
}

// splitKey trims key to the lookup key length and returns the rest
func splitKey(key []byte) ([]byte, []byte) {
	if len(key) <= MaxLookupKeyLength {
		return key, nil
	}
	return key[:MaxLookupKeyLength], key[MaxLookupKeyLength:]
}

func chunkKey(marker byte, trimmed []byte, seq int64, idx int32) []byte {
	k := make([]byte, 0, len(trimmed)+ChunkKeyOverhead)
	k = append(k, marker)
	k = append(k, trimmed...)
	k = normal.AppendInt64(k, seq)
	return normal.AppendInt32(k, idx)
}

func isChunkKey(key []byte) bool {
	return len(key) > 0 && (key[0] == markerKeyChunk || key[0] == markerDataChunk)
}

func split(b []byte, size int) [][]byte {
	var out [][]byte
	for len(b) > size {
		out = append(out, b[:size])
		b = b[size:]
	}
	if len(b) > 0 {
		out = append(out, b)
	}
	return out
}

// findPlain looks up a single slot entry. The returned data is a copy.
func (t *Tree) findPlain(key []byte) ([]byte, uint8, bool, error) {
	_, leaf, err := t.find(key)
	if err != nil {
		return nil, 0, false, err
	}
	i, found := leaf.Search(key)
	if !found {
		return nil, 0, false, nil
	}
	return bytes.Clone(leaf.Data(i)), leaf.Flags(i), true, nil
}

func (t *Tree) sequenceLive(trimmed []byte, seq int64) (bool, error) {
	_, _, ok, err := t.findPlain(chunkKey(markerDataChunk, trimmed, seq, 0))
	return ok, err
}

// readChunks concatenates the chunk run of one sequence
func (t *Tree) readChunks(marker byte, trimmed []byte, seq int64) ([]byte, error) {
	out := []byte{}
	for idx := int32(0); ; idx++ {
		data, _, ok, err := t.findPlain(chunkKey(marker, trimmed, seq, idx))
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, data...)
	}
}

// findOverflow scans the live sequences of trimmed for the one whose key
// remainder equals rem.
func (t *Tree) findOverflow(trimmed, rem []byte, info overflowInfo) (int64, bool, error) {
	for seq := int64(0); seq < info.next; seq++ {
		live, err := t.sequenceLive(trimmed, seq)
		if err != nil {
			return 0, false, err
		}
		if !live {
			continue
		}
		r, err := t.readChunks(markerKeyChunk, trimmed, seq)
		if err != nil {
			return 0, false, err
		}
		if bytes.Equal(r, rem) {
			return seq, true, nil
		}
	}
	return 0, false, nil
}

// allocateSequence reuses the first sequence freed by a removal, or hands
// out the next unused one.
func (t *Tree) allocateSequence(trimmed []byte, info overflowInfo) (int64, error) {
	if info.count < info.next {
		for seq := int64(0); seq < info.next; seq++ {
			live, err := t.sequenceLive(trimmed, seq)
			if err != nil {
				return 0, err
			}
			if !live {
				return seq, nil
			}
		}
	}
	if info.next >= t.maxSequence {
		return 0, ErrSequenceExhausted
	}
	return info.next, nil
}

// writeChunks stores data and remainder chunks of one sequence. Data chunks
// go in by descending index so a later chunk never becomes a new page
// maximum behind an earlier one.
func (t *Tree) writeChunks(trimmed []byte, seq int64, rem, data []byte) error {
	dataChunks := split(data, MaxDataLength)
	if len(dataChunks) == 0 {
		dataChunks = [][]byte{{}}
	}
	runs := []struct {
		marker byte
		chunks [][]byte
	}{
		{markerDataChunk, dataChunks},
		{markerKeyChunk, split(rem, MaxDataLength)},
	}

	for _, run := range runs {
		for idx := len(run.chunks) - 1; idx >= 0; idx-- {
			key := chunkKey(run.marker, trimmed, seq, int32(idx))
			ok, err := t.insertPlain(key, run.chunks[idx], 0)
			if err != nil {
				return err
			}
			if !ok {
				return corrupt(t.root, "overflow", "chunk %d of sequence %d already present", idx, seq)
			}
		}
	}
	return nil
}

// removeChunks deletes a chunk run by ascending index until one is missing
func (t *Tree) removeChunks(marker byte, trimmed []byte, seq int64) error {
	for idx := int32(0); ; idx++ {
		ok, err := t.removeEntry(chunkKey(marker, trimmed, seq, idx))
		if err != nil || !ok {
			return err
		}
	}
}

// putInfo writes the info record under trimmed, replacing a plain entry or
// an older record when present.
func (t *Tree) putInfo(trimmed []byte, info overflowInfo) error {
	tb, leaf, err := t.findWithPreemptiveSplit(trimmed)
	if err != nil {
		return err
	}
	enc := info.encode()
	i, found := leaf.Search(trimmed)
	if !found {
		return t.writeEntry(tb, leaf, trimmed, enc, base.FlagOverflow)
	}

	leaf.SetFlags(i, base.FlagOverflow)
	if leaf.SetData(i, enc) {
		if err := t.save(leaf.Page()); err != nil {
			return err
		}
		// A plain value moving out to chunks can leave the leaf underfilled
		if tb.IsTop() || !leaf.Underflow() {
			return nil
		}
		if err := t.balance(tb, leaf); err != nil {
			return err
		}
		return t.collapseRoot()
	}
	key := bytes.Clone(trimmed)
	leaf.Remove(i)
	return t.writeEntry(tb, leaf, key, enc, base.FlagOverflow)
}

func (t *Tree) insertOverflow(key, data []byte) (bool, error) {
	trimmed, rem := splitKey(key)
	trimmed = bytes.Clone(trimmed)

	var info overflowInfo
	existing, flags, found, err := t.findPlain(trimmed)
	if err != nil {
		return false, err
	}

	switch {
	case found && flags&base.FlagOverflow == 0:
		if len(rem) == 0 {
			return false, nil
		}
		// The plain entry becomes sequence 0 so both keys can share the prefix
		if err := t.writeChunks(trimmed, 0, nil, existing); err != nil {
			return false, err
		}
		info = overflowInfo{count: 1, next: 1}
	case found:
		if info, err = decodeInfo(t.root, existing); err != nil {
			return false, err
		}
		_, dup, err := t.findOverflow(trimmed, rem, info)
		if err != nil || dup {
			return false, err
		}
	}

	seq, err := t.allocateSequence(trimmed, info)
	if err != nil {
		return false, err
	}
	if err := t.writeChunks(trimmed, seq, rem, data); err != nil {
		return false, err
	}

	info.count++
	if seq == info.next {
		info.next++
	}
	return true, t.putInfo(trimmed, info)
}

func (t *Tree) removeOverflow(trimmed, rem []byte, info overflowInfo) (bool, error) {
	trimmed = bytes.Clone(trimmed)
	seq, ok, err := t.findOverflow(trimmed, rem, info)
	if err != nil || !ok {
		return false, err
	}

	if err := t.removeChunks(markerDataChunk, trimmed, seq); err != nil {
		return false, err
	}
	if err := t.removeChunks(markerKeyChunk, trimmed, seq); err != nil {
		return false, err
	}

	info.count--
	if info.count == 0 {
		ok, err := t.removeEntry(trimmed)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, corrupt(t.root, "overflow", "info record vanished")
		}
		return true, nil
	}
	return true, t.putInfo(trimmed, info)
}

// TryFind returns a copy of the data stored under key
func (t *Tree) TryFind(key []byte) ([]byte, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, err
	}
	trimmed, rem := splitKey(key)

	data, flags, found, err := t.findPlain(trimmed)
	if err != nil || !found {
		return nil, false, err
	}
	if flags&base.FlagOverflow == 0 {
		if len(rem) > 0 {
			return nil, false, nil
		}
		return data, true, nil
	}

	info, err := decodeInfo(t.root, data)
	if err != nil {
		return nil, false, err
	}
	seq, ok, err := t.findOverflow(trimmed, rem, info)
	if err != nil || !ok {
		return nil, false, err
	}
	data, err = t.readChunks(markerDataChunk, trimmed, seq)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}
