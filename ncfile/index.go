package ncfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// blockRef locates one block of a variable: Count rows starting at row Start.
type blockRef struct {
	Var    string
	Start  uint64
	Count  uint64
	Offset uint64
	Length uint32
}

type indexBuilder struct {
	entries []blockRef
}

func (ib *indexBuilder) add(ref blockRef) {
	ib.entries = append(ib.entries, ref)
}

// build serializes the index.
// Format per entry: NameLen (uint16), Name, Start, Count, Offset (uint64), Length (uint32).
func (ib *indexBuilder) build() ([]byte, uint32) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(len(ib.entries)))
	for _, e := range ib.entries {
		binary.Write(&buf, binary.LittleEndian, uint16(len(e.Var)))
		buf.WriteString(e.Var)
		binary.Write(&buf, binary.LittleEndian, e.Start)
		binary.Write(&buf, binary.LittleEndian, e.Count)
		binary.Write(&buf, binary.LittleEndian, e.Offset)
		binary.Write(&buf, binary.LittleEndian, e.Length)
	}
	data := buf.Bytes()
	return data, crc32.ChecksumIEEE(data)
}

func decodeIndex(data []byte) ([]blockRef, error) {
	r := bytes.NewReader(data)
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("%w: index count: %v", ErrCorruptFile, err)
	}
	// Each entry is at least 2+8+8+8+4 bytes.
	if int64(n)*30 > int64(len(data)) {
		return nil, fmt.Errorf("%w: index claims %d entries in %d bytes", ErrCorruptFile, n, len(data))
	}
	refs := make([]blockRef, 0, n)
	for i := uint32(0); i < n; i++ {
		var nameLen uint16
		if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
			return nil, fmt.Errorf("%w: index entry %d: %v", ErrCorruptFile, i, err)
		}
		name := make([]byte, nameLen)
		if _, err := r.Read(name); err != nil && nameLen > 0 {
			return nil, fmt.Errorf("%w: index entry %d name: %v", ErrCorruptFile, i, err)
		}
		ref := blockRef{Var: string(name)}
		for _, field := range []any{&ref.Start, &ref.Count, &ref.Offset, &ref.Length} {
			if err := binary.Read(r, binary.LittleEndian, field); err != nil {
				return nil, fmt.Errorf("%w: index entry %d: %v", ErrCorruptFile, i, err)
			}
		}
		refs = append(refs, ref)
	}
	return refs, nil
}
