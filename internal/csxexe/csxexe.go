// Package csxexe implements the CSX64 Executable: a concatenated
// text/rodata/data image with a small header, produced once by the linker
// and thereafter immutable.
package csxexe

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	magic      = "CSX64exe"
	version    = uint64(1)
	headerSize = 8 + 8 + 8*4 // magic + version + four u64 segment lengths
)

// Executable is the linker's output: four segment lengths and one
// contiguous buffer holding text, rodata, and data concatenated in that
// order. bss is not stored - it is implicit zero-filled space the CPU
// allocates at load time.
type Executable struct {
	TextLen   uint64
	RodataLen uint64
	DataLen   uint64
	BssLen    uint64
	Content   []byte // text || rodata || data
}

// New constructs an Executable from its constituent segments. This is the
// only way to populate one outside of Load; the result is immutable
// thereafter.
func New(text, rodata, data []byte, bssLen uint64) *Executable {
	content := make([]byte, 0, len(text)+len(rodata)+len(data))
	content = append(content, text...)
	content = append(content, rodata...)
	content = append(content, data...)
	return &Executable{
		TextLen:   uint64(len(text)),
		RodataLen: uint64(len(rodata)),
		DataLen:   uint64(len(data)),
		BssLen:    bssLen,
		Content:   content,
	}
}

// TotalSize is the full memory footprint the CPU must allocate for this
// image, including bss.
func (e *Executable) TotalSize() uint64 {
	return e.ContentSize() + e.BssLen
}

// ContentSize is the length of the initialized portion of the image.
func (e *Executable) ContentSize() uint64 {
	return e.TextLen + e.RodataLen + e.DataLen
}

// Text, Rodata, and Data slice the appropriate region out of Content.
func (e *Executable) Text() []byte   { return e.Content[:e.TextLen] }
func (e *Executable) Rodata() []byte { return e.Content[e.TextLen : e.TextLen+e.RodataLen] }
func (e *Executable) Data() []byte {
	start := e.TextLen + e.RodataLen
	return e.Content[start : start+e.DataLen]
}

// Save writes the executable in the wire format: magic, version, four u64
// segment lengths, then text||rodata||data.
func (e *Executable) Save(w io.Writer) error {
	if _, err := io.WriteString(w, magic); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, version); err != nil {
		return err
	}
	for _, n := range []uint64{e.TextLen, e.RodataLen, e.DataLen, e.BssLen} {
		if err := binary.Write(w, binary.LittleEndian, n); err != nil {
			return err
		}
	}
	_, err := w.Write(e.Content)
	return err
}

// Load reads an executable previously written by Save.
func Load(r io.Reader) (*Executable, error) {
	gotMagic := make([]byte, len(magic))
	if _, err := io.ReadFull(r, gotMagic); err != nil {
		return nil, err
	}
	if string(gotMagic) != magic {
		return nil, fmt.Errorf("not a CSX64 executable (bad magic)")
	}

	var v uint64
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return nil, err
	}
	if v != version {
		return nil, fmt.Errorf("unsupported executable version %d", v)
	}

	e := &Executable{}
	for _, p := range []*uint64{&e.TextLen, &e.RodataLen, &e.DataLen, &e.BssLen} {
		if err := binary.Read(r, binary.LittleEndian, p); err != nil {
			return nil, err
		}
	}

	contentLen := e.TextLen + e.RodataLen + e.DataLen
	e.Content = make([]byte, contentLen)
	if _, err := io.ReadFull(r, e.Content); err != nil {
		return nil, err
	}
	return e, nil
}
