package meter

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	secCustom    = 0
	secType      = 1
	secImport    = 2
	secFunction  = 3
	secTable     = 4
	secMemory    = 5
	secGlobal    = 6
	secExport    = 7
	secStart     = 8
	secElement   = 9
	secCode      = 10
	secData      = 11
	secDataCount = 12
)

var wasmMagic = [4]byte{0x00, 0x61, 0x73, 0x6D}
var wasmVersion = [4]byte{0x01, 0x00, 0x00, 0x00}

// rawSection is an undecoded module section kept verbatim unless it is the
// one section kind this transform rewrites.
type rawSection struct {
	id      byte
	payload []byte
}

// module is the decoded shape of a WebAssembly binary sufficient to splice in
// a budget global, export it, and rewrite function bodies in the code
// section. Every other section passes through byte-for-byte.
type module struct {
	sections []rawSection

	globalCount int  // globals already declared by the module
	codeSecIdx  int  // index into sections of the code section, -1 if absent
	hasGlobal   bool // whether a global section exists
	globalSecIx int
	hasExport   bool
	exportSecIx int
}

// decodeModule parses the section framing of a WebAssembly binary. It does
// not interpret most section payloads; only the global/export/code sections
// are inspected in enough depth for the rewrite in meter.go.
func decodeModule(b []byte) (*module, error) {
	if len(b) < 8 {
		return nil, &MalformedModuleError{Reason: "input shorter than module header"}
	}
	if !bytes.Equal(b[0:4], wasmMagic[:]) {
		return nil, &MalformedModuleError{Reason: "bad magic"}
	}
	if !bytes.Equal(b[4:8], wasmVersion[:]) {
		return nil, &MalformedModuleError{Reason: "unsupported binary version"}
	}

	m := &module{codeSecIdx: -1, globalSecIx: -1, exportSecIx: -1}

	off := 8
	for off < len(b) {
		id := b[off]
		off++
		size, n, err := readVarUint32(b, off)
		if err != nil {
			return nil, &MalformedModuleError{Reason: fmt.Sprintf("section size: %v", err)}
		}
		off += n
		if off+int(size) > len(b) {
			return nil, &MalformedModuleError{Reason: "section payload runs past end of module"}
		}
		payload := b[off : off+int(size)]
		off += int(size)

		m.sections = append(m.sections, rawSection{id: id, payload: payload})
		idx := len(m.sections) - 1

		switch id {
		case secGlobal:
			m.hasGlobal = true
			m.globalSecIx = idx
			count, _, err := readVarUint32(payload, 0)
			if err != nil {
				return nil, &MalformedModuleError{Reason: fmt.Sprintf("global section count: %v", err)}
			}
			m.globalCount = int(count)
		case secExport:
			m.hasExport = true
			m.exportSecIx = idx
		case secCode:
			m.codeSecIdx = idx
		}
	}

	return m, nil
}

// encode reassembles the module byte stream from its (possibly rewritten)
// sections, in their original relative order except for any sections this
// transform appended (global/export, when the module lacked them).
func (m *module) encode() []byte {
	var buf bytes.Buffer
	buf.Write(wasmMagic[:])
	buf.Write(wasmVersion[:])
	for _, s := range m.sections {
		buf.WriteByte(s.id)
		buf.Write(putVarUint32(nil, uint32(len(s.payload))))
		buf.Write(s.payload)
	}
	return buf.Bytes()
}

// insertSectionInOrder inserts a brand-new section (one the source module
// lacked) at the position mandated by the WebAssembly binary format's fixed
// section ordering (custom sections aside).
func (m *module) insertSectionInOrder(id byte, payload []byte) int {
	pos := len(m.sections)
	for i, s := range m.sections {
		if s.id != secCustom && s.id > id {
			pos = i
			break
		}
	}
	sec := rawSection{id: id, payload: payload}
	m.sections = append(m.sections, rawSection{})
	copy(m.sections[pos+1:], m.sections[pos:])
	m.sections[pos] = sec
	return pos
}

// leUint32 encodes v as four little-endian bytes. Nothing in the package
// calls it at present.
func leUint32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}
