// Package artifact inspects raw WebAssembly bytes without compiling them:
// discriminating module vs. component encoding, and locating custom
// sections (used by the claims extractor to find the embedded token).
package artifact

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Encoding distinguishes the two WebAssembly binary encodings this host
// understands.
type Encoding uint8

const (
	// EncodingModule is the classic linear-memory Wasm module encoding.
	EncodingModule Encoding = iota
	// EncodingComponent is the component-model encoding.
	EncodingComponent
)

func (e Encoding) String() string {
	if e == EncodingComponent {
		return "component"
	}
	return "module"
}

var magic = [4]byte{0x00, 0x61, 0x73, 0x6D} // "\0asm"

// Detect peeks the 8-byte Wasm preamble (4-byte magic, 2-byte version,
// 2-byte layer) to tell a component-encoded artifact from a module.
// Any anomaly in the bytes falls through to EncodingModule; malformed
// input is left for the module backend's stricter loader to reject, per
// design note §9 of the spec this implements.
func Detect(wasm []byte) Encoding {
	if len(wasm) < 8 || [4]byte(wasm[:4]) != magic {
		return EncodingModule
	}
	// version is bytes[4:6], layer is bytes[6:8] (both little-endian u16).
	// Core modules encode layer 0x0000; components encode layer 0x0001.
	layer := binary.LittleEndian.Uint16(wasm[6:8])
	if layer == 0x0001 {
		return EncodingComponent
	}
	return EncodingModule
}

// ErrSectionNotFound is returned by FindCustomSection when no custom
// section with the requested name exists in the artifact. This is not
// itself a load failure — callers decide what an absent section means.
var ErrSectionNotFound = errors.New("artifact: custom section not found")

// FindCustomSection walks the top-level sections of a core Wasm module
// and returns the payload of the first custom section (id 0) whose
// embedded name matches name. It does not recurse into nested sections
// and makes no attempt to validate anything but the section framing
// itself — full validation is the module/component backend's job.
func FindCustomSection(wasm []byte, name string) ([]byte, error) {
	if len(wasm) < 8 || [4]byte(wasm[:4]) != magic {
		return nil, fmt.Errorf("artifact: not a Wasm binary")
	}
	buf := wasm[8:]
	for len(buf) > 0 {
		id := buf[0]
		buf = buf[1:]
		size, n, err := readVarUint32(buf)
		if err != nil {
			return nil, fmt.Errorf("artifact: reading section size: %w", err)
		}
		buf = buf[n:]
		if uint32(len(buf)) < size {
			return nil, fmt.Errorf("artifact: truncated section")
		}
		body := buf[:size]
		buf = buf[size:]

		if id != 0 {
			continue
		}
		secName, rest, err := readName(body)
		if err != nil {
			return nil, fmt.Errorf("artifact: reading custom section name: %w", err)
		}
		if secName == name {
			return rest, nil
		}
	}
	return nil, ErrSectionNotFound
}

func readName(b []byte) (string, []byte, error) {
	size, n, err := readVarUint32(b)
	if err != nil {
		return "", nil, err
	}
	b = b[n:]
	if uint32(len(b)) < size {
		return "", nil, fmt.Errorf("artifact: truncated name")
	}
	return string(b[:size]), b[size:], nil
}

// readVarUint32 decodes a LEB128-encoded unsigned 32-bit integer,
// returning the value and the number of bytes consumed.
func readVarUint32(b []byte) (uint32, int, error) {
	var result uint32
	var shift uint
	for i := 0; i < len(b); i++ {
		byte_ := b[i]
		if shift >= 35 {
			return 0, 0, fmt.Errorf("artifact: varuint32 overflow")
		}
		result |= uint32(byte_&0x7F) << shift
		if byte_&0x80 == 0 {
			return result, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, fmt.Errorf("artifact: truncated varuint32")
}
