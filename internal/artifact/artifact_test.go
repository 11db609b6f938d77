package artifact

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func moduleHeader() []byte {
	return []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}
}

func componentHeader() []byte {
	return []byte{0x00, 0x61, 0x73, 0x6D, 0x0D, 0x00, 0x01, 0x00}
}

func TestDetect(t *testing.T) {
	assert.Equal(t, EncodingModule, Detect(moduleHeader()))
	assert.Equal(t, EncodingComponent, Detect(componentHeader()))
}

func TestDetect_FallsThroughToModuleOnAnomaly(t *testing.T) {
	assert.Equal(t, EncodingModule, Detect(nil))
	assert.Equal(t, EncodingModule, Detect([]byte("not wasm")))
	assert.Equal(t, EncodingModule, Detect([]byte{0x00, 0x61, 0x73}))
}

func appendVarUint32(buf []byte, v uint32) []byte {
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		buf = append(buf, b)
		if v == 0 {
			return buf
		}
	}
}

func buildCustomSection(name string, payload []byte) []byte {
	var body []byte
	body = appendVarUint32(body, uint32(len(name)))
	body = append(body, []byte(name)...)
	body = append(body, payload...)

	var section []byte
	section = append(section, 0x00) // custom section id
	section = appendVarUint32(section, uint32(len(body)))
	section = append(section, body...)
	return section
}

func TestFindCustomSection(t *testing.T) {
	wasm := moduleHeader()
	wasm = append(wasm, buildCustomSection("name", []byte("ignored"))...)
	wasm = append(wasm, buildCustomSection("jwt", []byte("token-bytes"))...)

	payload, err := FindCustomSection(wasm, "jwt")
	require.NoError(t, err)
	assert.Equal(t, "token-bytes", string(payload))
}

func TestFindCustomSection_NotFound(t *testing.T) {
	wasm := moduleHeader()
	wasm = append(wasm, buildCustomSection("name", []byte("ignored"))...)

	_, err := FindCustomSection(wasm, "jwt")
	assert.ErrorIs(t, err, ErrSectionNotFound)
}

func TestFindCustomSection_NotWasm(t *testing.T) {
	_, err := FindCustomSection([]byte("nope"), "jwt")
	assert.Error(t, err)
}
