// Package wasmtest hand-assembles minimal valid Wasm binaries for use
// as test fixtures. The teacher's own fixture
// (internal/wasm/fixture/math-service) ships TinyGo source with no
// compiled .wasm binary, and the toolchain that would produce one
// cannot be invoked here — so tests build the bytes they need directly,
// opcode by opcode, rather than shipping a stale or fabricated binary.
package wasmtest

const (
	secType     = 1
	secFunction = 3
	secMemory   = 5
	secGlobal   = 6
	secExport   = 7
	secCode     = 10
)

func leb128(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

func sleb128(v int64) []byte {
	var out []byte
	more := true
	for more {
		b := byte(v & 0x7F)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			more = false
		} else {
			b |= 0x80
		}
		out = append(out, b)
	}
	return out
}

func section(id byte, body []byte) []byte {
	out := []byte{id}
	out = append(out, leb128(uint32(len(body)))...)
	return append(out, body...)
}

func vec(items [][]byte) []byte {
	out := leb128(uint32(len(items)))
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

// wasm value type encodings.
const (
	i32 = 0x7F
	i64 = 0x7E
)

func funcType(params, results []byte) []byte {
	out := []byte{0x60}
	out = append(out, leb128(uint32(len(params)))...)
	out = append(out, params...)
	out = append(out, leb128(uint32(len(results)))...)
	out = append(out, results...)
	return out
}

// EchoReactorModule builds a minimal reactor module exporting
// "memory", "allocate", "deallocate" and "handle_request", matching the
// generic module dispatch ABI the module backend expects (spec §4.C,
// grounded on the teacher's worker.go wire contract).
//
// allocate(size: i32) -> i32 bumps a global pointer by size and returns
// the pre-bump value. deallocate(ptr: i32) is a no-op. handle_request
// echoes its input back: since the host already wrote the input bytes
// at inputPtr before calling, returning (inputPtr<<32 | inputLen)
// directly is a correct echo with no copying.
func EchoReactorModule() []byte {
	wasm := []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}

	// Type section: three function types.
	//   type 0: (i32) -> (i32)                 -- allocate
	//   type 1: (i32) -> ()                    -- deallocate
	//   type 2: (i32, i32, i32, i32) -> (i64)  -- handle_request
	types := vec([][]byte{
		funcType([]byte{i32}, []byte{i32}),
		funcType([]byte{i32}, []byte{}),
		funcType([]byte{i32, i32, i32, i32}, []byte{i64}),
	})
	wasm = append(wasm, section(secType, types)...)

	// Function section: three functions using types 0, 1, 2.
	functions := vec([][]byte{leb128(0), leb128(1), leb128(2)})
	wasm = append(wasm, section(secFunction, functions)...)

	// Memory section: one memory, min 1 page.
	memory := vec([][]byte{append([]byte{0x00}, leb128(1)...)})
	wasm = append(wasm, section(secMemory, memory)...)

	// Global section: one mutable i32 global (the bump pointer), init 8
	// (leave room below for nothing in particular — just clear of 0).
	globals := vec([][]byte{
		append(append([]byte{i32, 0x01}, 0x41), append(sleb128(8), 0x0B)...),
	})
	wasm = append(wasm, section(secGlobal, globals)...)

	// Export section.
	exportFunc := func(name string, idx uint32) []byte {
		out := leb128(uint32(len(name)))
		out = append(out, []byte(name)...)
		out = append(out, 0x00) // func export kind
		out = append(out, leb128(idx)...)
		return out
	}
	exportMem := func(name string, idx uint32) []byte {
		out := leb128(uint32(len(name)))
		out = append(out, []byte(name)...)
		out = append(out, 0x02) // mem export kind
		out = append(out, leb128(idx)...)
		return out
	}
	exports := vec([][]byte{
		exportMem("memory", 0),
		exportFunc("allocate", 0),
		exportFunc("deallocate", 1),
		exportFunc("handle_request", 2),
	})
	wasm = append(wasm, section(secExport, exports)...)

	// Code section.
	allocateBody := []byte{
		0x00,       // 0 locals
		0x23, 0x00, // global.get 0
		0x20, 0x00, // local.get 0 (size)
		0x23, 0x00, // global.get 0
		0x6A,       // i32.add
		0x24, 0x00, // global.set 0
		0x0B, // end
	}
	deallocateBody := []byte{0x00, 0x0B}

	// handle_request(method_ptr, method_len, input_ptr, input_len) -> i64
	// returns (input_ptr << 32 | input_len): the host already wrote the
	// input bytes at input_ptr before calling, so this is a correct echo
	// with no in-guest copy.
	handleRequestBody := []byte{0x00, 0x20, 0x02} // 0 locals; local.get 2 (input_ptr)
	handleRequestBody = append(handleRequestBody, 0xAD)  // i64.extend_i32_u
	handleRequestBody = append(handleRequestBody, 0x42)  // i64.const
	handleRequestBody = append(handleRequestBody, sleb128(32)...)
	handleRequestBody = append(handleRequestBody, 0x86)       // i64.shl
	handleRequestBody = append(handleRequestBody, 0x20, 0x03) // local.get 3 (input_len)
	handleRequestBody = append(handleRequestBody, 0xAD)       // i64.extend_i32_u
	handleRequestBody = append(handleRequestBody, 0x84)       // i64.or
	handleRequestBody = append(handleRequestBody, 0x0B)       // end

	codeEntry := func(body []byte) []byte {
		out := leb128(uint32(len(body)))
		return append(out, body...)
	}
	code := vec([][]byte{
		codeEntry(allocateBody),
		codeEntry(deallocateBody),
		codeEntry(handleRequestBody),
	})
	wasm = append(wasm, section(secCode, code)...)

	return wasm
}
