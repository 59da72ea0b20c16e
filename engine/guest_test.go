package engine

// A minimal guest engine assembled by hand. It implements enough of the
// guest ABI to drive the host side:
//
//	realm_alloc                    bump allocator, 8-byte granularity
//	configure_file_system          fails with code 9 when mode == encrypted
//	get_session                    always returns handle 42
//	wait_for_download              completes the token with status 0
//	wait_for_upload                completes the token with status 5 "sync failed"
//	get_log_level / set_log_level  set_log_level logs "hello" at info
//	close_session                  no-op
//	poll                           returns how many times it was called

const (
	valI32 = 0x7f
	valI64 = 0x7e

	opLocalGet  = 0x20
	opGlobalGet = 0x23
	opGlobalSet = 0x24
	opI32Const  = 0x41
	opI64Const  = 0x42
	opI32Store  = 0x36
	opI32Eq     = 0x46
	opI32Add    = 0x6a
	opI32And    = 0x71
	opCall      = 0x10
	opIf        = 0x04
	opEnd       = 0x0b
	blockEmpty  = 0x40
)

const (
	guestWaitMessageOffset = 16
	guestLogMessageOffset  = 32
)

func uleb(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func sleb(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func wasmName(s string) []byte {
	return append(uleb(uint64(len(s))), s...)
}

func byteVec(b []byte) []byte {
	return append(uleb(uint64(len(b))), b...)
}

func vec(items ...[]byte) []byte {
	out := uleb(uint64(len(items)))
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

func section(id byte, payload []byte) []byte {
	out := append([]byte{id}, uleb(uint64(len(payload)))...)
	return append(out, payload...)
}

func funcType(params, results []byte) []byte {
	out := append([]byte{0x60}, byteVec(params)...)
	return append(out, byteVec(results)...)
}

func cat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func localGet(i uint64) []byte  { return append([]byte{opLocalGet}, uleb(i)...) }
func globalGet(i uint64) []byte { return append([]byte{opGlobalGet}, uleb(i)...) }
func globalSet(i uint64) []byte { return append([]byte{opGlobalSet}, uleb(i)...) }
func i32Const(v int32) []byte   { return append([]byte{opI32Const}, sleb(int64(v))...) }
func i64Const(v int64) []byte   { return append([]byte{opI64Const}, sleb(v)...) }
func callFn(i uint64) []byte    { return append([]byte{opCall}, uleb(i)...) }

func mutGlobal(init int32) []byte {
	return cat([]byte{valI32, 0x01}, i32Const(init), []byte{opEnd})
}

func dataSegment(offset int32, data string) []byte {
	return cat([]byte{0x00}, i32Const(offset), []byte{opEnd}, byteVec([]byte(data)))
}

type guestFunc struct {
	export string
	body   []byte
	typ    uint64
}

// guestModule returns the binary of the test guest.
func guestModule() []byte {
	// session_wait, log, realm_alloc, configure, get_session, waits,
	// get_log_level and poll, set_log_level, close_session
	types := vec(
		funcType([]byte{valI64, valI32, valI32, valI32}, nil),
		funcType([]byte{valI32, valI32, valI32}, nil),
		funcType([]byte{valI32, valI32}, []byte{valI32}),
		funcType([]byte{valI32, valI32, valI32, valI32, valI32, valI32, valI32}, nil),
		funcType([]byte{valI32, valI32, valI32, valI32, valI32, valI32}, []byte{valI64}),
		funcType([]byte{valI64, valI64, valI32}, nil),
		funcType(nil, []byte{valI32}),
		funcType([]byte{valI32, valI32}, nil),
		funcType([]byte{valI64}, nil),
	)

	imports := vec(
		cat(wasmName(HostModule), wasmName(importSessionWait), []byte{0x00}, uleb(0)),
		cat(wasmName(HostModule), wasmName(importLog), []byte{0x00}, uleb(1)),
	)
	const importCount = 2

	funcs := []guestFunc{
		{export: allocExport, typ: 2, body: cat(
			globalGet(0), globalGet(0),
			localGet(0), i32Const(7), []byte{opI32Add}, i32Const(-8), []byte{opI32And},
			[]byte{opI32Add}, globalSet(0),
		)},
		{export: ExportName(opConfigureFileSystem), typ: 3, body: cat(
			localGet(2), i32Const(2), []byte{opI32Eq},
			[]byte{opIf, blockEmpty},
			localGet(6), i32Const(9), []byte{opI32Store, 0x02, 0x00},
			[]byte{opEnd},
		)},
		{export: ExportName(opGetSession), typ: 4, body: i64Const(42)},
		{export: ExportName(opWaitForDownload), typ: 5, body: cat(
			localGet(1), i32Const(0), i32Const(0), i32Const(0), callFn(0),
		)},
		{export: ExportName(opWaitForUpload), typ: 5, body: cat(
			localGet(1), i32Const(5), i32Const(guestWaitMessageOffset), i32Const(11), callFn(0),
		)},
		{export: ExportName(opGetLogLevel), typ: 6, body: globalGet(1)},
		{export: ExportName(opSetLogLevel), typ: 7, body: cat(
			localGet(0), globalSet(1),
			i32Const(4), i32Const(guestLogMessageOffset), i32Const(5), callFn(1),
		)},
		{export: ExportName(opCloseSession), typ: 8},
		{export: ExportName(opPoll), typ: 6, body: cat(
			globalGet(2), i32Const(1), []byte{opI32Add}, globalSet(2), globalGet(2),
		)},
	}

	funcTypes := make([][]byte, len(funcs))
	exports := [][]byte{cat(wasmName("memory"), []byte{0x02, 0x00})}
	codes := make([][]byte, len(funcs))
	for i, f := range funcs {
		funcTypes[i] = uleb(f.typ)
		exports = append(exports, cat(wasmName(f.export), []byte{0x00}, uleb(uint64(importCount+i))))
		body := cat([]byte{0x00}, f.body, []byte{opEnd})
		codes[i] = append(uleb(uint64(len(body))), body...)
	}

	return cat(
		[]byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00},
		section(1, types),
		section(2, imports),
		section(3, vec(funcTypes...)),
		section(5, vec([]byte{0x00, 0x01})),
		section(6, vec(mutGlobal(1024), mutGlobal(4), mutGlobal(0))),
		section(7, vec(exports...)),
		section(10, vec(codes...)),
		section(11, vec(
			dataSegment(guestWaitMessageOffset, "sync failed"),
			dataSegment(guestLogMessageOffset, "hello"),
		)),
	)
}
