package wasm

// Builtin is a minimal core module exporting add(i32, i32) i32 and
// mul(i32, i32) i32. It is loaded when no binary is configured.
var Builtin = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	// type: (i32, i32) -> i32
	0x01, 0x07, 0x01, 0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f,
	// func: two functions of type 0
	0x03, 0x03, 0x02, 0x00, 0x00,
	// export: "add" func 0, "mul" func 1
	0x07, 0x0d, 0x02,
	0x03, 'a', 'd', 'd', 0x00, 0x00,
	0x03, 'm', 'u', 'l', 0x00, 0x01,
	// code
	0x0a, 0x11, 0x02,
	0x07, 0x00, 0x20, 0x00, 0x20, 0x01, 0x6a, 0x0b,
	0x07, 0x00, 0x20, 0x00, 0x20, 0x01, 0x6c, 0x0b,
}
