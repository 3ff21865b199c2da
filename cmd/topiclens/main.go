//go:build wasip1

// Command topiclens is the topic-decoding lens, built as a WASI reactor:
//
//	GOOS=wasip1 GOARCH=wasm go build -buildmode=c-shared -o topiclens.wasm ./cmd/topiclens
//
// The host calls transform once per record. Each call pulls one block through the
// imported lens.next, decodes it, and returns the address of the result block.
package main

import (
	"unsafe"

	"topiclens/internal/lensvm"
)

var (
	arena = lensvm.NewArena(linearAddr)
	lens  = lensvm.NewLens(arena, next, nil)
)

func linearAddr(buf []byte) uint32 {
	return uint32(uintptr(unsafe.Pointer(unsafe.SliceData(buf))))
}

//go:wasmimport lens next
func next() uint32

//go:wasmexport alloc
func alloc(size uint32) uint32 {
	return arena.Alloc(size)
}

//go:wasmexport transform
func transform() uint32 {
	return lens.Transform()
}

func main() {}
