package model

import (
	"reflect"
	"unsafe"
)

// UnsafeStringToBytes converts a string to a byte slice without
// copying. The caller must not mutate the result.
func UnsafeStringToBytes(s string) []byte {
	var b []byte
	sh := (*reflect.StringHeader)(unsafe.Pointer(&s))
	bh := (*reflect.SliceHeader)(unsafe.Pointer(&b))
	bh.Data = sh.Data
	bh.Cap = len(s)
	bh.Len = len(s)
	return b
}
