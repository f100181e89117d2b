package model

import (
	"unsafe"
)

// UnsafeStringToBytes converts strings to []byte without memcopy
func UnsafeStringToBytes(s string) []byte {
	if len(s) == 0 {
		return nil
	}
	/* #nosec */
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
