// Package goroutineid reports the id of the calling goroutine. It is used to
// check that work meant for a backing thread really runs there.
package goroutineid

import (
	"bytes"
	"runtime"
)

var stackPrefix = []byte("goroutine ")

// Get returns the current goroutine id, or 0 if it cannot be determined.
func Get() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	return parse(buf[:n])
}

// parse reads the id from the "goroutine N [status]:" header line.
func parse(stack []byte) int64 {
	if !bytes.HasPrefix(stack, stackPrefix) {
		return 0
	}
	var id int64
	for _, b := range stack[len(stackPrefix):] {
		if b < '0' || b > '9' {
			break
		}
		id = id*10 + int64(b-'0')
	}
	return id
}
