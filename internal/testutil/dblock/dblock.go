package dblock

import (
	"net"
	"time"
)

// Integration tests that share one database serialize on this port. A test
// binary holds the listener for the duration of its DB work.
const lockAddr = "127.0.0.1:45432"

func Acquire() func() {
	for {
		ln, err := net.Listen("tcp", lockAddr)
		if err == nil {
			return func() { ln.Close() }
		}
		time.Sleep(50 * time.Millisecond)
	}
}
