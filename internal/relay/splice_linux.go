//go:build linux

package relay

import (
	"io"
	"net"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// splice moves bytes from sock to pipeOut using the splice(2) syscall in
// maxChunk-sized transfers, looping until sock is closed or errors —
// spec.md's "splice... in ≤1 MiB chunks, until the kernel returns a short
// transfer" with no userspace buffer. It falls back to a plain copy if
// sock isn't backed by a raw fd (e.g. in tests using net.Pipe).
func splice(sock net.Conn, pipeOut *os.File, maxChunk int) (uint64, error) {
	sc, ok := sock.(syscall.Conn)
	if !ok {
		return copyFallback(sock, pipeOut)
	}

	rawConn, err := sc.SyscallConn()
	if err != nil {
		return copyFallback(sock, pipeOut)
	}

	var total uint64
	var spliceErr error
	wfd := int(pipeOut.Fd())

	for {
		var n int64
		var innerErr error
		ctrlErr := rawConn.Read(func(rfd uintptr) bool {
			for {
				n, innerErr = unix.Splice(int(rfd), nil, wfd, nil, maxChunk, unix.SPLICE_F_MOVE)
				if innerErr == unix.EAGAIN {
					return false // wait for readability, then retry
				}
				return true
			}
		})
		if ctrlErr != nil {
			return total, ctrlErr
		}
		if innerErr != nil {
			spliceErr = innerErr
			break
		}
		if n == 0 {
			break // EOF
		}
		total += uint64(n)
	}
	return total, spliceErr
}

func copyFallback(sock net.Conn, pipeOut *os.File) (uint64, error) {
	n, err := io.Copy(pipeOut, sock)
	return uint64(n), err
}
