//go:build !linux

package relay

import (
	"io"
	"net"
	"os"
)

// splice is the non-Linux fallback: a plain copy loop. Only Linux exposes
// splice(2); spec.md's fast path is a Linux-specific optimization, not a
// portability requirement.
func splice(sock net.Conn, pipeOut *os.File, maxChunk int) (uint64, error) {
	n, err := io.Copy(pipeOut, sock)
	return uint64(n), err
}
