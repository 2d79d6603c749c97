// Package listener owns the supervisor's accept-side sockets: the
// dual-stack (v4/v6) listeners, their socket options, and a connection
// accept-rate limiter (spec.md §4.1, SPEC_FULL §6 rate limiting).
package listener

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"github.com/john-champagne/easyhack/internal/config"
	"github.com/john-champagne/easyhack/internal/logger"
)

const backlog = 16 // server.c:init_server_socket's listen(fd, 16)

type acceptResult struct {
	conn net.Conn
	err  error
}

// Set holds the listener(s) the supervisor accepts on — one for IPv4, one
// for IPv6, either of which may be nil if disabled in config. Each
// listener gets exactly one long-lived accept goroutine for the Set's
// whole lifetime (started in Open), feeding a shared channel — not a pair
// of goroutines spun up per Accept() call, which would pile up an
// unbounded number of concurrently-blocked Accept calls on whichever stack
// sees less traffic.
type Set struct {
	V4, V6  net.Listener
	limiter *rate.Limiter
	results chan acceptResult
}

// Open binds the configured listeners. At least one of v4/v6 must remain
// enabled or Open returns an error, mirroring server.c's fatal exit when
// both sockets fail to bind.
func Open(cfg *config.Config) (*Set, error) {
	lc := net.ListenConfig{Control: controlFn}

	s := &Set{limiter: rate.NewLimiter(rate.Limit(cfg.AcceptRatePerSec), cfg.AcceptBurst)}

	if !cfg.DisableIPv4 {
		addr := fmt.Sprintf("%s:%d", cfg.BindAddr4, cfg.Port)
		ln, err := lc.Listen(context.Background(), "tcp4", addr)
		if err != nil {
			if cfg.DisableIPv6 {
				return nil, fmt.Errorf("listen ipv4 %s: %w", addr, err)
			}
			logger.Warn("listener: ipv4 bind failed, trying ipv6", "error", err)
		} else {
			s.V4 = ln
		}
	}

	if !cfg.DisableIPv6 {
		addr := fmt.Sprintf("[%s]:%d", cfg.BindAddr6, cfg.Port)
		ln, err := lc.Listen(context.Background(), "tcp6", addr)
		if err != nil {
			if s.V4 != nil {
				logger.Warn("listener: ipv6 bind failed, continuing ipv4-only", "error", err)
			} else {
				return nil, fmt.Errorf("listen ipv6 %s: %w", addr, err)
			}
		} else {
			s.V6 = ln
		}
	}

	if s.V4 == nil && s.V6 == nil {
		return nil, fmt.Errorf("no listeners bound (both ipv4 and ipv6 disabled or failed)")
	}

	s.results = make(chan acceptResult)
	if s.V4 != nil {
		go acceptLoop(s.V4, s.results)
	}
	if s.V6 != nil {
		go acceptLoop(s.V6, s.results)
	}
	return s, nil
}

// acceptLoop feeds ln's accepted connections (and its terminal error, once)
// into results. It exits once Accept returns an error — normally because
// Close was called on ln.
func acceptLoop(ln net.Listener, results chan<- acceptResult) {
	for {
		conn, err := ln.Accept()
		results <- acceptResult{conn, err}
		if err != nil {
			return
		}
	}
}

// controlFn applies SO_REUSEADDR and (on tcp6) IPV6_V6ONLY the same way
// server.c:init_server_socket does, via the ListenConfig.Control hook —
// Go's portable substitute for calling setsockopt directly on a raw fd
// before bind/listen. TCP_NODELAY is set per accepted connection by
// applyNoDelay instead.
func controlFn(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		if network == "tcp6" {
			if err := unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 1); err != nil {
				sockErr = err
			}
		}
	})
	if err != nil {
		return err
	}
	return sockErr
}

// Accept blocks on whichever listener in the set is not nil, returning the
// first connection accepted. It applies TCP_NODELAY and the accept-rate
// limiter (spec.md §4.1's fast-path socket option, SPEC_FULL's rate-limit
// addition) before handing the connection back.
func (s *Set) Accept(ctx context.Context) (net.Conn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-s.results:
		if r.err != nil {
			return nil, r.err
		}
		if err := s.limiter.Wait(ctx); err != nil {
			r.conn.Close()
			return nil, err
		}
		applyNoDelay(r.conn)
		return r.conn, nil
	}
}

func applyNoDelay(conn net.Conn) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	if err := tc.SetNoDelay(true); err != nil {
		logger.Warn("listener: TCP_NODELAY failed", "error", err)
	}
}

// Close shuts down whichever listeners are open.
func (s *Set) Close() error {
	var firstErr error
	if s.V4 != nil {
		if err := s.V4.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.V6 != nil {
		if err := s.V6.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SetRate updates the accept-rate limiter live, the one listener-facing
// field a config hot-reload is allowed to touch (cfg.Reloadable).
func (s *Set) SetRate(perSec float64, burst int) {
	s.limiter.SetLimit(rate.Limit(perSec))
	s.limiter.SetBurst(burst)
}
