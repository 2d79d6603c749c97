package listener

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/john-champagne/easyhack/internal/config"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Port = 0 // ask the kernel for an ephemeral port
	cfg.DisableIPv6 = true
	cfg.AcceptRatePerSec = 1000
	cfg.AcceptBurst = 1000
	return cfg
}

func TestOpenAndAcceptRoundTrip(t *testing.T) {
	set, err := Open(testConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer set.Close()

	addr := set.V4.Addr().String()
	go func() {
		c, err := net.Dial("tcp", addr)
		if err == nil {
			c.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := set.Accept(ctx)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	conn.Close()
}

func TestOpenFailsWhenBothStacksDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.DisableIPv4 = true
	cfg.DisableIPv6 = true

	if _, err := Open(cfg); err == nil {
		t.Fatal("expected error when both stacks disabled")
	}
}
