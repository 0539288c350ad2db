package faultconn

import (
	"math/rand"
	"net"
	"testing"
)

type countingConn struct {
	net.PacketConn
	writes int
}

func (c *countingConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	c.writes++
	return len(p), nil
}

func TestWrapPassesApproximatelyOneInN(t *testing.T) {
	base := &countingConn{}
	conn := Wrap(base, 3, rand.New(rand.NewSource(42)))

	const attempts = 3000
	for i := 0; i < attempts; i++ {
		if _, err := conn.WriteTo([]byte("x"), nil); err != nil {
			t.Fatalf("WriteTo: %v", err)
		}
	}

	writes, drops := conn.Stats()
	if writes != attempts {
		t.Fatalf("Stats() writes = %d, want %d", writes, attempts)
	}
	wantPassThrough := attempts / 3
	if base.writes < wantPassThrough*7/10 || base.writes > wantPassThrough*13/10 {
		t.Fatalf("underlying writes = %d, want roughly %d (n=3)", base.writes, wantPassThrough)
	}
	if int(drops) != attempts-base.writes {
		t.Fatalf("drops = %d, want %d", drops, attempts-base.writes)
	}
}

func TestWrapNEqualsOneNeverDrops(t *testing.T) {
	base := &countingConn{}
	conn := Wrap(base, 1, rand.New(rand.NewSource(1)))
	for i := 0; i < 100; i++ {
		_, _ = conn.WriteTo([]byte("x"), nil)
	}
	if base.writes != 100 {
		t.Fatalf("underlying writes = %d, want 100 (n=1 should never drop)", base.writes)
	}
}

func TestWrapClampsInvalidN(t *testing.T) {
	base := &countingConn{}
	conn := Wrap(base, 0, rand.New(rand.NewSource(1)))
	for i := 0; i < 10; i++ {
		_, _ = conn.WriteTo([]byte("x"), nil)
	}
	if base.writes != 10 {
		t.Fatalf("n<1 should clamp to 1 (never drop), got %d/10 passed through", base.writes)
	}
}
