package rcp

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// relay drives data between two sessions wired back to back with no router
// and no network, by repeatedly exchanging snapshotOutbound() results until
// both sides quiesce. It mirrors the two-party exchange the Router's Read
// and Write loops perform, minus the socket.
func relay(t *testing.T, a, b *Session, maxRounds int) {
	t.Helper()
	for i := 0; i < maxRounds; i++ {
		aData, aAck := a.snapshotOutbound()
		bData, bAck := b.snapshotOutbound()

		for _, out := range aData {
			b.offer(out.Packet)
		}
		for _, out := range bData {
			a.offer(out.Packet)
		}
		a.ackReceived(bAck)
		b.ackReceived(aAck)

		if a.finalizable() && b.finalizable() {
			return
		}
	}
}

func TestSessionSendRecv(t *testing.T) {
	m := newMetrics()
	log := quietLogger()
	peerA := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1111}
	peerB := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 2222}

	a := newSession(peerB, true, m, log)
	b := newSession(peerA, false, m, log)

	if err := a.Send([]byte("hello world")); err != nil {
		t.Fatalf("send: %v", err)
	}
	a.Close()

	relay(t, a, b, 10)

	got := b.Read()
	if !bytes.Equal(got, []byte("hello world")) {
		t.Fatalf("Read() = %q, want %q", got, "hello world")
	}
	if len(a.sendQueue) != 0 {
		t.Errorf("a.sendQueue should have drained once b ACKed everything, got %d entries", len(a.sendQueue))
	}
}

// TestSessionRecvBeforeClose mirrors rcp_test.py's
// test_e2e_single_session_small_message_client_close: a small message must
// reach the peer's Recv well before either side closes.
func TestSessionRecvBeforeClose(t *testing.T) {
	m := newMetrics()
	log := quietLogger()
	peerA := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1111}
	peerB := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 2222}

	client := newSession(peerB, true, m, log)
	server := newSession(peerA, false, m, log)

	if err := client.Send([]byte("Hello, server!")); err != nil {
		t.Fatalf("client send: %v", err)
	}
	relay(t, client, server, 5)
	if got := server.Recv(); !bytes.Equal(got, []byte("Hello, server!")) {
		t.Fatalf("server.Recv() = %q, want %q (before either side closed)", got, "Hello, server!")
	}

	if err := server.Send([]byte("Hello, client!")); err != nil {
		t.Fatalf("server send: %v", err)
	}
	relay(t, client, server, 5)
	if got := client.Recv(); !bytes.Equal(got, []byte("Hello, client!")) {
		t.Fatalf("client.Recv() = %q, want %q (before either side closed)", got, "Hello, client!")
	}

	client.Close()
	relay(t, client, server, 10)
	if got := server.Recv(); len(got) != 0 {
		t.Fatalf("server.Recv() after client close = %q, want empty", got)
	}
}

func TestSessionBidirectional(t *testing.T) {
	m := newMetrics()
	log := quietLogger()
	peerA := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1111}
	peerB := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 2222}

	a := newSession(peerB, true, m, log)
	b := newSession(peerA, false, m, log)

	_ = a.Send([]byte("ping"))
	_ = b.Send([]byte("pong"))
	a.Close()
	b.Close()

	relay(t, a, b, 10)

	if got := b.Read(); !bytes.Equal(got, []byte("ping")) {
		t.Fatalf("b.Read() = %q, want %q", got, "ping")
	}
	if got := a.Read(); !bytes.Equal(got, []byte("pong")) {
		t.Fatalf("a.Read() = %q, want %q", got, "pong")
	}
}

func TestSessionSendAfterCloseFails(t *testing.T) {
	m := newMetrics()
	log := quietLogger()
	peer := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1111}
	s := newSession(peer, true, m, log)
	s.Close()
	if err := s.Send([]byte("x")); err != ErrClosedForSend {
		t.Fatalf("Send after Close = %v, want ErrClosedForSend", err)
	}
}

func TestSessionCloseIdempotent(t *testing.T) {
	m := newMetrics()
	log := quietLogger()
	peer := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1111}
	s := newSession(peer, true, m, log)
	s.Close()
	s.Close()
}

func TestSessionMarkFailedUnblocksRecv(t *testing.T) {
	m := newMetrics()
	log := quietLogger()
	peer := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1111}
	s := newSession(peer, false, m, log)

	done := make(chan []byte, 1)
	go func() { done <- s.Recv() }()

	s.markFailed()

	select {
	case got := <-done:
		if len(got) != 0 {
			t.Fatalf("Recv() after failure = %q, want empty", got)
		}
	case <-time.After(time.Second):
		t.Fatal("Recv() did not unblock after markFailed")
	}
}
