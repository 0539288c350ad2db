package rcp

import (
	"bytes"
	"testing"
)

func TestAssemblerDrainsInOrder(t *testing.T) {
	a := newAssembler()
	a.Offer(Packet{Type: TypeSYN, Sequence: 0, Data: []byte("ab")})
	a.Offer(Packet{Type: TypeSYN, Sequence: 1, Data: []byte("cd")})
	got := a.Drain()
	if !bytes.Equal(got, []byte("abcd")) {
		t.Fatalf("Drain = %q, want %q", got, "abcd")
	}
	if a.RecvBase != 2 {
		t.Errorf("RecvBase = %d, want 2", a.RecvBase)
	}
}

func TestAssemblerHoldsOutOfOrderPackets(t *testing.T) {
	a := newAssembler()
	a.Offer(Packet{Type: TypeSYN, Sequence: 1, Data: []byte("cd")})
	if got := a.Drain(); len(got) != 0 {
		t.Fatalf("Drain with hole = %q, want empty", got)
	}
	a.Offer(Packet{Type: TypeSYN, Sequence: 0, Data: []byte("ab")})
	got := a.Drain()
	if !bytes.Equal(got, []byte("abcd")) {
		t.Fatalf("Drain after fill = %q, want %q", got, "abcd")
	}
}

func TestAssemblerDropsDuplicateOffer(t *testing.T) {
	a := newAssembler()
	if ok := a.Offer(Packet{Type: TypeSYN, Sequence: 0, Data: []byte("ab")}); !ok {
		t.Fatalf("first offer should be accepted")
	}
	if ok := a.Offer(Packet{Type: TypeSYN, Sequence: 0, Data: []byte("zz")}); ok {
		t.Fatalf("duplicate offer should be rejected")
	}
	got := a.Drain()
	if !bytes.Equal(got, []byte("ab")) {
		t.Fatalf("Drain = %q, want %q (duplicate must not overwrite)", got, "ab")
	}
}

func TestAssemblerRejectsOutOfWindow(t *testing.T) {
	a := newAssembler()
	if ok := a.Offer(Packet{Type: TypeSYN, Sequence: Window, Data: []byte("x")}); ok {
		t.Fatalf("offer at RecvBase+Window should be rejected")
	}
}

func TestAssemblerFINStopsDrain(t *testing.T) {
	a := newAssembler()
	a.Offer(Packet{Type: TypeSYN, Sequence: 0, Data: []byte("ab")})
	a.Offer(Packet{Type: TypeFIN, Sequence: 1})
	got := a.Drain()
	if !bytes.Equal(got, []byte("ab")) {
		t.Fatalf("Drain = %q, want %q", got, "ab")
	}
	if a.PeerFinSeq == nil || *a.PeerFinSeq != 1 {
		t.Fatalf("PeerFinSeq = %v, want pointer to 1", a.PeerFinSeq)
	}
	if a.RecvBase != 2 {
		t.Errorf("RecvBase = %d, want 2 (window slides past FIN slot too)", a.RecvBase)
	}
}

func TestAssemblerSetsFinSeqFromFIN(t *testing.T) {
	a := newAssembler()
	a.Offer(Packet{Type: TypeFIN, Sequence: 0})
	a.Drain()
	first := a.PeerFinSeq
	if first == nil {
		t.Fatalf("expected PeerFinSeq to be set")
	}
	// Callers (Session.offer) are responsible for treating the stream as
	// ended once PeerFinSeq is non-nil; the assembler itself keeps
	// whatever window state it is given.
	if *first != 0 {
		t.Errorf("PeerFinSeq = %d, want 0", *first)
	}
}
