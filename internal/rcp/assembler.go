package rcp

// assembler reassembles the contiguous in-order byte prefix of a stream
// from a possibly-reordered, possibly-duplicated sequence of SYN/FIN
// packets, discarding anything outside the current receive window.
type assembler struct {
	RecvBase   uint32
	Window     [Window]*Packet
	PeerFinSeq *uint32
}

func newAssembler() *assembler {
	return &assembler{}
}

// Offer stores p if its sequence falls inside [RecvBase, RecvBase+Window)
// and the corresponding slot is empty. Out-of-window packets and
// duplicates of an already-held slot are discarded silently, matching
// spec.md's OutOfWindow policy. Offer reports whether p was stored.
func (a *assembler) Offer(p Packet) bool {
	i := p.Sequence - a.RecvBase
	if i >= Window {
		return false
	}
	if a.Window[i] != nil {
		return false
	}
	pp := p
	a.Window[i] = &pp
	return true
}

// Drain pops the contiguous run of occupied slots starting at index 0,
// appending SYN payloads to the returned byte slice and sliding the
// window down as it goes. Encountering a FIN sets PeerFinSeq to that
// packet's sequence and stops draining (the window still advances past
// the FIN's slot). Drain returns a prefix of the peer's byte stream.
func (a *assembler) Drain() []byte {
	var out []byte
	for a.Window[0] != nil {
		p := a.Window[0]
		finSeq := a.RecvBase

		copy(a.Window[:Window-1], a.Window[1:])
		a.Window[Window-1] = nil
		a.RecvBase++

		if p.Type == TypeFIN {
			a.PeerFinSeq = &finSeq
			break
		}
		out = append(out, p.Data...)
	}
	return out
}
