package rcp

import "sync"

// disassembler cuts an append-only byte stream into fixed-size indexed SYN
// packets, installing each directly into the owning session's send queue.
// Buff, NextIx and Packets mirror the fields asserted against in the
// protocol's original property tests (buff, next_ix, packets).
type disassembler struct {
	payload  int
	Buff     []byte
	NextIx   uint32
	Packets  map[uint32]Packet
	finished bool

	// sendBase and cond are non-nil only when the disassembler is wired to
	// a live Session; a bare disassembler (as used in unit tests) never
	// stalls. cond must be associated with the same *sync.Mutex the caller
	// holds across Write/Flush, since Wait releases and reacquires it.
	sendBase *uint32
	cond     *sync.Cond
}

// newDisassembler builds a standalone disassembler with no window-stall
// awareness, for use in isolation (tests) or as the basis for a wired one.
func newDisassembler(payload int) *disassembler {
	return &disassembler{
		payload: payload,
		Packets: make(map[uint32]Packet),
	}
}

// wireWindow attaches window-stall awareness: Write will block (via cond)
// whenever producing the next packet would push NextIx Window or more
// ahead of *sendBase, until cond is signaled by acknowledgment progress.
func (d *disassembler) wireWindow(sendBase *uint32, cond *sync.Cond) {
	d.sendBase = sendBase
	d.cond = cond
}

// waitForWindowRoom blocks, if the disassembler is window-aware, until
// cutting the next packet would not push NextIx Window or more ahead of
// *sendBase. It reports whether the disassembler finished while waiting.
func (d *disassembler) waitForWindowRoom() (finishedWhileWaiting bool) {
	if d.sendBase == nil {
		return false
	}
	for d.NextIx-*d.sendBase >= Window {
		d.cond.Wait()
		if d.finished {
			return true
		}
	}
	return false
}

// Write appends b to the internal buffer and, for as long as the buffer
// holds at least payload bytes, cuts a SYN packet and installs it in
// Packets at a freshly assigned, strictly ascending sequence. If the
// disassembler is window-aware, cutting the next packet blocks while
// NextIx - *sendBase >= Window.
func (d *disassembler) Write(b []byte) error {
	if d.finished {
		return ErrClosedForSend
	}
	d.Buff = append(d.Buff, b...)
	for len(d.Buff) >= d.payload {
		if d.waitForWindowRoom() {
			return ErrClosedForSend
		}
		chunk := make([]byte, d.payload)
		copy(chunk, d.Buff[:d.payload])
		d.Buff = d.Buff[d.payload:]
		d.Packets[d.NextIx] = Packet{Type: TypeSYN, Sequence: d.NextIx, Data: chunk}
		d.NextIx++
	}
	return nil
}

// Flush emits any residual buffered bytes as one short SYN packet, blocking
// for window room exactly as Write does. If finish is true it additionally
// emits a FIN packet, marks the disassembler finished, and all subsequent
// Write/Flush calls return ErrClosedForSend.
func (d *disassembler) Flush(finish bool) error {
	if d.finished {
		return ErrClosedForSend
	}
	if len(d.Buff) > 0 {
		if d.waitForWindowRoom() {
			return ErrClosedForSend
		}
		chunk := make([]byte, len(d.Buff))
		copy(chunk, d.Buff)
		d.Packets[d.NextIx] = Packet{Type: TypeSYN, Sequence: d.NextIx, Data: chunk}
		d.NextIx++
		d.Buff = d.Buff[:0]
	}
	if finish {
		if d.waitForWindowRoom() {
			return ErrClosedForSend
		}
		d.Packets[d.NextIx] = Packet{Type: TypeFIN, Sequence: d.NextIx}
		d.NextIx++
		d.finished = true
		if d.cond != nil {
			d.cond.Broadcast()
		}
	}
	return nil
}
