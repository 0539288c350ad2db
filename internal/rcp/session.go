package rcp

import (
	"net"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
)

// Session is one RCP connection: a disassembler and assembler pair, sliding
// send/receive windows, and the close-state bookkeeping of spec.md §4.4 and
// §4.8. Session owns no goroutine of its own — all work happens on the
// owning Router's Read and Write loops plus whichever application
// goroutine calls Send/Recv/Read/Close.
type Session struct {
	mu   sync.Mutex
	cond *sync.Cond

	id       xid.ID
	peer     net.Addr
	isClient bool

	// send side, guarded by mu
	sendBase  uint32
	sendQueue map[uint32]Packet
	dis       *disassembler
	txCount   map[uint32]int

	// receive side, guarded by mu
	asm       *assembler
	unread    []byte
	peerFinRx bool

	lastRx time.Time
	closed bool
	failed bool

	log *logrus.Entry
	m   *metrics
}

func newSession(peer net.Addr, isClient bool, m *metrics, log *logrus.Logger) *Session {
	id := xid.New()
	sendQueue := make(map[uint32]Packet)
	dis := newDisassembler(Payload)
	dis.Packets = sendQueue

	s := &Session{
		id:        id,
		peer:      peer,
		isClient:  isClient,
		sendQueue: sendQueue,
		dis:       dis,
		txCount:   make(map[uint32]int),
		asm:       newAssembler(),
		lastRx:    time.Now(),
		m:         m,
		log: log.WithFields(logrus.Fields{
			"session": id.String(),
			"peer":    peer.String(),
		}),
	}
	s.cond = sync.NewCond(&s.mu)
	dis.wireWindow(&s.sendBase, s.cond)
	m.sessionOpened(isClient)
	s.log.Info("session opened")
	return s
}

// ID returns the session's log-correlation identifier. It plays no role in
// the wire protocol or session keying (sessions are keyed by peer address,
// per spec.md §9's known single-session-per-peer limitation).
func (s *Session) ID() string { return s.id.String() }

// Peer returns the session's remote UDP address.
func (s *Session) Peer() net.Addr { return s.peer }

// Send appends b to the outgoing stream and flushes any residual short of a
// full PAYLOAD as its own SYN packet, so a message smaller than PAYLOAD
// still reaches the wire on this call rather than waiting for Close to
// flush it. It blocks while the sliding window is full and returns
// ErrClosedForSend if the local side has already closed (sent or is
// sending its FIN) or the session has failed.
func (s *Session) Send(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed || s.closed {
		return ErrClosedForSend
	}
	if err := s.dis.Write(b); err != nil {
		return err
	}
	return s.dis.Flush(false)
}

// Recv blocks until at least one byte is available, end-of-stream is
// reached, or the session fails, then returns whatever bytes have
// accumulated since the last Recv/Read call (b'' on end-of-stream/failure).
func (s *Session) Recv() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.unread) == 0 && !s.peerFinRx && !s.closed && !s.failed {
		s.cond.Wait()
	}
	if len(s.unread) == 0 {
		return []byte{}
	}
	out := s.unread
	s.unread = nil
	return out
}

// Read blocks until the peer has sent FIN and every preceding byte has
// been assembled, then returns the entire remaining stream.
func (s *Session) Read() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.peerFinRx && !s.closed && !s.failed {
		s.cond.Wait()
	}
	out := s.unread
	s.unread = nil
	return out
}

// Close flushes a terminal FIN for the local stream. It is idempotent and
// does not synchronously tear the session down; the Router removes it
// once the FIN is acknowledged and the peer's FIN has been drained, or on
// inactivity timeout.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dis.finished || s.failed {
		return
	}
	s.log.Info("session close requested")
	_ = s.dis.Flush(true)
}

// offer is called by the Router's Read Loop for an inbound SYN/FIN. It
// updates lastRx, feeds the assembler, drains any newly contiguous bytes
// into the unread buffer, and wakes blocked Recv/Read callers.
func (s *Session) offer(p Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRx = time.Now()
	if !s.asm.Offer(p) {
		s.m.recordDrop("out_of_window")
		return
	}
	newBytes := s.asm.Drain()
	if len(newBytes) > 0 {
		s.unread = append(s.unread, newBytes...)
	}
	if s.asm.PeerFinSeq != nil && !s.peerFinRx {
		s.peerFinRx = true
		s.log.Info("peer FIN drained")
	}
	s.cond.Broadcast()
}

// ackReceived applies an inbound ACK: every sequence in sendQueue that is
// either below the ACK's cumulative base, or within the reported window
// and flagged in the bitmap, is dropped from the queue; send_base then
// advances to the ACK's base. Dropping packets can free window room, so
// window-stalled Write callers are woken.
func (s *Session) ackReceived(p Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRx = time.Now()
	for seq := range s.sendQueue {
		if seq < p.Sequence {
			delete(s.sendQueue, seq)
			continue
		}
		if seq-p.Sequence < Window && AckBit(p.Acks, int(seq-p.Sequence)) {
			delete(s.sendQueue, seq)
		}
	}
	if p.Sequence > s.sendBase {
		s.sendBase = p.Sequence
	}
	s.cond.Broadcast()
}

// finalizable reports whether both directions have fully drained: the
// local FIN has been sent and acknowledged (send queue empty) and the
// peer's FIN has been received and delivered to the application.
func (s *Session) finalizable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dis.finished && len(s.sendQueue) == 0 && s.peerFinRx
}

// outboundPacket pairs a packet due for transmission with whether this is
// at least its second time on the wire, for the retransmission counter.
type outboundPacket struct {
	Packet     Packet
	Retransmit bool
}

// snapshotOutbound returns, in ascending order, the packets currently due
// for (re)transmission: every entry in sendQueue with sequence in
// [send_base, send_base+Window), plus a freshly built ACK packet
// summarizing the receive window. It must not be called while holding any
// lock the caller intends to hold across a blocking network send.
func (s *Session) snapshotOutbound() (data []outboundPacket, ack Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for seq := range s.txCount {
		if _, live := s.sendQueue[seq]; !live {
			delete(s.txCount, seq)
		}
	}

	for seq, pkt := range s.sendQueue {
		if seq >= s.sendBase && seq-s.sendBase < Window {
			retransmit := s.txCount[seq] > 0
			s.txCount[seq]++
			data = append(data, outboundPacket{Packet: pkt, Retransmit: retransmit})
		}
	}
	sortOutboundBySequence(data)

	var bitmap uint32
	for i := 0; i < Window; i++ {
		if s.asm.Window[i] != nil {
			bitmap = SetAckBit(bitmap, i)
		}
	}
	ack = Packet{Type: TypeACK, Sequence: s.asm.RecvBase, Acks: bitmap}
	return data, ack
}

// markFailed marks the session failed (inactivity timeout or router
// shutdown) and wakes every blocked caller; Recv/Read return b'' and Send
// returns ErrClosedForSend from then on.
func (s *Session) markFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed || s.closed {
		return
	}
	s.failed = true
	s.log.Warn("session failed: inactivity timeout or shutdown")
	s.m.sessionClosed(s.isClient)
	s.cond.Broadcast()
}

// markClosed marks a cleanly finished session closed and wakes waiters.
func (s *Session) markClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.failed {
		return
	}
	s.closed = true
	s.log.Info("session closed")
	s.m.sessionClosed(s.isClient)
	s.cond.Broadcast()
}

// idleFor reports how long it has been since the last valid datagram.
func (s *Session) idleFor(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastRx)
}

func (s *Session) done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed || s.failed
}

// sortOutboundBySequence sorts in place by ascending Sequence. Send queues
// are bounded by Window (32 entries), so an insertion sort keeps this
// allocation-free without reaching for sort.Slice on the hot path.
func sortOutboundBySequence(pkts []outboundPacket) {
	for i := 1; i < len(pkts); i++ {
		for j := i; j > 0 && pkts[j].Packet.Sequence < pkts[j-1].Packet.Sequence; j-- {
			pkts[j], pkts[j-1] = pkts[j-1], pkts[j]
		}
	}
}
