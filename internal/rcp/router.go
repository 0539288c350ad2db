package rcp

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// datagramBufferSize is large enough for one full frame (type + sequence +
// bitmap/ payload) at the default Payload, with headroom for future
// PAYLOAD tuning; any peer using a larger PAYLOAD than this must be
// configured to match.
const datagramBufferSize = 2048

// RouterConfig holds the handful of tunables spec.md leaves to the
// implementation: the Write Loop's retransmission/ACK tick, the
// inactivity timeout after which an idle session is torn down, the
// accept-queue depth, and where to send logs. There is no config-file or
// env-var surface (spec.md §6); this is a plain options struct because
// four fields don't warrant a parsing library.
type RouterConfig struct {
	TickInterval      time.Duration
	InactivityTimeout time.Duration
	AcceptBacklog     int
	Logger            *logrus.Logger
}

// DefaultConfig returns the tuning spec.md §6/§8 uses for its own tests:
// a 100ms tick and a 300ms inactivity timeout.
func DefaultConfig() RouterConfig {
	return RouterConfig{
		TickInterval:      100 * time.Millisecond,
		InactivityTimeout: 300 * time.Millisecond,
		AcceptBacklog:     20,
		Logger:            logrus.StandardLogger(),
	}
}

func (c *RouterConfig) setDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = 100 * time.Millisecond
	}
	if c.InactivityTimeout <= 0 {
		c.InactivityTimeout = 300 * time.Millisecond
	}
	if c.AcceptBacklog <= 0 {
		c.AcceptBacklog = 20
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
}

// Router owns one UDP socket, the session table keyed by peer address, and
// the accept queue, and runs the Read and Write loops of spec.md §4.5/§4.6.
type Router struct {
	conn net.PacketConn
	cfg  RouterConfig

	m         *metrics
	collector *rcpCollector
	log       *logrus.Entry

	tableMu   sync.Mutex
	sessions  map[string]*Session
	listening bool

	acceptCh chan *Session

	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewRouter binds a UDP socket at bindAddr and starts the Read and Write
// loops. It returns ErrBindFailed on bind failure.
func NewRouter(bindAddr string, cfg RouterConfig) (*Router, error) {
	laddr, err := net.ResolveUDPAddr("udp", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving %s: %v", ErrBindFailed, bindAddr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBindFailed, err)
	}
	return NewRouterWithConn(conn, cfg), nil
}

// NewRouterWithConn builds a Router over an already-established
// net.PacketConn, letting tests and the loss-tolerance property test
// substitute a fault-injecting transport (internal/faultconn) without
// touching real sockets.
func NewRouterWithConn(conn net.PacketConn, cfg RouterConfig) *Router {
	cfg.setDefaults()
	m := newMetrics()
	r := &Router{
		conn:     conn,
		cfg:      cfg,
		m:        m,
		sessions: make(map[string]*Session),
		acceptCh: make(chan *Session, cfg.AcceptBacklog),
		stopCh:   make(chan struct{}),
		log:      cfg.Logger.WithField("local", conn.LocalAddr().String()),
	}
	r.collector = &rcpCollector{m: m}

	r.wg.Add(2)
	go r.readLoop()
	go r.writeLoop()
	return r
}

// Collector returns the Router's prometheus.Collector so an embedding
// program can prometheus.MustRegister it, as cmd/rcp-echo does.
func (r *Router) Collector() prometheus.Collector { return r.collector }

// Listen enables accepting sessions initiated by datagrams from unknown
// peers; such sessions are enqueued for Accept.
func (r *Router) Listen() {
	r.tableMu.Lock()
	r.listening = true
	r.tableMu.Unlock()
	r.log.Info("router listening")
}

// Accept blocks until a session initiated by a remote peer is available,
// or the Router is closed (in which case it returns nil).
func (r *Router) Accept() *Session {
	s, ok := <-r.acceptCh
	if !ok {
		return nil
	}
	return s
}

// Connect creates a session for peerAddr and registers it in the session
// table. No handshake packet is sent; the peer creates its side of the
// session the first time its Read Loop sees any datagram from us while it
// is listening (in practice the Write Loop's first ACK or SYN).
func (r *Router) Connect(peerAddr string) (*Session, error) {
	addr, err := net.ResolveUDPAddr("udp", peerAddr)
	if err != nil {
		return nil, fmt.Errorf("rcp: resolving peer %s: %w", peerAddr, err)
	}
	s := newSession(addr, true, r.m, r.cfg.Logger)

	r.tableMu.Lock()
	r.sessions[addr.String()] = s
	r.tableMu.Unlock()
	return s, nil
}

// Close closes every session, stops the Read and Write loops, and closes
// the underlying socket. It is idempotent.
func (r *Router) Close() {
	r.closeOnce.Do(func() {
		r.log.Info("router closing")
		close(r.stopCh)
		r.conn.Close()

		r.tableMu.Lock()
		sessions := make([]*Session, 0, len(r.sessions))
		for _, s := range r.sessions {
			sessions = append(sessions, s)
		}
		r.sessions = make(map[string]*Session)
		r.tableMu.Unlock()

		for _, s := range sessions {
			s.markFailed()
		}
		close(r.acceptCh)
		r.wg.Wait()
	})
}

// readLoop is the single thread demultiplexing inbound datagrams to
// sessions by source address (spec.md §4.5).
func (r *Router) readLoop() {
	defer r.wg.Done()
	buf := make([]byte, datagramBufferSize)
	for {
		select {
		case <-r.stopCh:
			return
		default:
		}

		n, addr, err := r.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-r.stopCh:
				return
			default:
			}
			r.log.WithError(err).Debug("read loop: recv error")
			continue
		}

		p, err := Decode(buf[:n])
		if err != nil {
			r.m.recordDrop("malformed")
			r.log.WithError(err).WithField("peer", addr.String()).Debug("dropping malformed datagram")
			continue
		}
		r.m.recordReceive(n)

		session, isNew := r.sessionFor(addr, p)
		if session == nil {
			r.m.recordDrop("unknown_peer")
			continue
		}
		if isNew {
			r.offerAccept(session)
		}

		switch p.Type {
		case TypeSYN, TypeFIN:
			session.offer(p)
		case TypeACK:
			session.ackReceived(p)
		}

		r.tryFinalize(addr.String(), session)
	}
}

// sessionFor finds the session owning addr, creating one if the datagram
// arrived from an unknown peer and the router is listening. The returned
// bool is true when a new session was just created and must be offered to
// Accept.
func (r *Router) sessionFor(addr net.Addr, p Packet) (*Session, bool) {
	key := addr.String()

	r.tableMu.Lock()
	defer r.tableMu.Unlock()

	if s, ok := r.sessions[key]; ok {
		return s, false
	}
	if !r.listening {
		return nil, false
	}
	s := newSession(addr, false, r.m, r.cfg.Logger)
	r.sessions[key] = s
	return s, true
}

// offerAccept enqueues a newly created server-side session, dropping and
// tearing it down if the accept queue is full (mirroring the teacher's
// bounded-backlog behavior: the peer can simply retry).
func (r *Router) offerAccept(s *Session) {
	select {
	case r.acceptCh <- s:
		r.log.WithField("session", s.ID()).Info("accepted session")
	default:
		r.log.WithField("session", s.ID()).Warn("accept queue full, dropping session")
		r.tableMu.Lock()
		delete(r.sessions, s.Peer().String())
		r.tableMu.Unlock()
		s.markFailed()
	}
}

// tryFinalize removes and marks closed any session that has fully drained
// both directions (spec.md §4.5 step 6).
func (r *Router) tryFinalize(key string, s *Session) {
	if !s.finalizable() {
		return
	}
	r.tableMu.Lock()
	delete(r.sessions, key)
	r.tableMu.Unlock()
	s.markClosed()
}

// writeLoop is the single thread periodically retransmitting
// unacknowledged data and sending ACKs for every session (spec.md §4.6),
// and reaping sessions that have gone quiet past the inactivity timeout.
func (r *Router) writeLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case now := <-ticker.C:
			r.tick(now)
		}
	}
}

func (r *Router) tick(now time.Time) {
	r.tableMu.Lock()
	sessions := make(map[string]*Session, len(r.sessions))
	for k, s := range r.sessions {
		sessions[k] = s
	}
	r.tableMu.Unlock()

	for key, s := range sessions {
		if s.idleFor(now) > r.cfg.InactivityTimeout {
			r.tableMu.Lock()
			delete(r.sessions, key)
			r.tableMu.Unlock()
			s.markFailed()
			continue
		}

		data, ack := s.snapshotOutbound()
		for _, out := range data {
			n, err := r.conn.WriteTo(out.Packet.Encode(), s.Peer())
			if err != nil {
				r.log.WithError(err).WithField("session", s.ID()).Debug("write loop: send error")
				continue
			}
			r.m.recordSend(n, out.Retransmit)
		}
		if n, err := r.conn.WriteTo(ack.Encode(), s.Peer()); err != nil {
			r.log.WithError(err).WithField("session", s.ID()).Debug("write loop: ack send error")
		} else {
			r.m.recordSend(n, false)
		}

		r.tryFinalize(key, s)
	}
}
