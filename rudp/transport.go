package rudp

import (
	"errors"
	"expvar"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/time/rate"
)

var (
	pktsIn        = expvar.NewInt("rudp_pkts_in")
	pktsOut       = expvar.NewInt("rudp_pkts_out")
	pktsMalformed = expvar.NewInt("rudp_pkts_malformed")
	pktsLimited   = expvar.NewInt("rudp_pkts_rate_limited")
	pktsUnknown   = expvar.NewInt("rudp_pkts_unknown_peer")
	pktsOversize  = expvar.NewInt("rudp_pkts_oversize")
)

// A Handler is the application side of a Transport. HandlePkt is
// called synchronously from the receive goroutine and must not block;
// blocking work belongs on a queue of the application's own.
type Handler interface {
	// HandlePkt receives every packet the reliability layer releases.
	HandlePkt(p *Peer, pkt Pkt)

	// PeerGone is called exactly once when a peer leaves the peer
	// table, whatever the cause.
	PeerGone(p *Peer, reason string)

	// Unconnected handles a connectionless packet from an address
	// with no peer. A non-nil reply is sent straight back.
	Unconnected(addr net.Addr, pkt Pkt) Pkt
}

// A Config bundles the tunables of a Transport. The zero value selects
// the defaults.
type Config struct {
	// UnconnectedRate is the per-address packets/sec budget applied
	// to traffic from unknown addresses before any decode work.
	UnconnectedRate int

	// Timeout disconnects peers after this much inactivity.
	Timeout time.Duration
}

const defaultUnconnectedRate = 10

func (c Config) withDefaults() Config {
	if c.UnconnectedRate <= 0 {
		c.UnconnectedRate = defaultUnconnectedRate
	}
	if c.Timeout <= 0 {
		c.Timeout = ConnTimeout
	}
	return c
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// A Transport owns one UDP socket and demultiplexes datagrams to
// peers. In server mode unknown addresses go through a rate-limited
// handshake slow path; in client mode there is a single peer, the
// server, kept alive with periodic pings.
type Transport struct {
	conn    net.PacketConn
	handler Handler
	cfg     Config
	server  bool

	mu    sync.RWMutex
	peers map[string]*Peer

	limMu    sync.Mutex
	limiters map[string]*limiterEntry

	closing uint32
	done    chan struct{}
	errs    chan error
}

func newTransport(conn net.PacketConn, handler Handler, cfg Config, server bool) *Transport {
	return &Transport{
		conn:     conn,
		handler:  handler,
		cfg:      cfg.withDefaults(),
		server:   server,
		peers:    make(map[string]*Peer),
		limiters: make(map[string]*limiterEntry),
		done:     make(chan struct{}),
		errs:     make(chan error, 1),
	}
}

// Listen returns a server-mode Transport on conn and starts its
// loops. Stop it with Stop.
func Listen(conn net.PacketConn, handler Handler, cfg Config) *Transport {
	t := newTransport(conn, handler, cfg, true)
	t.start()
	return t
}

// Connect returns a client-mode Transport on conn whose single peer is
// the server at addr. The peer starts in the Requesting state; the
// application sends Login and promotes it on Accept.
func Connect(conn net.PacketConn, addr net.Addr, handler Handler, cfg Config) *Transport {
	t := newTransport(conn, handler, cfg, false)
	p := NewPeer(addr, PeerIDNil, t.dispatch)
	t.peers[addr.String()] = p
	t.start()
	return t
}

func (t *Transport) start() {
	go t.recvLoop()
	go t.tickLoop()
	go t.sweepLoop()
}

// Done returns a channel that is closed when the Transport stops.
func (t *Transport) Done() <-chan struct{} { return t.done }

// Errs surfaces the fatal error that stopped the Transport, if any.
func (t *Transport) Errs() <-chan error { return t.errs }

// Conn returns the underlying socket.
func (t *Transport) Conn() net.PacketConn { return t.conn }

// Srv returns the server peer of a client-mode Transport.
func (t *Transport) Srv() *Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, p := range t.peers {
		return p
	}
	return nil
}

// Peers returns all current peers.
func (t *Transport) Peers() []*Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ps := make([]*Peer, 0, len(t.peers))
	for _, p := range t.peers {
		ps = append(ps, p)
	}
	return ps
}

// PeerCount returns the number of entries in the peer table.
func (t *Transport) PeerCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.peers)
}

// Stop cancels all loops and closes the socket. In-flight sends are
// allowed to fail fast; nothing waits for acknowledgments.
func (t *Transport) Stop() {
	if !atomic.CompareAndSwapUint32(&t.closing, 0, 1) {
		return
	}
	close(t.done)
	t.conn.Close()
}

func (t *Transport) stopped() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func (t *Transport) fail(err error) {
	select {
	case t.errs <- err:
	default:
	}
	t.Stop()
}

func (t *Transport) dispatch(p *Peer, pkt Pkt) {
	t.handler.HandlePkt(p, pkt)
}

// Disconnect removes p from the peer table, optionally sending one
// best-effort Logout first, and informs the handler.
func (t *Transport) Disconnect(p *Peer, reason string, notify bool) {
	t.mu.Lock()
	cur, ok := t.peers[p.Addr().String()]
	if !ok || cur != p {
		t.mu.Unlock()
		return
	}
	delete(t.peers, p.Addr().String())
	t.mu.Unlock()

	if notify {
		t.writePkt(p.Addr(), &Logout{Reason: reason}, p.ID(), 0)
	}

	p.SetState(StateDisconnected)
	p.setDisconnectReason(reason)
	t.handler.PeerGone(p, reason)
}

// SendUnconnected serializes pkt and sends it straight to addr with no
// peer or reliability wrapper.
func (t *Transport) SendUnconnected(addr net.Addr, pkt Pkt) error {
	if pkt.reliable() {
		return fmt.Errorf("can't send %v pkt unconnected", Type(pkt))
	}
	return t.writePkt(addr, pkt, PeerIDNil, 0)
}

func (t *Transport) writePkt(addr net.Addr, pkt Pkt, id PeerID, sn uint32) error {
	buf := make([]byte, MaxNetPktSize)
	n, err := Encode(buf, pkt, id, sn)
	if err != nil {
		return err
	}
	if _, err := t.conn.WriteTo(buf[:n], addr); err != nil {
		return err
	}
	pktsOut.Add(1)
	return nil
}

func (t *Transport) peer(addr string) *Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.peers[addr]
}

func (t *Transport) recvLoop() {
	buf := make([]byte, MaxNetPktSize)

	for {
		n, addr, err := t.conn.ReadFrom(buf)
		if err != nil {
			if t.stopped() || errors.Is(err, net.ErrClosed) {
				return
			}
			if transientErr(err) {
				continue
			}
			t.fail(err)
			return
		}
		pktsIn.Add(1)

		p := t.peer(addr.String())
		if p == nil {
			t.unknownAddr(addr, buf[:n])
			continue
		}

		pkt, hdr, err := Decode(buf[:n])
		if err != nil {
			pktsMalformed.Add(1)
			continue
		}
		p.AddToReceiveBuffer(pkt, hdr)
	}
}

// unknownAddr is the handshake slow path. The rate limit is checked
// before decoding so a flood costs nearly nothing.
func (t *Transport) unknownAddr(addr net.Addr, data []byte) {
	if !t.server {
		return
	}

	if !t.allowUnconnected(addr) {
		pktsLimited.Add(1)
		return
	}

	pkt, hdr, err := Decode(data)
	if err != nil {
		pktsMalformed.Add(1)
		return
	}

	switch pkt.(type) {
	case *Login:
		p := NewPeer(addr, NewPeerID(), t.dispatch)

		t.mu.Lock()
		if existing, ok := t.peers[addr.String()]; ok {
			p = existing
		} else {
			t.peers[addr.String()] = p
		}
		t.mu.Unlock()

		p.AddToReceiveBuffer(pkt, hdr)
	case *Ping, *PingInfo:
		if reply := t.handler.Unconnected(addr, pkt); reply != nil {
			t.SendUnconnected(addr, reply)
		}
	default:
		pktsUnknown.Add(1)
	}
}

func (t *Transport) allowUnconnected(addr net.Addr) bool {
	t.limMu.Lock()
	defer t.limMu.Unlock()

	key := addrKey(addr)
	e, ok := t.limiters[key]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(
			rate.Limit(t.cfg.UnconnectedRate), t.cfg.UnconnectedRate)}
		t.limiters[key] = e
	}
	e.lastSeen = time.Now()
	return e.lim.Allow()
}

func addrKey(addr net.Addr) string {
	if ua, ok := addr.(*net.UDPAddr); ok {
		return ua.IP.String()
	}
	return addr.String()
}

// tickLoop drives retransmissions and drains the per-peer send queues.
func (t *Transport) tickLoop() {
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()

	ping := time.NewTicker(PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ping.C:
			if !t.server {
				if p := t.Srv(); p != nil {
					p.AddToSendBuffer(&Ping{})
				}
			}
		case now := <-tick.C:
			for _, p := range t.Peers() {
				if p.resendSweep(now) {
					t.Disconnect(p, "unstable connection", true)
					continue
				}
				t.drain(p)
			}
		}
	}
}

// drain sends queued packets for p until the queue is empty or the
// per-peer wall-clock budget is spent.
func (t *Transport) drain(p *Peer) {
	deadline := time.Now().Add(SendBudget)

	for time.Now().Before(deadline) {
		out, ok := p.popSend()
		if !ok {
			return
		}
		if err := t.writePkt(p.Addr(), out.pkt, p.ID(), out.sn); err != nil {
			// An un-encodable packet is dropped; it must not take
			// the transport (and every other peer) down with it.
			if errors.Is(err, ErrBufTooSmall) || errors.Is(err, ErrPktTooBig) {
				pktsOversize.Add(1)
				continue
			}
			if t.stopped() || errors.Is(err, net.ErrClosed) {
				return
			}
			if !transientErr(err) {
				t.fail(err)
				return
			}
		}
	}
}

// sweepLoop reaps inactive peers and stale rate-limiter entries.
func (t *Transport) sweepLoop() {
	tick := time.NewTicker(time.Second)
	defer tick.Stop()

	for {
		select {
		case <-t.done:
			return
		case now := <-tick.C:
			for _, p := range t.Peers() {
				if now.Sub(p.LastActive()) > t.cfg.Timeout {
					t.Disconnect(p, "timed out", false)
				}
			}

			t.limMu.Lock()
			for key, e := range t.limiters {
				if now.Sub(e.lastSeen) > 10*time.Second {
					delete(t.limiters, key)
				}
			}
			t.limMu.Unlock()
		}
	}
}

// transientErr reports whether a socket error should be swallowed and
// the loop continued.
func transientErr(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED)
}
