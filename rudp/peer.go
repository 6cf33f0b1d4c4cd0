package rudp

import (
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// A Peer is the protocol state of one remote endpoint: the client as
// seen by the server, or the server as seen by the client. It owns the
// sequencing counters, the retransmission queue, the receive reorder
// buffer and the outbound send queue. It holds no application state;
// the application maps peer IDs to its own objects.
type Peer struct {
	addr net.Addr

	state int32 // PeerState, atomic

	lastActive int64 // unix nanos, atomic

	dispatch func(*Peer, Pkt)

	idMu sync.RWMutex
	id   PeerID

	// sendMu guards everything on the send path so a seqnum is
	// assigned and its retransmission entry stored atomically.
	sendMu     sync.Mutex
	nextSendSN uint32
	relQueue   map[uint32]*pending
	queue      []outPkt

	// recvMu guards the reorder buffer. Dispatch runs under it, so
	// reliable delivery is serialized per peer.
	recvMu     sync.Mutex
	nextRecvSN uint32
	reorder    map[uint32]Pkt

	reasonMu    sync.Mutex
	discoReason string
}

type outPkt struct {
	pkt Pkt
	sn  uint32
	rel bool
}

type pending struct {
	pkt      Pkt
	deadline time.Time
	retries  int
}

// NewPeer returns a peer for addr in the Requesting state. dispatch is
// called with every packet the reliability layer releases to the
// application, in order for reliable traffic.
func NewPeer(addr net.Addr, id PeerID, dispatch func(*Peer, Pkt)) *Peer {
	p := &Peer{
		addr:     addr,
		id:       id,
		state:    int32(StateRequesting),
		dispatch: dispatch,
		relQueue: make(map[uint32]*pending),
		reorder:  make(map[uint32]Pkt),
	}
	p.touch()
	return p
}

// NewPeerID returns a random non-nil peer ID.
func NewPeerID() PeerID {
	for {
		if id := PeerID(rand.Int63()); id != PeerIDNil {
			return id
		}
	}
}

// Addr returns the remote address of the peer.
func (p *Peer) Addr() net.Addr { return p.addr }

// ID returns the peer's assigned ID, or PeerIDNil before assignment.
func (p *Peer) ID() PeerID {
	p.idMu.RLock()
	defer p.idMu.RUnlock()

	return p.id
}

// SetID assigns the peer ID. A client calls this once it learns its
// ID from the server's Accept.
func (p *Peer) SetID(id PeerID) {
	p.idMu.Lock()
	defer p.idMu.Unlock()

	p.id = id
}

// State returns the connection state of the peer.
func (p *Peer) State() PeerState {
	return PeerState(atomic.LoadInt32(&p.state))
}

// SetState transitions the connection state.
func (p *Peer) SetState(s PeerState) {
	atomic.StoreInt32(&p.state, int32(s))
}

// LastActive returns the time the last datagram arrived from the peer.
func (p *Peer) LastActive() time.Time {
	return time.Unix(0, atomic.LoadInt64(&p.lastActive))
}

func (p *Peer) touch() {
	atomic.StoreInt64(&p.lastActive, time.Now().UnixNano())
}

// DisconnectReason returns the reason recorded when the peer was
// disconnected, if any.
func (p *Peer) DisconnectReason() string {
	p.reasonMu.Lock()
	defer p.reasonMu.Unlock()

	return p.discoReason
}

func (p *Peer) setDisconnectReason(reason string) {
	p.reasonMu.Lock()
	defer p.reasonMu.Unlock()

	p.discoReason = reason
}

// AddToSendBuffer queues pkt for transmission. Reliable packets are
// assigned the next seqnum and entered into the retransmission queue;
// the same seqnum is resent verbatim until acknowledged.
func (p *Peer) AddToSendBuffer(pkt Pkt) {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	out := outPkt{pkt: pkt}
	if pkt.reliable() {
		out.sn = p.nextSendSN
		out.rel = true
		p.nextSendSN++
		p.relQueue[out.sn] = &pending{
			pkt:      pkt,
			deadline: time.Now().Add(ResendTimeout),
		}
	}
	p.queue = append(p.queue, out)
}

// popSend removes and returns the oldest queued outbound packet.
func (p *Peer) popSend() (outPkt, bool) {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	if len(p.queue) == 0 {
		return outPkt{}, false
	}
	out := p.queue[0]
	p.queue = p.queue[1:]
	return out, true
}

// AddToReceiveBuffer feeds one decoded datagram into the peer. It
// reports whether the packet was accepted. Unreliable packets are
// dispatched immediately. Reliable packets are acknowledged, ordered
// by the reorder buffer and dispatched exactly once in seqnum order.
func (p *Peer) AddToReceiveBuffer(pkt Pkt, hdr Hdr) bool {
	p.touch()

	// A client peer learns its server-assigned ID from the first
	// packet carrying one.
	if p.ID() == PeerIDNil && hdr.PeerID != PeerIDNil {
		p.SetID(hdr.PeerID)
	}

	if p.State() == StateConnected {
		if id := p.ID(); id != PeerIDNil && hdr.PeerID != id {
			return false
		}
	}

	if ack, ok := pkt.(*Ack); ok {
		p.handleAck(ack.Acked)
		return true
	}

	if !pkt.reliable() {
		p.dispatch(p, pkt)
		return true
	}

	p.recvMu.Lock()
	defer p.recvMu.Unlock()

	sn := hdr.Seqnum

	// A full reorder buffer only ever admits the packet that fills
	// the gap, so a flood of far-future seqnums cannot exhaust
	// memory.
	if len(p.reorder) >= MaxReorder && sn != p.nextRecvSN {
		return false
	}

	// Ack even duplicates so the sender's retransmit timer clears.
	p.AddToSendBuffer(&Ack{Acked: sn})

	if sn < p.nextRecvSN {
		// Duplicate of an already dispatched packet.
		return true
	}

	p.reorder[sn] = pkt
	for {
		next, ok := p.reorder[p.nextRecvSN]
		if !ok {
			break
		}
		delete(p.reorder, p.nextRecvSN)
		p.nextRecvSN++
		p.dispatch(p, next)
	}

	return true
}

// handleAck clears the referenced seqnum from the retransmission
// queue. Acks for unknown seqnums are ignored.
func (p *Peer) handleAck(sn uint32) {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	delete(p.relQueue, sn)
}

// resendSweep requeues every timed-out reliable packet. It reports
// whether any packet has exceeded MaxRetries, in which case the
// transport disconnects the peer.
func (p *Peer) resendSweep(now time.Time) (exhausted bool) {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	for sn, pend := range p.relQueue {
		if now.Before(pend.deadline) {
			continue
		}
		pend.retries++
		if pend.retries > MaxRetries {
			return true
		}
		pend.deadline = now.Add(RetryTimeout)
		p.queue = append(p.queue, outPkt{pkt: pend.pkt, sn: sn, rel: true})
	}

	return false
}

// pendingLen returns the number of unacknowledged reliable packets.
func (p *Peer) pendingLen() int {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	return len(p.relQueue)
}
