/*
Package rudp implements the proxvoice low-level protocol: a UDP
transport with per-peer application-level reliability.

Every packet starts with a 1-byte type tag followed by the sender's
8-byte peer ID. Reliable packet types additionally carry a 4-byte
sequence number. Reliable packets are resent until acknowledged and are
dispatched to the application exactly once, in send order, per peer.
Unreliable packets are dispatched immediately in arrival order.

All exported functions and methods in this package are safe for
concurrent use by multiple goroutines.
*/
package rudp

import (
	"encoding/binary"
	"time"
)

var le = binary.LittleEndian

// A PeerID identifies a connection. Server-assigned, random and
// non-zero; packets claiming an established peer's address but
// carrying the wrong ID are rejected.
type PeerID int64

// PeerIDNil is used by clients before the server assigns their ID.
const PeerIDNil PeerID = 0

// seqnums order reliable packets within one peer's stream.
// The first reliable packet a peer sends has seqnum 0.
type seqnum = uint32

const (
	// ResendTimeout is how long a reliable packet may stay
	// unacknowledged before its first retransmission.
	ResendTimeout = 300 * time.Millisecond

	// RetryTimeout is the retransmission interval after the first
	// resend.
	RetryTimeout = 500 * time.Millisecond

	// MaxRetries is the number of retransmissions of a single
	// reliable packet after which the peer is considered unstable
	// and is disconnected.
	MaxRetries = 20

	// MaxReorder is the reorder buffer capacity. Out-of-order
	// reliable packets beyond this bound are rejected so a remote
	// cannot exhaust memory by never sending the expected seqnum.
	MaxReorder = 30

	// ConnTimeout is the amount of time after no packets being
	// received from a peer that it is automatically disconnected.
	ConnTimeout = 8 * time.Second

	// PingInterval is how often a client sends keepalive pings.
	PingInterval = 2 * time.Second

	// SendBudget is the wall-clock time one peer's send queue may
	// occupy per drain pass so a noisy peer cannot starve others.
	SendBudget = 100 * time.Millisecond

	// MaxNetPktSize is the largest datagram sent or accepted.
	MaxNetPktSize = 2048

	// serverAudioOverhead is the wire size of a ServerAudio with an
	// empty blob: unreliable header, key, frame, volume, rotation,
	// echo, muffled flag and blob length prefix.
	serverAudioOverhead = HdrSize + 2 + 4 + 4 + 4 + 4 + 1 + 4

	// MaxAudioSize is the largest audio blob that still fits a routed
	// ServerAudio in one datagram. Inbound frames with bigger blobs
	// must be dropped; they could not be forwarded to listeners.
	MaxAudioSize = MaxNetPktSize - serverAudioOverhead
)

// A PeerState is a connection handshake state.
type PeerState uint8

const (
	StateDisconnected PeerState = iota

	// StateRequesting is entered on receipt of a login-class packet
	// from an unknown address. The application promotes the peer to
	// StateConnected by accepting it, or back to StateDisconnected
	// by denying it.
	StateRequesting

	StateConnected
	StateDisconnecting
)

func (s PeerState) String() string {
	switch s {
	case StateRequesting:
		return "requesting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	}
	return "disconnected"
}
