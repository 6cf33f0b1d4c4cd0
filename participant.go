package proxvoice

import (
	"sync"

	"github.com/proxvoice/proxvoice/rudp"
)

// A Participant binds a connected peer to its entity and channel. The
// peer carries only protocol state; the participant is the
// application-side identity the server routes audio for.
type Participant struct {
	peer     *rudp.Peer
	entityID int

	mu             sync.RWMutex
	key            int16
	bound          bool
	serverMuted    bool
	serverDeafened bool
	channel        int
	echoFactor     float32
	muffled        bool
	dead           bool
	checks         uint64
}

func newParticipant(peer *rudp.Peer, entityID int, key int16) *Participant {
	return &Participant{
		peer:     peer,
		entityID: entityID,
		key:      key,
		checks:   ^uint64(0),
	}
}

// Peer returns the network peer the participant is connected through.
func (pt *Participant) Peer() *rudp.Peer { return pt.peer }

// EntityID returns the ID of the participant's entity in the server's
// World.
func (pt *Participant) EntityID() int { return pt.entityID }

// Key returns the session key, unique among connected participants.
func (pt *Participant) Key() int16 {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	return pt.key
}

// Bound reports whether the participant has an associated external
// identity. Only bound participants are announced and routed.
func (pt *Participant) Bound() bool {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	return pt.bound
}

func (pt *Participant) setBound(bound bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	pt.bound = bound
}

func (pt *Participant) ServerMuted() bool {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	return pt.serverMuted
}

func (pt *Participant) SetServerMuted(muted bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	pt.serverMuted = muted
}

func (pt *Participant) ServerDeafened() bool {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	return pt.serverDeafened
}

func (pt *Participant) SetServerDeafened(deafened bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	pt.serverDeafened = deafened
}

// Channel returns the index of the channel the participant is in.
func (pt *Participant) Channel() int {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	return pt.channel
}

func (pt *Participant) setChannel(ch int) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	pt.channel = ch
}

func (pt *Participant) EchoFactor() float32 {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	return pt.echoFactor
}

func (pt *Participant) SetEchoFactor(f float32) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	pt.echoFactor = f
}

func (pt *Participant) Muffled() bool {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	return pt.muffled
}

func (pt *Participant) SetMuffled(muffled bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	pt.muffled = muffled
}

func (pt *Participant) Dead() bool {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	return pt.dead
}

func (pt *Participant) SetDead(dead bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	pt.dead = dead
}

// Checks returns the server-side gate override mask. It is ANDed with
// the entity's talk and listen masks during routing; the default (all
// ones) leaves the entity masks in charge.
func (pt *Participant) Checks() uint64 {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	return pt.checks
}

// AndChecks, OrChecks and XorChecks combine the given mask into the
// override; they back the external bitmask API.
func (pt *Participant) AndChecks(mask uint64) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	pt.checks &= mask
}

func (pt *Participant) OrChecks(mask uint64) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	pt.checks |= mask
}

func (pt *Participant) XorChecks(mask uint64) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	pt.checks ^= mask
}
