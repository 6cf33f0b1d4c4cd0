package proxvoice

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/proxvoice/proxvoice/rudp"
)

// Bitmask gate bits. A set bit means the gate is active; exempting an
// entity from a gate clears the bit. Audio only routes between a
// speaker and listener whose talk and listen masks intersect.
const (
	// MaskProximity gates audio on distance.
	MaskProximity uint64 = 1 << 0

	// MaskDeath makes dead participants inaudible (and deaf, on the
	// listen side).
	MaskDeath uint64 = 1 << 1

	// MaskEnvironment requires a non-empty, matching environment ID.
	MaskEnvironment uint64 = 1 << 2

	// MaskVoiceEffects enables echo and muffle computation.
	MaskVoiceEffects uint64 = 1 << 3

	// MaskGroupDefault is the talk/listen group every entity starts
	// in. Group bits occupy bit 8 and up.
	MaskGroupDefault uint64 = 1 << 8
)

// DefaultBitmask is the strict default: every gate active, default
// group only.
const DefaultBitmask = MaskProximity | MaskDeath | MaskEnvironment |
	MaskVoiceEffects | MaskGroupDefault

// SilenceThreshold is how long after the last audio frame an entity
// still counts as speaking.
const SilenceThreshold = 500 * time.Millisecond

// An Entity is one spatial actor in a World: a connected user or a
// game-bound puppet. Entities are owned by their World; everything
// else refers to them by ID.
type Entity struct {
	id int

	mu           sync.RWMutex
	worldID      string
	name         string
	muted        bool
	deafened     bool
	talkMask     uint64
	listenMask   uint64
	position     rudp.Vec3
	rotation     float32 // radians
	caveFactor   float32
	muffleFactor float32
	maxRange     float32
	props        map[string]interface{}
	lastSpoke    time.Time
	destroyed    bool
}

func newEntity(id int) *Entity {
	return &Entity{
		id:         id,
		talkMask:   DefaultBitmask,
		listenMask: DefaultBitmask,
		props:      make(map[string]interface{}),
	}
}

// ID returns the entity's World-unique ID.
func (e *Entity) ID() int { return e.id }

func (e *Entity) WorldID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.worldID
}

func (e *Entity) SetWorldID(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.worldID = id
}

func (e *Entity) Name() string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.name
}

func (e *Entity) SetName(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.name = name
}

func (e *Entity) Muted() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.muted
}

func (e *Entity) SetMuted(muted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.muted = muted
}

func (e *Entity) Deafened() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.deafened
}

func (e *Entity) SetDeafened(deafened bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.deafened = deafened
}

func (e *Entity) TalkMask() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.talkMask
}

func (e *Entity) SetTalkMask(mask uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.talkMask = mask
}

func (e *Entity) ListenMask() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.listenMask
}

func (e *Entity) SetListenMask(mask uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.listenMask = mask
}

func (e *Entity) Position() rudp.Vec3 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.position
}

func (e *Entity) SetPosition(pos rudp.Vec3) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.position = pos
}

// Rotation returns the entity's heading in radians.
func (e *Entity) Rotation() float32 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.rotation
}

func (e *Entity) SetRotation(rot float32) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rotation = rot
}

// CaveFactor is the acoustic echo contribution of the entity's
// surroundings, 0..1.
func (e *Entity) CaveFactor() float32 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.caveFactor
}

func (e *Entity) SetCaveFactor(f float32) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.caveFactor = f
}

// MuffleFactor is the acoustic damping of the entity's surroundings,
// 0..1.
func (e *Entity) MuffleFactor() float32 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.muffleFactor
}

func (e *Entity) SetMuffleFactor(f float32) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.muffleFactor = f
}

// MaxRange is the entity's audible range for the visibility check.
func (e *Entity) MaxRange() float32 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.maxRange
}

func (e *Entity) SetMaxRange(r float32) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.maxRange = r
}

// Property returns a bag property, or nil.
func (e *Entity) Property(name string) interface{} {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.props[name]
}

// SetProperty stores a typed property. Only byte, int, uint and
// float64 values are accepted.
func (e *Entity) SetProperty(name string, v interface{}) error {
	switch v.(type) {
	case byte, int, uint, float64:
	default:
		return fmt.Errorf("property %q: unsupported type %T", name, v)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.props[name] = v
	return nil
}

// MarkSpoke records that an audio frame just arrived from the entity.
func (e *Entity) MarkSpoke() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastSpoke = time.Now()
}

// IsSpeaking reports whether the entity produced audio within
// SilenceThreshold.
func (e *Entity) IsSpeaking() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return !e.lastSpoke.IsZero() && time.Since(e.lastSpoke) < SilenceThreshold
}

// Destroyed reports whether the entity has been removed from its
// World. Once set it never clears.
func (e *Entity) Destroyed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.destroyed
}

func (e *Entity) destroy() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.destroyed = true
}

// VisibleTo reports whether o can hear e at all: same non-empty
// environment, intersecting talk/listen masks, and within range unless
// e's proximity gate is cleared. Visibility is directional; asymmetric
// masks give asymmetric results.
func (e *Entity) VisibleTo(o *Entity) bool {
	ew, ow := e.WorldID(), o.WorldID()
	if ew == "" || ew != ow {
		return false
	}

	talk := e.TalkMask()
	if talk&o.ListenMask() == 0 {
		return false
	}

	if talk&MaskProximity == 0 {
		return true
	}

	maxRange := e.MaxRange()
	if r := o.MaxRange(); r > maxRange {
		maxRange = r
	}
	return Distance(e.Position(), o.Position()) <= maxRange
}

// Distance returns the Euclidean distance between two positions.
func Distance(a, b rudp.Vec3) float32 {
	dx := float64(a.X - b.X)
	dy := float64(a.Y - b.Y)
	dz := float64(a.Z - b.Z)
	return float32(math.Sqrt(dx*dx + dy*dy + dz*dz))
}
