package rudp

// A PktType is the 1-byte tag at the start of every datagram.
type PktType uint8

const (
	TypeLogin PktType = iota
	TypeLogout
	TypeAccept
	TypeDeny
	TypeAck
	TypePing
	TypePingInfo
	TypeBind
	TypeBinded
	TypeUnbind
	TypeUnbinded
	TypeParticipantJoined
	TypeParticipantLeft
	TypeMute
	TypeUnmute
	TypeDeafen
	TypeUndeafen
	TypeJoinChannel
	TypeLeaveChannel
	TypeAddChannel
	TypeRemoveChannel
	TypeUpdatePosition
	TypeFullUpdatePosition
	TypeUpdateEnvironmentID
	TypeClientAudio
	TypeServerAudio
	maxPktType
)

var pktTypeNames = [maxPktType]string{
	"login", "logout", "accept", "deny", "ack", "ping", "pinginfo",
	"bind", "binded", "unbind", "unbinded",
	"participantjoined", "participantleft",
	"mute", "unmute", "deafen", "undeafen",
	"joinchannel", "leavechannel", "addchannel", "removechannel",
	"updateposition", "fullupdateposition", "updateenvironmentid",
	"clientaudio", "serveraudio",
}

func (t PktType) String() string {
	if t < maxPktType {
		return pktTypeNames[t]
	}
	return "invalid"
}

// A Pkt is one decoded protocol packet. The set of implementations is
// closed; dispatch sites type switch over it exhaustively.
type Pkt interface {
	pktType() PktType

	// reliable reports whether packets of this type are sequenced,
	// acknowledged and retransmitted.
	reliable() bool
}

// Type returns the wire tag of pkt.
func Type(pkt Pkt) PktType { return pkt.pktType() }

// Reliable reports whether pkt travels on the reliable channel.
func Reliable(pkt Pkt) bool { return pkt.reliable() }

// A Vec3 is a position in the game world.
type Vec3 struct {
	X, Y, Z float32
}

// Login requests a connection. It is the only reliable packet accepted
// from an address without an established peer.
type Login struct {
	Key             int16 // preferred session key, 0 = any
	PositioningType uint8
	Version         string
	Token           string
}

// Logout announces a disconnect. Sent best-effort; neither side waits
// for it to arrive.
type Logout struct {
	Reason string
}

// Accept promotes a requesting peer to connected. The assigned peer ID
// travels in the packet header.
type Accept struct {
	Key int16
}

// Deny rejects a login or channel join, naming the reason.
type Deny struct {
	Reason string
}

// Ack acknowledges receipt of the reliable packet with seqnum Acked.
type Ack struct {
	Acked uint32
}

// Ping is a keepalive. It carries no payload.
type Ping struct{}

// PingInfo is the stateless discovery exchange. A request has zero
// fields; the response describes the server. No peer is created.
type PingInfo struct {
	Participants    uint32
	MOTD            string
	PositioningType uint8
	Version         string
}

// Bind associates the sending client with a game identity
// (client-sided positioning mode).
type Bind struct {
	Key  int16
	Name string
}

// Binded notifies a client that its participant is now bound.
type Binded struct {
	Name string
}

type Unbind struct{}

type Unbinded struct{}

// ParticipantJoined announces a bound participant to a channel member.
type ParticipantJoined struct {
	Key      int16
	Name     string
	Muted    bool
	Deafened bool
}

type ParticipantLeft struct {
	Key int16
}

// Mute and friends carry the subject's session key. Clients send their
// own key (or 0) to change their own state; the server broadcasts the
// affected participant's key.
type Mute struct{ Key int16 }

type Unmute struct{ Key int16 }

type Deafen struct{ Key int16 }

type Undeafen struct{ Key int16 }

// JoinChannel requests membership of a channel by index. The server
// echoes it back (password cleared) to confirm the join.
type JoinChannel struct {
	Channel  uint8
	Password string
}

type LeaveChannel struct {
	Channel uint8
}

// AddChannel advertises a channel to a client.
type AddChannel struct {
	Channel           uint8
	Name              string
	Locked            bool
	Hidden            bool
	PasswordProtected bool
}

type RemoveChannel struct {
	Channel uint8
}

// UpdatePosition carries a client-sided position sample.
type UpdatePosition struct {
	Position Vec3
}

// FullUpdatePosition carries the complete spatial state of a
// participant.
type FullUpdatePosition struct {
	Position   Vec3
	Rotation   float32
	CaveFactor float32
	Muffled    bool
	Dead       bool
}

// UpdateEnvironmentID sets the audible-universe partition key.
type UpdateEnvironmentID struct {
	EnvironmentID string
}

// ClientAudio is one captured frame travelling client to server. The
// audio blob is opaque.
type ClientAudio struct {
	Key     int16
	Frame   uint32
	Channel uint8
	Audio   []byte
}

// ServerAudio is one routed frame travelling server to client,
// carrying the mix parameters computed for this listener.
type ServerAudio struct {
	Key      int16
	Frame    uint32
	Volume   float32
	Rotation float32
	Echo     float32
	Muffled  bool
	Audio    []byte
}

func (*Login) pktType() PktType               { return TypeLogin }
func (*Logout) pktType() PktType              { return TypeLogout }
func (*Accept) pktType() PktType              { return TypeAccept }
func (*Deny) pktType() PktType                { return TypeDeny }
func (*Ack) pktType() PktType                 { return TypeAck }
func (*Ping) pktType() PktType                { return TypePing }
func (*PingInfo) pktType() PktType            { return TypePingInfo }
func (*Bind) pktType() PktType                { return TypeBind }
func (*Binded) pktType() PktType              { return TypeBinded }
func (*Unbind) pktType() PktType              { return TypeUnbind }
func (*Unbinded) pktType() PktType            { return TypeUnbinded }
func (*ParticipantJoined) pktType() PktType   { return TypeParticipantJoined }
func (*ParticipantLeft) pktType() PktType     { return TypeParticipantLeft }
func (*Mute) pktType() PktType                { return TypeMute }
func (*Unmute) pktType() PktType              { return TypeUnmute }
func (*Deafen) pktType() PktType              { return TypeDeafen }
func (*Undeafen) pktType() PktType            { return TypeUndeafen }
func (*JoinChannel) pktType() PktType         { return TypeJoinChannel }
func (*LeaveChannel) pktType() PktType        { return TypeLeaveChannel }
func (*AddChannel) pktType() PktType          { return TypeAddChannel }
func (*RemoveChannel) pktType() PktType       { return TypeRemoveChannel }
func (*UpdatePosition) pktType() PktType      { return TypeUpdatePosition }
func (*FullUpdatePosition) pktType() PktType  { return TypeFullUpdatePosition }
func (*UpdateEnvironmentID) pktType() PktType { return TypeUpdateEnvironmentID }
func (*ClientAudio) pktType() PktType         { return TypeClientAudio }
func (*ServerAudio) pktType() PktType         { return TypeServerAudio }

func (*Login) reliable() bool               { return true }
func (*Logout) reliable() bool              { return false }
func (*Accept) reliable() bool              { return true }
func (*Deny) reliable() bool                { return false }
func (*Ack) reliable() bool                 { return false }
func (*Ping) reliable() bool                { return false }
func (*PingInfo) reliable() bool            { return false }
func (*Bind) reliable() bool                { return true }
func (*Binded) reliable() bool              { return true }
func (*Unbind) reliable() bool              { return true }
func (*Unbinded) reliable() bool            { return true }
func (*ParticipantJoined) reliable() bool   { return true }
func (*ParticipantLeft) reliable() bool     { return true }
func (*Mute) reliable() bool                { return true }
func (*Unmute) reliable() bool              { return true }
func (*Deafen) reliable() bool              { return true }
func (*Undeafen) reliable() bool            { return true }
func (*JoinChannel) reliable() bool         { return true }
func (*LeaveChannel) reliable() bool        { return true }
func (*AddChannel) reliable() bool          { return true }
func (*RemoveChannel) reliable() bool       { return true }
func (*UpdatePosition) reliable() bool      { return false }
func (*FullUpdatePosition) reliable() bool  { return false }
func (*UpdateEnvironmentID) reliable() bool { return true }
func (*ClientAudio) reliable() bool         { return false }
func (*ServerAudio) reliable() bool         { return false }
