package rudp

import (
	"errors"
	"fmt"
	"math"
)

// HdrSize is the size of the unreliable packet header:
// type tag plus peer ID.
const HdrSize = 1 + 8

// RelHdrSize is the size of the reliable packet header:
// type tag, peer ID and seqnum.
const RelHdrSize = HdrSize + 4

var (
	ErrBufTooSmall = errors.New("buffer too small for pkt")
	ErrPktTooBig   = errors.New("pkt exceeds max datagram size")
)

// A DecodeError reports a malformed datagram. The packet is dropped;
// the sender is not penalized.
type DecodeError struct {
	Type PktType
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %v pkt: %v", e.Type, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

var errShort = errors.New("truncated pkt")
var errTrailing = errors.New("trailing data")

// A Hdr is the decoded header of a datagram.
type Hdr struct {
	Type   PktType
	PeerID PeerID

	// Seqnum is only meaningful for reliable packet types.
	Seqnum uint32
}

type overflow struct{}

type writer struct {
	buf []byte
	off int
}

func (w *writer) need(n int) []byte {
	if w.off+n > len(w.buf) {
		panic(overflow{})
	}
	b := w.buf[w.off : w.off+n]
	w.off += n
	return b
}

func (w *writer) u8(v uint8)   { w.need(1)[0] = v }
func (w *writer) bool(v bool)  { w.u8(boolByte(v)) }
func (w *writer) i16(v int16)  { le.PutUint16(w.need(2), uint16(v)) }
func (w *writer) u32(v uint32) { le.PutUint32(w.need(4), v) }
func (w *writer) i64(v int64)  { le.PutUint64(w.need(8), uint64(v)) }

func (w *writer) f32(v float32) { w.u32(math.Float32bits(v)) }

func (w *writer) str(s string) {
	w.u32(uint32(len(s)))
	copy(w.need(len(s)), s)
}

func (w *writer) blob(b []byte) {
	le.PutUint32(w.need(4), uint32(int32(len(b))))
	copy(w.need(len(b)), b)
}

func (w *writer) vec3(v Vec3) {
	w.f32(v.X)
	w.f32(v.Y)
	w.f32(v.Z)
}

func boolByte(v bool) uint8 {
	if v {
		return 1
	}
	return 0
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) need(n int) []byte {
	if n < 0 || r.off+n > len(r.buf) {
		panic(overflow{})
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() uint8   { return r.need(1)[0] }
func (r *reader) bool() bool  { return r.u8() != 0 }
func (r *reader) i16() int16  { return int16(le.Uint16(r.need(2))) }
func (r *reader) u32() uint32 { return le.Uint32(r.need(4)) }
func (r *reader) i64() int64  { return int64(le.Uint64(r.need(8))) }

func (r *reader) f32() float32 { return math.Float32frombits(r.u32()) }

func (r *reader) str() string {
	n := int(r.u32())
	return string(r.need(n))
}

func (r *reader) blob() []byte {
	// Bounds-check before allocating so a forged length prefix
	// can't balloon memory.
	n := int(int32(r.u32()))
	b := r.need(n)
	out := make([]byte, n)
	copy(out, b)
	return out
}

func (r *reader) vec3() Vec3 {
	return Vec3{r.f32(), r.f32(), r.f32()}
}

// Encode serializes pkt into buf with the header fields id and sn and
// returns the number of bytes written. sn is ignored for unreliable
// packet types. Encode allocates nothing beyond buf.
func Encode(buf []byte, pkt Pkt, id PeerID, sn uint32) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(overflow); !ok {
				panic(r)
			}
			n, err = 0, ErrBufTooSmall
		}
	}()

	w := &writer{buf: buf}
	w.u8(uint8(pkt.pktType()))
	w.i64(int64(id))
	if pkt.reliable() {
		w.u32(sn)
	}
	encodePayload(w, pkt)

	return w.off, nil
}

func encodePayload(w *writer, pkt Pkt) {
	switch p := pkt.(type) {
	case *Login:
		w.i16(p.Key)
		w.u8(p.PositioningType)
		w.str(p.Version)
		w.str(p.Token)
	case *Logout:
		w.str(p.Reason)
	case *Accept:
		w.i16(p.Key)
	case *Deny:
		w.str(p.Reason)
	case *Ack:
		w.u32(p.Acked)
	case *Ping:
	case *PingInfo:
		w.u32(p.Participants)
		w.str(p.MOTD)
		w.u8(p.PositioningType)
		w.str(p.Version)
	case *Bind:
		w.i16(p.Key)
		w.str(p.Name)
	case *Binded:
		w.str(p.Name)
	case *Unbind:
	case *Unbinded:
	case *ParticipantJoined:
		w.i16(p.Key)
		w.str(p.Name)
		w.bool(p.Muted)
		w.bool(p.Deafened)
	case *ParticipantLeft:
		w.i16(p.Key)
	case *Mute:
		w.i16(p.Key)
	case *Unmute:
		w.i16(p.Key)
	case *Deafen:
		w.i16(p.Key)
	case *Undeafen:
		w.i16(p.Key)
	case *JoinChannel:
		w.u8(p.Channel)
		w.str(p.Password)
	case *LeaveChannel:
		w.u8(p.Channel)
	case *AddChannel:
		w.u8(p.Channel)
		w.str(p.Name)
		w.bool(p.Locked)
		w.bool(p.Hidden)
		w.bool(p.PasswordProtected)
	case *RemoveChannel:
		w.u8(p.Channel)
	case *UpdatePosition:
		w.vec3(p.Position)
	case *FullUpdatePosition:
		w.vec3(p.Position)
		w.f32(p.Rotation)
		w.f32(p.CaveFactor)
		w.bool(p.Muffled)
		w.bool(p.Dead)
	case *UpdateEnvironmentID:
		w.str(p.EnvironmentID)
	case *ClientAudio:
		w.i16(p.Key)
		w.u32(p.Frame)
		w.u8(p.Channel)
		w.blob(p.Audio)
	case *ServerAudio:
		w.i16(p.Key)
		w.u32(p.Frame)
		w.f32(p.Volume)
		w.f32(p.Rotation)
		w.f32(p.Echo)
		w.bool(p.Muffled)
		w.blob(p.Audio)
	default:
		panic(fmt.Sprintf("rudp: encode: unhandled pkt type %T", pkt))
	}
}

// Decode parses one datagram. It never reads past data; a malformed
// packet yields a *DecodeError.
func Decode(data []byte) (pkt Pkt, hdr Hdr, err error) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(overflow); !ok {
				panic(r)
			}
			pkt, err = nil, &DecodeError{Type: hdr.Type, Err: errShort}
		}
	}()

	r := &reader{buf: data}
	hdr.Type = PktType(r.u8())
	if hdr.Type >= maxPktType {
		return nil, hdr, &DecodeError{Type: hdr.Type, Err: errors.New("unknown pkt type")}
	}
	hdr.PeerID = PeerID(r.i64())

	pkt = newPkt(hdr.Type)
	if pkt.reliable() {
		hdr.Seqnum = r.u32()
	}
	decodePayload(r, pkt)

	if r.off != len(data) {
		return nil, hdr, &DecodeError{Type: hdr.Type, Err: errTrailing}
	}

	return pkt, hdr, nil
}

func newPkt(t PktType) Pkt {
	switch t {
	case TypeLogin:
		return new(Login)
	case TypeLogout:
		return new(Logout)
	case TypeAccept:
		return new(Accept)
	case TypeDeny:
		return new(Deny)
	case TypeAck:
		return new(Ack)
	case TypePing:
		return new(Ping)
	case TypePingInfo:
		return new(PingInfo)
	case TypeBind:
		return new(Bind)
	case TypeBinded:
		return new(Binded)
	case TypeUnbind:
		return new(Unbind)
	case TypeUnbinded:
		return new(Unbinded)
	case TypeParticipantJoined:
		return new(ParticipantJoined)
	case TypeParticipantLeft:
		return new(ParticipantLeft)
	case TypeMute:
		return new(Mute)
	case TypeUnmute:
		return new(Unmute)
	case TypeDeafen:
		return new(Deafen)
	case TypeUndeafen:
		return new(Undeafen)
	case TypeJoinChannel:
		return new(JoinChannel)
	case TypeLeaveChannel:
		return new(LeaveChannel)
	case TypeAddChannel:
		return new(AddChannel)
	case TypeRemoveChannel:
		return new(RemoveChannel)
	case TypeUpdatePosition:
		return new(UpdatePosition)
	case TypeFullUpdatePosition:
		return new(FullUpdatePosition)
	case TypeUpdateEnvironmentID:
		return new(UpdateEnvironmentID)
	case TypeClientAudio:
		return new(ClientAudio)
	case TypeServerAudio:
		return new(ServerAudio)
	}
	panic(fmt.Sprintf("rudp: no pkt for type %d", t))
}

func decodePayload(r *reader, pkt Pkt) {
	switch p := pkt.(type) {
	case *Login:
		p.Key = r.i16()
		p.PositioningType = r.u8()
		p.Version = r.str()
		p.Token = r.str()
	case *Logout:
		p.Reason = r.str()
	case *Accept:
		p.Key = r.i16()
	case *Deny:
		p.Reason = r.str()
	case *Ack:
		p.Acked = r.u32()
	case *Ping:
	case *PingInfo:
		p.Participants = r.u32()
		p.MOTD = r.str()
		p.PositioningType = r.u8()
		p.Version = r.str()
	case *Bind:
		p.Key = r.i16()
		p.Name = r.str()
	case *Binded:
		p.Name = r.str()
	case *Unbind:
	case *Unbinded:
	case *ParticipantJoined:
		p.Key = r.i16()
		p.Name = r.str()
		p.Muted = r.bool()
		p.Deafened = r.bool()
	case *ParticipantLeft:
		p.Key = r.i16()
	case *Mute:
		p.Key = r.i16()
	case *Unmute:
		p.Key = r.i16()
	case *Deafen:
		p.Key = r.i16()
	case *Undeafen:
		p.Key = r.i16()
	case *JoinChannel:
		p.Channel = r.u8()
		p.Password = r.str()
	case *LeaveChannel:
		p.Channel = r.u8()
	case *AddChannel:
		p.Channel = r.u8()
		p.Name = r.str()
		p.Locked = r.bool()
		p.Hidden = r.bool()
		p.PasswordProtected = r.bool()
	case *RemoveChannel:
		p.Channel = r.u8()
	case *UpdatePosition:
		p.Position = r.vec3()
	case *FullUpdatePosition:
		p.Position = r.vec3()
		p.Rotation = r.f32()
		p.CaveFactor = r.f32()
		p.Muffled = r.bool()
		p.Dead = r.bool()
	case *UpdateEnvironmentID:
		p.EnvironmentID = r.str()
	case *ClientAudio:
		p.Key = r.i16()
		p.Frame = r.u32()
		p.Channel = r.u8()
		p.Audio = r.blob()
	case *ServerAudio:
		p.Key = r.i16()
		p.Frame = r.u32()
		p.Volume = r.f32()
		p.Rotation = r.f32()
		p.Echo = r.f32()
		p.Muffled = r.bool()
		p.Audio = r.blob()
	}
}
