package proxvoice

import (
	"expvar"
	"log"
	"net"
	"sync"

	"github.com/proxvoice/proxvoice/rudp"
)

var connectedParticipants = expvar.NewInt("participants_connected")

// A Server routes positional voice audio between connected
// participants. It implements rudp.Handler; all packet handlers run
// synchronously on the transport's receive goroutine and hand audio
// off to the Router's worker.
type Server struct {
	cfg   *Config
	world *World
	db    *DB // nil if persistence is disabled

	tr     *rudp.Transport
	router *Router

	mu           sync.RWMutex
	channels     []*Channel
	participants map[rudp.PeerID]*Participant
	byKey        map[int16]*Participant
	nextKey      int16
}

// NewServer assembles a stopped server. db may be nil.
func NewServer(cfg *Config, db *DB) *Server {
	s := &Server{
		cfg:          cfg,
		world:        NewWorld(),
		db:           db,
		channels:     cfg.Channels,
		participants: make(map[rudp.PeerID]*Participant),
		byKey:        make(map[int16]*Participant),
		nextKey:      1,
	}
	s.router = newRouter(s.routeFrame, cfg.AudioQueue, cfg.DrainAudioOnStop)
	return s
}

// World returns the server's authoritative entity registry. The
// MCComm and MCWSS bridges mutate entities through it.
func (s *Server) World() *World { return s.world }

// Start binds the UDP socket and starts the transport loops.
func (s *Server) Start() error {
	conn, err := net.ListenPacket("udp", s.cfg.Host)
	if err != nil {
		return err
	}

	s.tr = rudp.Listen(conn, s, rudp.Config{
		UnconnectedRate: s.cfg.UnconnectedRate,
		Timeout:         s.cfg.Timeout(),
	})

	log.Print("Listening on " + conn.LocalAddr().String())
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.tr == nil {
		return nil
	}
	return s.tr.Conn().LocalAddr()
}

// Errs surfaces the fatal transport error, if any.
func (s *Server) Errs() <-chan error { return s.tr.Errs() }

// Stop notifies every peer, then shuts down the router and transport.
// The router drains or discards queued frames per configuration.
func (s *Server) Stop() {
	for _, pt := range s.Participants() {
		s.tr.Disconnect(pt.Peer(), "server shutting down", true)
	}
	s.router.Stop()
	s.tr.Stop()
}

// Participants returns all connected participants.
func (s *Server) Participants() []*Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pts := make([]*Participant, 0, len(s.participants))
	for _, pt := range s.participants {
		pts = append(pts, pt)
	}
	return pts
}

// ParticipantCount returns the number of connected participants.
func (s *Server) ParticipantCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.participants)
}

// ParticipantByKey looks a participant up by session key.
func (s *Server) ParticipantByKey(key int16) *Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.byKey[key]
}

// ParticipantsInChannel returns the participants currently in the
// channel with the given index.
func (s *Server) ParticipantsInChannel(ch int) []*Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pts []*Participant
	for _, pt := range s.participants {
		if pt.Channel() == ch {
			pts = append(pts, pt)
		}
	}
	return pts
}

func (s *Server) participant(p *rudp.Peer) *Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.participants[p.ID()]
}

func (s *Server) channelAt(i int) *Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i < 0 || i >= len(s.channels) {
		return nil
	}
	return s.channels[i]
}

// Channels returns the channel list.
func (s *Server) Channels() []*Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.channels
}

// HandlePkt implements rudp.Handler.
func (s *Server) HandlePkt(p *rudp.Peer, pkt rudp.Pkt) {
	if s.cfg.Debug {
		log.Printf("%s: %v", p.Addr(), rudp.Type(pkt))
	}

	switch pkt := pkt.(type) {
	case *rudp.Login:
		s.handleLogin(p, pkt)
	case *rudp.Logout:
		s.tr.Disconnect(p, "logged out", false)
	case *rudp.Ping:
		// Echo the keepalive so an idle client sees a live server;
		// without it the client's own inactivity sweep would fire.
		p.AddToSendBuffer(&rudp.Ping{})
	case *rudp.Bind:
		s.handleBind(p, pkt)
	case *rudp.Unbind:
		s.handleUnbind(p)
	case *rudp.Mute:
		s.handleMuteState(p, func(e *Entity) { e.SetMuted(true) },
			func(key int16) rudp.Pkt { return &rudp.Mute{Key: key} })
	case *rudp.Unmute:
		s.handleMuteState(p, func(e *Entity) { e.SetMuted(false) },
			func(key int16) rudp.Pkt { return &rudp.Unmute{Key: key} })
	case *rudp.Deafen:
		s.handleMuteState(p, func(e *Entity) { e.SetDeafened(true) },
			func(key int16) rudp.Pkt { return &rudp.Deafen{Key: key} })
	case *rudp.Undeafen:
		s.handleMuteState(p, func(e *Entity) { e.SetDeafened(false) },
			func(key int16) rudp.Pkt { return &rudp.Undeafen{Key: key} })
	case *rudp.JoinChannel:
		s.handleJoinChannel(p, pkt)
	case *rudp.LeaveChannel:
		s.handleLeaveChannel(p)
	case *rudp.UpdatePosition:
		s.handleUpdatePosition(p, pkt)
	case *rudp.FullUpdatePosition:
		s.handleFullUpdatePosition(p, pkt)
	case *rudp.UpdateEnvironmentID:
		s.handleUpdateEnvironmentID(p, pkt)
	case *rudp.ClientAudio:
		s.handleClientAudio(p, pkt)
	default:
		// Server-bound traffic only; anything else is a protocol
		// violation and the packet is dropped.
		if s.cfg.Debug {
			log.Printf("%s: dropping unexpected %v pkt", p.Addr(), rudp.Type(pkt))
		}
	}
}

// deny rejects a requester. The Deny is written straight to the
// socket; the peer is gone before its send queue would next drain.
func (s *Server) deny(p *rudp.Peer, reason string) {
	s.tr.SendUnconnected(p.Addr(), &rudp.Deny{Reason: reason})
	s.tr.Disconnect(p, reason, false)
}

func (s *Server) handleLogin(p *rudp.Peer, pkt *rudp.Login) {
	if p.State() != rudp.StateRequesting {
		// Duplicate login on an established connection.
		return
	}

	if !CompatibleVersion(pkt.Version, Version) {
		s.deny(p, "incompatible version "+pkt.Version)
		return
	}
	if s.cfg.LoginToken != "" && pkt.Token != s.cfg.LoginToken {
		s.deny(p, "invalid login token")
		return
	}
	if s.ParticipantCount() >= s.cfg.MaxClients {
		s.deny(p, "server is full")
		return
	}
	if s.db != nil {
		banned, err := s.db.IsBanned(p.Addr())
		if err != nil {
			log.Print(err)
		} else if banned {
			s.deny(p, "you are banned from this server")
			return
		}
	}

	e, err := s.world.CreateEntity()
	if err != nil {
		s.deny(p, "server error")
		return
	}
	e.SetMaxRange(s.cfg.ProximityDistance)

	s.mu.Lock()
	key := s.assignKey(pkt.Key)
	pt := newParticipant(p, e.ID(), key)
	s.participants[p.ID()] = pt
	s.byKey[key] = pt
	s.mu.Unlock()
	connectedParticipants.Add(1)

	p.SetState(rudp.StateConnected)
	p.AddToSendBuffer(&rudp.Accept{Key: key})

	for i, ch := range s.Channels() {
		if ch.Hidden {
			continue
		}
		p.AddToSendBuffer(&rudp.AddChannel{
			Channel:           uint8(i),
			Name:              ch.Name,
			Locked:            ch.IsLocked(),
			Hidden:            ch.Hidden,
			PasswordProtected: ch.Password != "",
		})
	}

	log.Printf("%s: connected, key %d", p.Addr(), key)
}

// assignKey hands out the preferred key if it is free and non-zero,
// else the next free one. Caller holds s.mu.
func (s *Server) assignKey(preferred int16) int16 {
	if preferred != 0 {
		if _, taken := s.byKey[preferred]; !taken {
			return preferred
		}
	}

	for {
		key := s.nextKey
		s.nextKey++
		if s.nextKey == 0 {
			s.nextKey = 1
		}
		if _, taken := s.byKey[key]; !taken && key != 0 {
			return key
		}
	}
}

// PeerGone implements rudp.Handler. Fired exactly once per peer,
// whatever removed it.
func (s *Server) PeerGone(p *rudp.Peer, reason string) {
	s.mu.Lock()
	pt, ok := s.participants[p.ID()]
	if ok {
		delete(s.participants, p.ID())
		delete(s.byKey, pt.Key())
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	connectedParticipants.Add(-1)

	if pt.Bound() {
		s.broadcastChannel(pt.Channel(), pt, &rudp.ParticipantLeft{Key: pt.Key()})
	}

	if err := s.world.DestroyEntity(pt.EntityID()); err != nil {
		// The entity is owned by this server; a miss is a bug.
		log.Print(err)
	}

	log.Printf("%s: disconnected: %s", p.Addr(), reason)
}

// Unconnected implements rudp.Handler: the connectionless discovery
// exchange. No peer is created.
func (s *Server) Unconnected(addr net.Addr, pkt rudp.Pkt) rudp.Pkt {
	if _, ok := pkt.(*rudp.PingInfo); !ok {
		return nil
	}

	return &rudp.PingInfo{
		Participants:    uint32(s.ParticipantCount()),
		MOTD:            s.cfg.MOTD,
		PositioningType: uint8(s.cfg.PositioningType()),
		Version:         Version,
	}
}

// broadcastChannel sends pkt to every bound participant in the
// channel except skip.
func (s *Server) broadcastChannel(ch int, skip *Participant, pkt rudp.Pkt) {
	for _, pt := range s.ParticipantsInChannel(ch) {
		if pt == skip || !pt.Bound() {
			continue
		}
		pt.Peer().AddToSendBuffer(pkt)
	}
}

// Bind associates a participant with an external identity and
// announces it to its channel. Called from the Bind packet handler
// (client positioning) and from the MCComm/MCWSS bridges (server
// positioning).
func (s *Server) Bind(pt *Participant, name, environmentID string) {
	e := s.world.Entity(pt.EntityID())
	if e == nil {
		return
	}
	e.SetName(name)
	if environmentID != "" {
		e.SetWorldID(environmentID)
	}
	pt.setBound(true)

	pt.Peer().AddToSendBuffer(&rudp.Binded{Name: name})
	s.broadcastChannel(pt.Channel(), pt, &rudp.ParticipantJoined{
		Key:      pt.Key(),
		Name:     name,
		Muted:    e.Muted(),
		Deafened: e.Deafened(),
	})
	s.sendChannelRoster(pt)

	log.Printf("%s: bound as %q", pt.Peer().Addr(), name)
}

// sendChannelRoster pushes every already-bound member of pt's channel
// to pt as a synthetic joined event so its local state converges.
func (s *Server) sendChannelRoster(pt *Participant) {
	for _, other := range s.ParticipantsInChannel(pt.Channel()) {
		if other == pt || !other.Bound() {
			continue
		}
		oe := s.world.Entity(other.EntityID())
		if oe == nil {
			continue
		}
		pt.Peer().AddToSendBuffer(&rudp.ParticipantJoined{
			Key:      other.Key(),
			Name:     oe.Name(),
			Muted:    oe.Muted(),
			Deafened: oe.Deafened(),
		})
	}
}

func (s *Server) handleBind(p *rudp.Peer, pkt *rudp.Bind) {
	if s.cfg.PositioningType() != PositioningClient {
		// Binding is the bridges' job in server positioning mode.
		return
	}
	pt := s.participant(p)
	if pt == nil || pt.Bound() {
		return
	}
	s.Bind(pt, pkt.Name, "")
}

// Unbind detaches a participant from its external identity.
func (s *Server) Unbind(pt *Participant) {
	if !pt.Bound() {
		return
	}
	pt.setBound(false)
	pt.Peer().AddToSendBuffer(&rudp.Unbinded{})
	s.broadcastChannel(pt.Channel(), pt, &rudp.ParticipantLeft{Key: pt.Key()})
}

func (s *Server) handleUnbind(p *rudp.Peer) {
	if pt := s.participant(p); pt != nil {
		s.Unbind(pt)
	}
}

func (s *Server) handleMuteState(p *rudp.Peer, apply func(*Entity), notify func(int16) rudp.Pkt) {
	pt := s.participant(p)
	if pt == nil {
		return
	}
	e := s.world.Entity(pt.EntityID())
	if e == nil {
		return
	}

	apply(e)
	if pt.Bound() {
		s.broadcastChannel(pt.Channel(), pt, notify(pt.Key()))
	}
}

func (s *Server) handleJoinChannel(p *rudp.Peer, pkt *rudp.JoinChannel) {
	pt := s.participant(p)
	if pt == nil {
		return
	}

	target := int(pkt.Channel)
	ch := s.channelAt(target)
	if ch == nil {
		p.AddToSendBuffer(&rudp.Deny{Reason: "no such channel"})
		return
	}
	if ch.IsLocked() {
		p.AddToSendBuffer(&rudp.Deny{Reason: "channel " + ch.Name + " is locked"})
		return
	}
	if !ch.CheckPassword(pkt.Password) {
		p.AddToSendBuffer(&rudp.Deny{Reason: "wrong password for channel " + ch.Name})
		return
	}

	s.MoveParticipant(pt, target)
}

func (s *Server) handleLeaveChannel(p *rudp.Peer) {
	if pt := s.participant(p); pt != nil {
		s.MoveParticipant(pt, 0)
	}
}

// MoveParticipant reassigns pt to the target channel, with the full
// leave/announce/backfill exchange. The move is atomic as seen by the
// routing engine: pt is in exactly one channel at any instant. Lock
// and password checks are the caller's business; server-side movers
// (bridges, admin) bypass them.
func (s *Server) MoveParticipant(pt *Participant, target int) {
	old := pt.Channel()
	if old == target || s.channelAt(target) == nil {
		return
	}

	// The peer leaves its current channel even if that channel is
	// hidden.
	pt.Peer().AddToSendBuffer(&rudp.LeaveChannel{Channel: uint8(old)})
	if pt.Bound() {
		s.broadcastChannel(old, pt, &rudp.ParticipantLeft{Key: pt.Key()})
	}

	pt.setChannel(target)

	ch := s.channelAt(target)
	if !ch.Hidden {
		pt.Peer().AddToSendBuffer(&rudp.JoinChannel{Channel: uint8(target)})
	}
	if pt.Bound() {
		e := s.world.Entity(pt.EntityID())
		if e != nil {
			s.broadcastChannel(target, pt, &rudp.ParticipantJoined{
				Key:      pt.Key(),
				Name:     e.Name(),
				Muted:    e.Muted(),
				Deafened: e.Deafened(),
			})
		}
	}
	s.sendChannelRoster(pt)
}

func (s *Server) handleUpdatePosition(p *rudp.Peer, pkt *rudp.UpdatePosition) {
	if s.cfg.PositioningType() != PositioningClient {
		return
	}
	pt := s.participant(p)
	if pt == nil {
		return
	}
	if e := s.world.Entity(pt.EntityID()); e != nil {
		e.SetPosition(pkt.Position)
	}
}

func (s *Server) handleFullUpdatePosition(p *rudp.Peer, pkt *rudp.FullUpdatePosition) {
	if s.cfg.PositioningType() != PositioningClient {
		return
	}
	pt := s.participant(p)
	if pt == nil {
		return
	}
	e := s.world.Entity(pt.EntityID())
	if e == nil {
		return
	}

	e.SetPosition(pkt.Position)
	e.SetRotation(pkt.Rotation)
	e.SetCaveFactor(pkt.CaveFactor)
	pt.SetMuffled(pkt.Muffled)
	pt.SetDead(pkt.Dead)
}

func (s *Server) handleUpdateEnvironmentID(p *rudp.Peer, pkt *rudp.UpdateEnvironmentID) {
	if s.cfg.PositioningType() != PositioningClient {
		return
	}
	pt := s.participant(p)
	if pt == nil {
		return
	}
	if e := s.world.Entity(pt.EntityID()); e != nil {
		e.SetWorldID(pkt.EnvironmentID)
	}
}

func (s *Server) handleClientAudio(p *rudp.Peer, pkt *rudp.ClientAudio) {
	// A routed ServerAudio carries a bigger header than the inbound
	// frame; a blob that fits the inbound datagram can still be too
	// big to forward.
	if len(pkt.Audio) > rudp.MaxAudioSize {
		return
	}

	pt := s.participant(p)
	if pt == nil || !pt.Bound() || pt.ServerMuted() {
		return
	}
	e := s.world.Entity(pt.EntityID())
	if e == nil || e.Muted() || e.Deafened() {
		return
	}

	s.router.Enqueue(frame{speaker: pt, pkt: pkt})
}
