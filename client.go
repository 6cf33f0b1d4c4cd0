package proxvoice

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/proxvoice/proxvoice/rudp"
)

// A RemoteParticipant is the client's view of another participant in
// its channel.
type RemoteParticipant struct {
	Key      int16
	Name     string
	Muted    bool
	Deafened bool
}

// A RemoteChannel is the client's view of an advertised channel.
type RemoteChannel struct {
	Name              string
	Locked            bool
	Hidden            bool
	PasswordProtected bool
}

// ClientConfig carries the connection parameters of a Client.
type ClientConfig struct {
	// Key is the preferred session key, 0 for any.
	Key int16

	// Token must match the server's login token, if it has one.
	Token string

	// OnAudio receives each routed frame with its mix parameters.
	// Called on the transport's receive goroutine; must not block.
	OnAudio func(frame *rudp.ServerAudio)

	// OnDisconnect is called once when the session ends, with the
	// reason the server or transport gave.
	OnDisconnect func(reason string)

	// OnDeny receives rejection notices that do not end the session,
	// such as a wrong channel password.
	OnDeny func(reason string)
}

// A Client is one voice session with a server. It mirrors the
// participant roster and channel list the server advertises.
type Client struct {
	cfg ClientConfig
	tr  *rudp.Transport

	acceptErr chan error

	mu           sync.RWMutex
	loggedIn     bool
	key          int16
	bound        bool
	name         string
	channel      int
	participants map[int16]*RemoteParticipant
	channels     map[int]*RemoteChannel
}

// Dial connects to a server and completes the login exchange. It
// returns once the server accepts or denies the session.
func Dial(addr string, cfg ClientConfig) (*Client, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenPacket("udp", ":0")
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:          cfg,
		acceptErr:    make(chan error, 1),
		participants: make(map[int16]*RemoteParticipant),
		channels:     make(map[int]*RemoteChannel),
	}
	c.tr = rudp.Connect(conn, raddr, c, rudp.Config{})

	c.tr.Srv().AddToSendBuffer(&rudp.Login{
		Key:             cfg.Key,
		PositioningType: uint8(PositioningClient),
		Version:         Version,
		Token:           cfg.Token,
	})

	select {
	case err := <-c.acceptErr:
		if err != nil {
			c.tr.Stop()
			return nil, err
		}
	case <-c.tr.Done():
		return nil, fmt.Errorf("connection closed during login")
	}

	return c, nil
}

// Key returns the session key the server assigned.
func (c *Client) Key() int16 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.key
}

// Bound reports whether the session is bound to a game identity.
func (c *Client) Bound() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bound
}

// Name returns the bound identity name, if any.
func (c *Client) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

// Channel returns the index of the channel the client is in.
func (c *Client) Channel() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel
}

// Participants returns the mirrored roster of the current channel.
func (c *Client) Participants() []*RemoteParticipant {
	c.mu.RLock()
	defer c.mu.RUnlock()

	pts := make([]*RemoteParticipant, 0, len(c.participants))
	for _, pt := range c.participants {
		pts = append(pts, pt)
	}
	return pts
}

// Channels returns the mirrored channel list keyed by index.
func (c *Client) Channels() map[int]*RemoteChannel {
	c.mu.RLock()
	defer c.mu.RUnlock()

	chs := make(map[int]*RemoteChannel, len(c.channels))
	for i, ch := range c.channels {
		chs[i] = ch
	}
	return chs
}

// Done is closed when the session ends.
func (c *Client) Done() <-chan struct{} { return c.tr.Done() }

// Close ends the session, notifying the server.
func (c *Client) Close() {
	if p := c.tr.Srv(); p != nil {
		c.tr.Disconnect(p, "logout", true)
	}
	c.tr.Stop()
}

func (c *Client) send(pkt rudp.Pkt) {
	if p := c.tr.Srv(); p != nil {
		p.AddToSendBuffer(pkt)
	}
}

// Bind requests a game identity (client-sided positioning servers
// only). Confirmation arrives as a Binded packet.
func (c *Client) Bind(name string) {
	c.send(&rudp.Bind{Key: c.Key(), Name: name})
}

// Unbind detaches the session from its game identity.
func (c *Client) Unbind() {
	c.send(&rudp.Unbind{})
}

// Mute stops the client's own audio from being routed.
func (c *Client) Mute() { c.send(&rudp.Mute{Key: c.Key()}) }

// Unmute resumes routing of the client's audio.
func (c *Client) Unmute() { c.send(&rudp.Unmute{Key: c.Key()}) }

// Deafen stops all audio from reaching the client.
func (c *Client) Deafen() { c.send(&rudp.Deafen{Key: c.Key()}) }

// Undeafen resumes audio delivery to the client.
func (c *Client) Undeafen() { c.send(&rudp.Undeafen{Key: c.Key()}) }

// JoinChannel requests a move to the channel at index i.
func (c *Client) JoinChannel(i int, password string) {
	c.send(&rudp.JoinChannel{Channel: uint8(i), Password: password})
}

// LeaveChannel requests a move back to the default channel.
func (c *Client) LeaveChannel() {
	c.send(&rudp.LeaveChannel{Channel: uint8(c.Channel())})
}

// SendAudio submits one captured frame. Frame numbers should increase
// monotonically so listeners can order and deduplicate.
func (c *Client) SendAudio(frameNo uint32, audio []byte) {
	c.send(&rudp.ClientAudio{
		Key:     c.Key(),
		Frame:   frameNo,
		Channel: uint8(c.Channel()),
		Audio:   audio,
	})
}

// UpdatePosition submits a position sample (client-sided positioning).
func (c *Client) UpdatePosition(pos rudp.Vec3) {
	c.send(&rudp.UpdatePosition{Position: pos})
}

// FullUpdatePosition submits the complete spatial state.
func (c *Client) FullUpdatePosition(pkt *rudp.FullUpdatePosition) {
	c.send(pkt)
}

// UpdateEnvironmentID moves the client's entity to another audible
// universe.
func (c *Client) UpdateEnvironmentID(id string) {
	c.send(&rudp.UpdateEnvironmentID{EnvironmentID: id})
}

// HandlePkt implements rudp.Handler.
func (c *Client) HandlePkt(p *rudp.Peer, pkt rudp.Pkt) {
	switch pkt := pkt.(type) {
	case *rudp.Accept:
		p.SetState(rudp.StateConnected)
		c.mu.Lock()
		c.key = pkt.Key
		c.loggedIn = true
		c.mu.Unlock()
		select {
		case c.acceptErr <- nil:
		default:
		}
	case *rudp.Deny:
		if c.isLoggedIn() {
			if c.cfg.OnDeny != nil {
				c.cfg.OnDeny(pkt.Reason)
			}
			return
		}
		select {
		case c.acceptErr <- fmt.Errorf("login denied: %s", pkt.Reason):
		default:
		}
	case *rudp.Binded:
		c.mu.Lock()
		c.bound = true
		c.name = pkt.Name
		c.mu.Unlock()
	case *rudp.Unbinded:
		c.mu.Lock()
		c.bound = false
		c.name = ""
		c.mu.Unlock()
	case *rudp.ParticipantJoined:
		c.mu.Lock()
		c.participants[pkt.Key] = &RemoteParticipant{
			Key:      pkt.Key,
			Name:     pkt.Name,
			Muted:    pkt.Muted,
			Deafened: pkt.Deafened,
		}
		c.mu.Unlock()
	case *rudp.ParticipantLeft:
		c.mu.Lock()
		delete(c.participants, pkt.Key)
		c.mu.Unlock()
	case *rudp.Mute:
		c.setParticipantState(pkt.Key, func(pt *RemoteParticipant) { pt.Muted = true })
	case *rudp.Unmute:
		c.setParticipantState(pkt.Key, func(pt *RemoteParticipant) { pt.Muted = false })
	case *rudp.Deafen:
		c.setParticipantState(pkt.Key, func(pt *RemoteParticipant) { pt.Deafened = true })
	case *rudp.Undeafen:
		c.setParticipantState(pkt.Key, func(pt *RemoteParticipant) { pt.Deafened = false })
	case *rudp.JoinChannel:
		c.mu.Lock()
		c.channel = int(pkt.Channel)
		c.participants = make(map[int16]*RemoteParticipant)
		c.mu.Unlock()
	case *rudp.LeaveChannel:
		// The roster resets on leave; the JoinChannel confirmation
		// for a visible target follows with the new channel index.
		c.mu.Lock()
		c.channel = 0
		c.participants = make(map[int16]*RemoteParticipant)
		c.mu.Unlock()
	case *rudp.AddChannel:
		c.mu.Lock()
		c.channels[int(pkt.Channel)] = &RemoteChannel{
			Name:              pkt.Name,
			Locked:            pkt.Locked,
			Hidden:            pkt.Hidden,
			PasswordProtected: pkt.PasswordProtected,
		}
		c.mu.Unlock()
	case *rudp.RemoveChannel:
		c.mu.Lock()
		delete(c.channels, int(pkt.Channel))
		shifted := make(map[int]*RemoteChannel, len(c.channels))
		for i, ch := range c.channels {
			if i > int(pkt.Channel) {
				i--
			}
			shifted[i] = ch
		}
		c.channels = shifted
		// Indices above the removed channel shift down, ours
		// included.
		if c.channel > int(pkt.Channel) {
			c.channel--
		}
		c.mu.Unlock()
	case *rudp.ServerAudio:
		if c.cfg.OnAudio != nil {
			c.cfg.OnAudio(pkt)
		}
	}
}

func (c *Client) setParticipantState(key int16, apply func(*RemoteParticipant)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if pt, ok := c.participants[key]; ok {
		apply(pt)
	}
}

func (c *Client) isLoggedIn() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loggedIn
}

// PeerGone implements rudp.Handler.
func (c *Client) PeerGone(p *rudp.Peer, reason string) {
	if c.isLoggedIn() {
		if c.cfg.OnDisconnect != nil {
			c.cfg.OnDisconnect(reason)
		}
	} else {
		select {
		case c.acceptErr <- fmt.Errorf("disconnected: %s", reason):
		default:
		}
	}
	c.tr.Stop()
}

// Unconnected implements rudp.Handler. Clients ignore traffic from
// unknown addresses.
func (c *Client) Unconnected(addr net.Addr, pkt rudp.Pkt) rudp.Pkt { return nil }

// PingServer queries a server's discovery info without establishing a
// session.
func PingServer(addr string, timeout time.Duration) (*rudp.PingInfo, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenPacket("udp", ":0")
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	buf := make([]byte, rudp.MaxNetPktSize)
	n, err := rudp.Encode(buf, &rudp.PingInfo{}, rudp.PeerIDNil, 0)
	if err != nil {
		return nil, err
	}
	if _, err := conn.WriteTo(buf[:n], raddr); err != nil {
		return nil, err
	}

	conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			return nil, err
		}

		pkt, _, err := rudp.Decode(buf[:n])
		if err != nil {
			continue
		}
		if info, ok := pkt.(*rudp.PingInfo); ok {
			return info, nil
		}
	}
}
