package proxvoice

import (
	"log"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/proxvoice/proxvoice/rudp"
)

// MCWSS is the websocket bridge. A game-side connection streams
// position events for one bound participant and receives speaking
// state pushes in return.
type MCWSS struct {
	srv  *Server
	http *http.Server

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPushInterval = 100 * time.Millisecond
)

// NewMCWSS assembles the bridge. Call Listen to serve it.
func NewMCWSS(srv *Server) *MCWSS {
	return &MCWSS{
		srv:   srv,
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// Listen serves the bridge on addr until Close.
func (ws *MCWSS) Listen(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", ws.handleConn)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	ws.http = &http.Server{Handler: mux}
	log.Print("MCWSS bridge listening on " + ln.Addr().String())

	go func() {
		if err := ws.http.Serve(ln); err != http.ErrServerClosed {
			log.Print(err)
		}
	}()
	return nil
}

// Close drops every websocket connection and stops serving.
func (ws *MCWSS) Close() {
	ws.mu.Lock()
	for conn := range ws.conns {
		conn.Close()
	}
	ws.mu.Unlock()

	if ws.http != nil {
		ws.http.Close()
	}
}

// wsEvent is one message in either direction. Position events flow
// in; speaking pushes flow out.
type wsEvent struct {
	Event string `json:"event"`

	// position event fields
	Name          string  `json:"name,omitempty"`
	X             float32 `json:"x,omitempty"`
	Y             float32 `json:"y,omitempty"`
	Z             float32 `json:"z,omitempty"`
	Rotation      float32 `json:"rotation,omitempty"`
	EnvironmentID string  `json:"environment_id,omitempty"`

	// speaking push fields
	Speaking []string `json:"speaking,omitempty"`
}

func (ws *MCWSS) handleConn(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Print(err)
		return
	}

	ws.mu.Lock()
	ws.conns[conn] = struct{}{}
	ws.mu.Unlock()

	done := make(chan struct{})
	go ws.pushSpeaking(conn, done)

	defer func() {
		close(done)
		ws.mu.Lock()
		delete(ws.conns, conn)
		ws.mu.Unlock()
		conn.Close()
	}()

	for {
		var ev wsEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Print(err)
			}
			return
		}

		if ev.Event != "position" {
			continue
		}
		ws.applyPosition(&ev)
	}
}

func (ws *MCWSS) applyPosition(ev *wsEvent) {
	for _, pt := range ws.srv.Participants() {
		e := ws.srv.World().Entity(pt.EntityID())
		if e == nil || !pt.Bound() || e.Name() != ev.Name {
			continue
		}

		e.SetPosition(rudp.Vec3{X: ev.X, Y: ev.Y, Z: ev.Z})
		e.SetRotation(ev.Rotation)
		if ev.EnvironmentID != "" {
			e.SetWorldID(ev.EnvironmentID)
		}
		return
	}
}

// pushSpeaking streams the set of currently speaking participants at
// a fixed interval, skipping pushes when nothing changed.
func (ws *MCWSS) pushSpeaking(conn *websocket.Conn, done <-chan struct{}) {
	tick := time.NewTicker(wsPushInterval)
	defer tick.Stop()

	var last []string
	for {
		select {
		case <-done:
			return
		case <-tick.C:
		}

		var speaking []string
		for _, pt := range ws.srv.Participants() {
			e := ws.srv.World().Entity(pt.EntityID())
			if e != nil && pt.Bound() && e.IsSpeaking() {
				speaking = append(speaking, e.Name())
			}
		}
		sort.Strings(speaking)

		if equalStrings(speaking, last) {
			continue
		}
		last = speaking

		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(&wsEvent{Event: "speaking", Speaking: speaking}); err != nil {
			return
		}
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
