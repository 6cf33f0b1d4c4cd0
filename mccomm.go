package proxvoice

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/proxvoice/proxvoice/rudp"
)

// MCComm is the HTTP bridge for server-sided positioning. A game
// server authenticates once, then drives binds, entity updates and
// channel moves over JSON.
type MCComm struct {
	srv   *Server
	token string
	http  *http.Server

	mu       sync.Mutex
	sessions map[string]time.Time
}

const mccommSessionTTL = 10 * time.Minute

// NewMCComm assembles the bridge. Call Listen to serve it.
func NewMCComm(srv *Server, token string) *MCComm {
	return &MCComm{
		srv:      srv,
		token:    token,
		sessions: make(map[string]time.Time),
	}
}

// Listen serves the bridge on addr until Close.
func (mc *MCComm) Listen(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", mc.handleLogin)
	mux.HandleFunc("/bind", mc.session(mc.handleBind))
	mux.HandleFunc("/unbind", mc.session(mc.handleUnbind))
	mux.HandleFunc("/update", mc.session(mc.handleUpdate))
	mux.HandleFunc("/channel", mc.session(mc.handleChannel))
	mux.HandleFunc("/bitmask", mc.session(mc.handleBitmask))
	mux.HandleFunc("/reset", mc.session(mc.handleReset))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	mc.http = &http.Server{Handler: mux}
	log.Print("MCComm bridge listening on " + ln.Addr().String())

	go func() {
		if err := mc.http.Serve(ln); err != http.ErrServerClosed {
			log.Print(err)
		}
	}()
	return nil
}

// Close stops serving. Established game state is left untouched.
func (mc *MCComm) Close() {
	if mc.http != nil {
		mc.http.Close()
	}
}

type mccommError struct {
	Error string `json:"error"`
}

func respond(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondErr(w http.ResponseWriter, status int, msg string) {
	respond(w, status, &mccommError{Error: msg})
}

func (mc *MCComm) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Token != mc.token {
		respondErr(w, http.StatusUnauthorized, "wrong token")
		return
	}

	session := uuid.New().String()
	mc.mu.Lock()
	for id, exp := range mc.sessions {
		if time.Now().After(exp) {
			delete(mc.sessions, id)
		}
	}
	mc.sessions[session] = time.Now().Add(mccommSessionTTL)
	mc.mu.Unlock()

	respond(w, http.StatusOK, &struct {
		Session string `json:"session"`
	}{Session: session})
}

// session wraps a handler with session token validation. Each use
// refreshes the session's expiry.
func (mc *MCComm) session(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session := r.Header.Get("X-Session")

		mc.mu.Lock()
		exp, ok := mc.sessions[session]
		if ok && time.Now().After(exp) {
			delete(mc.sessions, session)
			ok = false
		}
		if ok {
			mc.sessions[session] = time.Now().Add(mccommSessionTTL)
		}
		mc.mu.Unlock()

		if !ok {
			respondErr(w, http.StatusUnauthorized, "invalid session")
			return
		}
		h(w, r)
	}
}

func (mc *MCComm) participantByName(name string) *Participant {
	for _, pt := range mc.srv.Participants() {
		e := mc.srv.World().Entity(pt.EntityID())
		if e != nil && pt.Bound() && e.Name() == name {
			return pt
		}
	}
	return nil
}

func (mc *MCComm) handleBind(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key           int16  `json:"key"`
		Name          string `json:"name"`
		EnvironmentID string `json:"environment_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErr(w, http.StatusBadRequest, err.Error())
		return
	}

	pt := mc.srv.ParticipantByKey(req.Key)
	if pt == nil {
		respondErr(w, http.StatusNotFound, "no participant with that key")
		return
	}
	if pt.Bound() {
		respondErr(w, http.StatusConflict, "participant already bound")
		return
	}

	mc.srv.Bind(pt, req.Name, req.EnvironmentID)
	respond(w, http.StatusOK, &struct{}{})
}

func (mc *MCComm) handleUnbind(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErr(w, http.StatusBadRequest, err.Error())
		return
	}

	pt := mc.participantByName(req.Name)
	if pt == nil {
		respondErr(w, http.StatusNotFound, "no bound participant with that name")
		return
	}

	mc.srv.Unbind(pt)
	respond(w, http.StatusOK, &struct{}{})
}

type entityUpdate struct {
	Name          string  `json:"name"`
	X             float32 `json:"x"`
	Y             float32 `json:"y"`
	Z             float32 `json:"z"`
	Rotation      float32 `json:"rotation"`
	CaveFactor    float32 `json:"cave_factor"`
	MuffleFactor  float32 `json:"muffle_factor"`
	EnvironmentID string  `json:"environment_id"`
	Muted         bool    `json:"muted"`
	Deafened      bool    `json:"deafened"`
	Dead          bool    `json:"dead"`
}

// handleUpdate applies one batch of entity state from the game tick
// and reports which participants are currently speaking, so the game
// can render talk indicators.
func (mc *MCComm) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Entities []entityUpdate `json:"entities"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErr(w, http.StatusBadRequest, err.Error())
		return
	}

	for _, up := range req.Entities {
		pt := mc.participantByName(up.Name)
		if pt == nil {
			continue
		}
		e := mc.srv.World().Entity(pt.EntityID())
		if e == nil {
			continue
		}

		e.SetPosition(rudp.Vec3{X: up.X, Y: up.Y, Z: up.Z})
		e.SetRotation(up.Rotation)
		e.SetCaveFactor(up.CaveFactor)
		e.SetMuffleFactor(up.MuffleFactor)
		e.SetWorldID(up.EnvironmentID)
		e.SetMuted(up.Muted)
		e.SetDeafened(up.Deafened)
		pt.SetDead(up.Dead)
	}

	var speaking []string
	for _, pt := range mc.srv.Participants() {
		e := mc.srv.World().Entity(pt.EntityID())
		if e != nil && pt.Bound() && e.IsSpeaking() {
			speaking = append(speaking, e.Name())
		}
	}

	respond(w, http.StatusOK, &struct {
		Speaking []string `json:"speaking"`
	}{Speaking: speaking})
}

func (mc *MCComm) handleChannel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string `json:"name"`
		Channel int    `json:"channel"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErr(w, http.StatusBadRequest, err.Error())
		return
	}

	pt := mc.participantByName(req.Name)
	if pt == nil {
		respondErr(w, http.StatusNotFound, "no bound participant with that name")
		return
	}

	mc.srv.MoveParticipant(pt, req.Channel)
	respond(w, http.StatusOK, &struct{}{})
}

// handleBitmask edits a participant's talk mask, listen mask or gate
// checks with an and/or/xor operation.
func (mc *MCComm) handleBitmask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name   string `json:"name"`
		Target string `json:"target"` // talk, listen or checks
		Op     string `json:"op"`     // and, or or xor
		Mask   uint64 `json:"mask"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErr(w, http.StatusBadRequest, err.Error())
		return
	}

	pt := mc.participantByName(req.Name)
	if pt == nil {
		respondErr(w, http.StatusNotFound, "no bound participant with that name")
		return
	}
	e := mc.srv.World().Entity(pt.EntityID())
	if e == nil {
		respondErr(w, http.StatusNotFound, "participant has no entity")
		return
	}

	apply := func(get func() uint64, set func(uint64)) bool {
		switch req.Op {
		case "and":
			set(get() & req.Mask)
		case "or":
			set(get() | req.Mask)
		case "xor":
			set(get() ^ req.Mask)
		default:
			return false
		}
		return true
	}

	var ok bool
	switch req.Target {
	case "talk":
		ok = apply(e.TalkMask, e.SetTalkMask)
	case "listen":
		ok = apply(e.ListenMask, e.SetListenMask)
	case "checks":
		switch req.Op {
		case "and":
			pt.AndChecks(req.Mask)
			ok = true
		case "or":
			pt.OrChecks(req.Mask)
			ok = true
		case "xor":
			pt.XorChecks(req.Mask)
			ok = true
		}
	default:
		respondErr(w, http.StatusBadRequest, "unknown target "+req.Target)
		return
	}
	if !ok {
		respondErr(w, http.StatusBadRequest, "unknown op "+req.Op)
		return
	}

	respond(w, http.StatusOK, &struct{}{})
}

// handleReset clears the world, for game server restarts.
func (mc *MCComm) handleReset(w http.ResponseWriter, r *http.Request) {
	mc.srv.World().Reset()
	respond(w, http.StatusOK, &struct{}{})
}
