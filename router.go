package proxvoice

import (
	"expvar"
	"math"
	"sync"

	"github.com/proxvoice/proxvoice/rudp"
)

var (
	framesRouted  = expvar.NewInt("audio_frames_routed")
	framesDropped = expvar.NewInt("audio_frames_dropped")
	audioPktsSent = expvar.NewInt("audio_pkts_sent")
)

// A frame is one speaker's audio packet awaiting routing.
type frame struct {
	speaker *Participant
	pkt     *rudp.ClientAudio
}

// A Router is the dedicated audio-mixing worker. The network receive
// path enqueues frames onto a bounded queue and never blocks; a burst
// of simultaneous speakers cannot stall packet intake.
type Router struct {
	route       func(frame)
	frames      chan frame
	drainOnStop bool

	done chan struct{}
	wg   sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func newRouter(route func(frame), queue int, drainOnStop bool) *Router {
	r := &Router{
		route:       route,
		frames:      make(chan frame, queue),
		drainOnStop: drainOnStop,
		done:        make(chan struct{}),
	}
	r.wg.Add(1)
	go r.work()
	return r
}

// Enqueue hands a frame to the worker. It reports false, dropping the
// frame, if the queue is full or the router is stopped.
func (r *Router) Enqueue(f frame) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}
	select {
	case r.frames <- f:
		return true
	default:
		framesDropped.Add(1)
		return false
	}
}

// Stop shuts the worker down. Frames still queued are routed or
// discarded depending on the configured drain policy.
func (r *Router) Stop() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.done)
	close(r.frames)
	r.mu.Unlock()

	r.wg.Wait()
}

func (r *Router) work() {
	defer r.wg.Done()

	for f := range r.frames {
		if !r.drainOnStop {
			select {
			case <-r.done:
				framesDropped.Add(1)
				continue
			default:
			}
		}
		r.route(f)
		framesRouted.Add(1)
	}
}

// routeFrame fans one speaker's frame out to every eligible listener
// in the speaker's channel, computing per-listener volume, pan, echo
// and muffle. Runs on the router worker only.
func (s *Server) routeFrame(f frame) {
	sp := f.speaker
	se := s.world.Entity(sp.EntityID())
	if se == nil || se.Destroyed() {
		return
	}

	se.MarkSpoke()

	settings := s.channelAt(sp.Channel()).Settings(s.cfg.Defaults())
	talk := se.TalkMask() & sp.Checks()

	if settings.ProximityEnabled {
		// Dead or un-located speakers are inaudible unless their
		// gate bit has been cleared.
		if sp.Dead() && talk&MaskDeath != 0 {
			return
		}
		if se.WorldID() == "" && talk&MaskEnvironment != 0 {
			return
		}
	}

	spos := se.Position()

	for _, lp := range s.ParticipantsInChannel(sp.Channel()) {
		if lp == sp || !lp.Bound() || lp.ServerDeafened() {
			continue
		}
		le := s.world.Entity(lp.EntityID())
		if le == nil || le.Deafened() {
			continue
		}

		pair := talk & le.ListenMask() & lp.Checks()
		if pair == 0 {
			continue
		}

		volume := float32(1)
		rotation := float32(0)

		if settings.ProximityEnabled && pair&MaskProximity != 0 {
			if lp.Dead() && pair&MaskDeath != 0 {
				continue
			}
			if le.WorldID() != se.WorldID() && pair&MaskEnvironment != 0 {
				continue
			}

			lpos := le.Position()
			dist := Distance(spos, lpos)
			if dist > settings.ProximityDistance {
				continue
			}

			volume = clamp01(1 - dist/settings.ProximityDistance)
			rotation = float32(math.Atan2(
				float64(lpos.Z-spos.Z),
				float64(lpos.X-spos.X),
			)) - le.Rotation()
		}

		var echo float32
		var muffled bool
		if settings.VoiceEffects && pair&MaskVoiceEffects != 0 {
			echo = clamp01(lp.EchoFactor()+le.CaveFactor()+
				sp.EchoFactor()+se.CaveFactor()) * (1 - volume)
			muffled = lp.Muffled() || sp.Muffled() ||
				se.MuffleFactor() > 0 || le.MuffleFactor() > 0
		}

		lp.Peer().AddToSendBuffer(&rudp.ServerAudio{
			Key:      sp.Key(),
			Frame:    f.pkt.Frame,
			Volume:   volume,
			Rotation: rotation,
			Echo:     echo,
			Muffled:  muffled,
			Audio:    f.pkt.Audio,
		})
		audioPktsSent.Add(1)
	}
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
