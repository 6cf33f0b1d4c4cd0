package proxvoice

import (
	"sync"
	"testing"
	"time"

	"github.com/proxvoice/proxvoice/rudp"
)

func TestRouterDeliversInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []uint32
	r := newRouter(func(f frame) {
		mu.Lock()
		got = append(got, f.pkt.Frame)
		mu.Unlock()
	}, 16, true)

	for i := uint32(0); i < 10; i++ {
		if !r.Enqueue(frame{pkt: &rudp.ClientAudio{Frame: i}}) {
			t.Fatalf("Enqueue(%d) = false with room in the queue", i)
		}
	}
	r.Stop()

	if len(got) != 10 {
		t.Fatalf("routed %d frames, want 10", len(got))
	}
	for i, f := range got {
		if f != uint32(i) {
			t.Fatalf("frames routed out of order: %v", got)
		}
	}
}

func TestRouterDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	r := newRouter(func(frame) {
		once.Do(func() { close(started) })
		<-block
	}, 1, true)
	defer func() {
		close(block)
		r.Stop()
	}()

	// First frame occupies the worker, second fills the queue.
	r.Enqueue(frame{pkt: &rudp.ClientAudio{}})
	<-started
	if !r.Enqueue(frame{pkt: &rudp.ClientAudio{}}) {
		t.Fatal("queue rejected a frame with free capacity")
	}

	if r.Enqueue(frame{pkt: &rudp.ClientAudio{}}) {
		t.Error("full queue accepted a frame")
	}
}

func TestRouterEnqueueAfterStop(t *testing.T) {
	r := newRouter(func(frame) {}, 4, true)
	r.Stop()

	if r.Enqueue(frame{pkt: &rudp.ClientAudio{}}) {
		t.Error("stopped router accepted a frame")
	}

	// Stop must be idempotent.
	r.Stop()
}

func TestRouterDiscardsOnStop(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	var mu sync.Mutex
	routed := 0
	r := newRouter(func(frame) {
		once.Do(func() { close(started) })
		mu.Lock()
		routed++
		mu.Unlock()
		select {
		case <-block:
		case <-time.After(time.Second):
		}
	}, 8, false)

	r.Enqueue(frame{pkt: &rudp.ClientAudio{}})
	<-started
	for i := 0; i < 5; i++ {
		r.Enqueue(frame{pkt: &rudp.ClientAudio{}})
	}

	// Stop before the worker can pick up the queued frames, then let
	// it run; the remaining frames must be discarded, not routed.
	stopped := make(chan struct{})
	go func() {
		r.Stop()
		close(stopped)
	}()
	<-r.done
	close(block)
	<-stopped

	mu.Lock()
	defer mu.Unlock()
	if routed != 1 {
		t.Errorf("routed %d frames after stop with drain disabled, want 1", routed)
	}
}

func TestClamp01(t *testing.T) {
	for _, c := range []struct{ in, want float32 }{
		{-1, 0}, {0, 0}, {0.25, 0.25}, {1, 1}, {2, 1},
	} {
		if got := clamp01(c.in); got != c.want {
			t.Errorf("clamp01(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}
