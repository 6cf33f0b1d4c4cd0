package proxvoice

import (
	"testing"

	"github.com/proxvoice/proxvoice/rudp"
)

type recordingObserver struct {
	created   []int
	destroyed []int
	resets    int
}

func (o *recordingObserver) EntityCreated(e *Entity)   { o.created = append(o.created, e.ID()) }
func (o *recordingObserver) EntityDestroyed(e *Entity) { o.destroyed = append(o.destroyed, e.ID()) }
func (o *recordingObserver) WorldReset()               { o.resets++ }

func TestWorldIDReuse(t *testing.T) {
	w := NewWorld()

	a, err := w.CreateEntity()
	if err != nil {
		t.Fatal(err)
	}
	b, _ := w.CreateEntity()
	c, _ := w.CreateEntity()

	if a.ID() != 0 || b.ID() != 1 || c.ID() != 2 {
		t.Fatalf("ids = %d, %d, %d, want 0, 1, 2", a.ID(), b.ID(), c.ID())
	}

	if err := w.DestroyEntity(b.ID()); err != nil {
		t.Fatal(err)
	}
	if !b.Destroyed() {
		t.Error("destroyed entity not marked")
	}

	d, _ := w.CreateEntity()
	if d.ID() != 1 {
		t.Errorf("new entity got id %d, want the freed 1", d.ID())
	}
}

func TestWorldDestroyUnknown(t *testing.T) {
	w := NewWorld()

	if err := w.DestroyEntity(42); err == nil {
		t.Error("destroying an unknown id succeeded")
	}
}

func TestWorldDestroyFiresObserverOnce(t *testing.T) {
	w := NewWorld()
	obs := &recordingObserver{}
	w.SetObserver(obs)

	e, _ := w.CreateEntity()
	if err := w.DestroyEntity(e.ID()); err != nil {
		t.Fatal(err)
	}
	if err := w.DestroyEntity(e.ID()); err == nil {
		t.Error("second destroy succeeded")
	}

	if len(obs.destroyed) != 1 || obs.destroyed[0] != e.ID() {
		t.Errorf("destroyed events = %v, want one for %d", obs.destroyed, e.ID())
	}
}

func TestWorldClearFiresNoEntityEvents(t *testing.T) {
	w := NewWorld()
	obs := &recordingObserver{}
	w.SetObserver(obs)

	for i := 0; i < 3; i++ {
		w.CreateEntity()
	}

	w.Reset()

	if len(obs.destroyed) != 0 {
		t.Errorf("reset fired %d destroy events, want 0", len(obs.destroyed))
	}
	if obs.resets != 1 {
		t.Errorf("resets = %d, want 1", obs.resets)
	}
	if w.Len() != 0 {
		t.Errorf("world has %d entities after reset", w.Len())
	}
}

func TestWorldForEachOrder(t *testing.T) {
	w := NewWorld()
	for i := 0; i < 5; i++ {
		w.CreateEntity()
	}

	var order []int
	w.ForEach(func(e *Entity) {
		order = append(order, e.ID())
	})

	for i, id := range order {
		if id != i {
			t.Fatalf("iteration order %v, want ascending ids", order)
		}
	}
}

func TestVisibilityAsymmetry(t *testing.T) {
	w := NewWorld()
	a, _ := w.CreateEntity()
	b, _ := w.CreateEntity()

	for _, e := range []*Entity{a, b} {
		e.SetWorldID("overworld")
		e.SetMaxRange(30)
	}
	a.SetPosition(rudp.Vec3{X: 0})
	b.SetPosition(rudp.Vec3{X: 10})

	if !a.VisibleTo(b) || !b.VisibleTo(a) {
		t.Fatal("entities in range not mutually visible")
	}

	// a keeps talking on the default group but stops listening to it.
	a.SetListenMask(0)
	if !a.VisibleTo(b) {
		t.Error("a should still be audible to b")
	}
	if b.VisibleTo(a) {
		t.Error("b audible to a despite empty listen mask")
	}
}

func TestVisibilityEnvironment(t *testing.T) {
	w := NewWorld()
	a, _ := w.CreateEntity()
	b, _ := w.CreateEntity()

	a.SetMaxRange(30)
	b.SetMaxRange(30)

	// No environment set: invisible even at zero distance.
	if a.VisibleTo(b) {
		t.Error("visible without environment")
	}

	a.SetWorldID("overworld")
	b.SetWorldID("nether")
	if a.VisibleTo(b) {
		t.Error("visible across environments")
	}

	b.SetWorldID("overworld")
	if !a.VisibleTo(b) {
		t.Error("invisible in shared environment")
	}
}

func TestVisibilityProximityExemption(t *testing.T) {
	w := NewWorld()
	a, _ := w.CreateEntity()
	b, _ := w.CreateEntity()

	a.SetWorldID("overworld")
	b.SetWorldID("overworld")
	a.SetMaxRange(30)
	b.SetMaxRange(30)
	b.SetPosition(rudp.Vec3{X: 1000})

	if a.VisibleTo(b) {
		t.Fatal("visible far out of range")
	}

	a.SetTalkMask(DefaultBitmask &^ MaskProximity)
	if !a.VisibleTo(b) {
		t.Error("proximity-exempt speaker not visible at distance")
	}
}

func TestEntityProperties(t *testing.T) {
	w := NewWorld()
	e, _ := w.CreateEntity()

	if err := e.SetProperty("score", 7); err != nil {
		t.Fatal(err)
	}
	if got := e.Property("score"); got != 7 {
		t.Errorf("Property(score) = %v, want 7", got)
	}

	if err := e.SetProperty("bad", "string"); err == nil {
		t.Error("string property accepted")
	}
	if got := e.Property("missing"); got != nil {
		t.Errorf("Property(missing) = %v, want nil", got)
	}
}
