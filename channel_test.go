package proxvoice

import "testing"

func TestChannelLocking(t *testing.T) {
	if (&Channel{Name: "a"}).IsLocked() {
		t.Error("plain channel locked")
	}
	if !(&Channel{Name: "a", Locked: true}).IsLocked() {
		t.Error("locked channel not locked")
	}
	if !(&Channel{Name: "a", Hidden: true}).IsLocked() {
		t.Error("hidden channel joinable")
	}
}

func TestChannelPassword(t *testing.T) {
	open := &Channel{Name: "a"}
	if !open.CheckPassword("") || !open.CheckPassword("anything") {
		t.Error("open channel rejected a password")
	}

	guarded := &Channel{Name: "b", Password: "hunter2"}
	if guarded.CheckPassword("") || guarded.CheckPassword("wrong") {
		t.Error("guarded channel accepted a wrong password")
	}
	if !guarded.CheckPassword("hunter2") {
		t.Error("guarded channel rejected the right password")
	}
}

func TestChannelSettingsOverride(t *testing.T) {
	defaults := ProximitySettings{
		ProximityEnabled:  true,
		ProximityDistance: 30,
		VoiceEffects:      true,
	}

	var nilCh *Channel
	if got := nilCh.Settings(defaults); got != defaults {
		t.Errorf("nil channel settings = %+v, want defaults", got)
	}

	plain := &Channel{Name: "a"}
	if got := plain.Settings(defaults); got != defaults {
		t.Errorf("plain channel settings = %+v, want defaults", got)
	}

	global := &Channel{Name: "global", Override: &ChannelOverride{
		ProximityEnabled: false,
		VoiceEffects:     false,
	}}
	got := global.Settings(defaults)
	if got.ProximityEnabled || got.VoiceEffects {
		t.Errorf("override not applied: %+v", got)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig("testdata/does-not-exist.yml")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Host != "0.0.0.0:9050" || len(cfg.Channels) != 1 {
		t.Errorf("missing file did not yield defaults: %+v", cfg)
	}
	if cfg.PositioningType() != PositioningServer {
		t.Errorf("default positioning = %v, want server", cfg.PositioningType())
	}
}
