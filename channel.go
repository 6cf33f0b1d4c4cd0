package proxvoice

// ChannelOverride replaces the server's proximity defaults for one
// channel.
type ChannelOverride struct {
	ProximityDistance float32 `yaml:"proximity_distance"`
	ProximityEnabled  bool    `yaml:"proximity_toggle"`
	VoiceEffects      bool    `yaml:"voice_effects"`
}

// A Channel is a named audio space. Participants belong to exactly one
// channel at any instant; audio never crosses channels.
type Channel struct {
	Name     string           `yaml:"name"`
	Password string           `yaml:"password"` // empty = none
	Locked   bool             `yaml:"locked"`
	Hidden   bool             `yaml:"hidden"` // hidden implies locked
	Override *ChannelOverride `yaml:"override"`
}

// IsLocked reports whether joining is refused outright.
func (c *Channel) IsLocked() bool {
	return c.Locked || c.Hidden
}

// CheckPassword reports whether the given password grants entry.
func (c *Channel) CheckPassword(password string) bool {
	return c.Password == "" || c.Password == password
}

// ProximitySettings are the effective per-frame routing parameters:
// the channel override if present, else the server defaults.
type ProximitySettings struct {
	ProximityEnabled  bool
	ProximityDistance float32
	VoiceEffects      bool
}

// Settings resolves the effective proximity settings for the channel.
func (c *Channel) Settings(defaults ProximitySettings) ProximitySettings {
	if c == nil || c.Override == nil {
		return defaults
	}
	return ProximitySettings{
		ProximityEnabled:  c.Override.ProximityEnabled,
		ProximityDistance: c.Override.ProximityDistance,
		VoiceEffects:      c.Override.VoiceEffects,
	}
}
