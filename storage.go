package proxvoice

import (
	"fmt"

	"github.com/proxvoice/proxvoice/rudp"
)

// SaveChannels replaces the persisted channel list with the server's
// current one. Called after runtime channel changes and on shutdown.
func (s *Server) SaveChannels() error {
	if s.db == nil {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM channel;`); err != nil {
		return err
	}

	for i, ch := range s.Channels() {
		var (
			hasOverride bool
			dist        float32
			toggle      bool
			effects     bool
		)
		if ch.Override != nil {
			hasOverride = true
			dist = ch.Override.ProximityDistance
			toggle = ch.Override.ProximityEnabled
			effects = ch.Override.VoiceEffects
		}

		_, err := tx.Exec(`INSERT INTO channel (idx, name, password, locked, hidden, has_override, proximity_distance, proximity_toggle, voice_effects)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);`,
			i, ch.Name, ch.Password, ch.Locked, ch.Hidden,
			hasOverride, dist, toggle, effects)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// LoadChannels restores the persisted channel list, overriding the
// configured one. An empty table leaves the configuration in place.
func (s *Server) LoadChannels() error {
	if s.db == nil {
		return nil
	}

	rows, err := s.db.Query(`SELECT idx, name, password, locked, hidden, has_override, proximity_distance, proximity_toggle, voice_effects
FROM channel ORDER BY idx;`)
	if err != nil {
		return err
	}
	defer rows.Close()

	var channels []*Channel
	for rows.Next() {
		var (
			idx         int
			ch          Channel
			hasOverride bool
			dist        float32
			toggle      bool
			effects     bool
		)
		err := rows.Scan(&idx, &ch.Name, &ch.Password, &ch.Locked, &ch.Hidden,
			&hasOverride, &dist, &toggle, &effects)
		if err != nil {
			return err
		}
		if hasOverride {
			ch.Override = &ChannelOverride{
				ProximityDistance: dist,
				ProximityEnabled:  toggle,
				VoiceEffects:      effects,
			}
		}
		channels = append(channels, &ch)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if len(channels) == 0 {
		return nil
	}
	if channels[0].IsLocked() {
		return fmt.Errorf("persisted default channel %s is locked or hidden", channels[0].Name)
	}

	s.mu.Lock()
	s.channels = channels
	s.mu.Unlock()
	return nil
}

// AddChannel appends a channel at runtime, persists the list and
// advertises the channel to every connected participant unless it is
// hidden.
func (s *Server) AddChannel(ch *Channel) error {
	s.mu.Lock()
	for _, old := range s.channels {
		if old.Name == ch.Name {
			s.mu.Unlock()
			return fmt.Errorf("channel %s already exists", ch.Name)
		}
	}
	s.channels = append(s.channels, ch)
	i := len(s.channels) - 1
	s.mu.Unlock()

	if !ch.Hidden {
		s.broadcastAll(&rudp.AddChannel{
			Channel:           uint8(i),
			Name:              ch.Name,
			Locked:            ch.Locked,
			Hidden:            ch.Hidden,
			PasswordProtected: ch.Password != "",
		})
	}
	return s.SaveChannels()
}

// RemoveChannel drops the named channel, moving its participants to
// the default channel first. The default channel cannot be removed.
func (s *Server) RemoveChannel(name string) error {
	s.mu.RLock()
	target := -1
	for i, ch := range s.channels {
		if ch.Name == name {
			target = i
			break
		}
	}
	s.mu.RUnlock()

	if target < 0 {
		return fmt.Errorf("no such channel %s", name)
	}
	if target == 0 {
		return fmt.Errorf("cannot remove default channel %s", name)
	}

	for _, pt := range s.ParticipantsInChannel(target) {
		s.MoveParticipant(pt, 0)
	}

	s.mu.Lock()
	s.channels = append(s.channels[:target], s.channels[target+1:]...)
	// Members of later channels keep their channel pointers valid:
	// indices above the removed one shift down by one.
	for _, pt := range s.participants {
		if ch := pt.Channel(); ch > target {
			pt.setChannel(ch - 1)
		}
	}
	s.mu.Unlock()

	s.broadcastAll(&rudp.RemoveChannel{Channel: uint8(target)})
	return s.SaveChannels()
}

func (s *Server) broadcastAll(pkt rudp.Pkt) {
	for _, pt := range s.Participants() {
		pt.Peer().AddToSendBuffer(pkt)
	}
}
