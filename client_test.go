package proxvoice

import (
	"testing"

	"github.com/proxvoice/proxvoice/rudp"
)

func newMirrorClient() *Client {
	return &Client{
		participants: make(map[int16]*RemoteParticipant),
		channels:     make(map[int]*RemoteChannel),
	}
}

func TestClientMirrorRemoveChannelShifts(t *testing.T) {
	c := newMirrorClient()

	for i, name := range []string{"Main", "Blue", "Red", "Green"} {
		c.HandlePkt(nil, &rudp.AddChannel{Channel: uint8(i), Name: name})
	}
	c.HandlePkt(nil, &rudp.JoinChannel{Channel: 2})
	if c.Channel() != 2 {
		t.Fatalf("Channel = %d after join, want 2", c.Channel())
	}

	// Removing a channel below ours shifts every higher index down,
	// our own current channel included.
	c.HandlePkt(nil, &rudp.RemoveChannel{Channel: 1})

	if c.Channel() != 1 {
		t.Errorf("Channel = %d after removal below, want 1", c.Channel())
	}
	chs := c.Channels()
	if len(chs) != 3 {
		t.Fatalf("mirror has %d channels, want 3", len(chs))
	}
	if chs[1] == nil || chs[1].Name != "Red" {
		t.Errorf("channel 1 = %+v, want Red", chs[1])
	}
	if chs[2] == nil || chs[2].Name != "Green" {
		t.Errorf("channel 2 = %+v, want Green", chs[2])
	}

	// Removing a channel above ours leaves our index alone.
	c.HandlePkt(nil, &rudp.RemoveChannel{Channel: 2})
	if c.Channel() != 1 {
		t.Errorf("Channel = %d after removal above, want 1", c.Channel())
	}
}

func TestClientMirrorParticipantState(t *testing.T) {
	c := newMirrorClient()

	c.HandlePkt(nil, &rudp.ParticipantJoined{Key: 7, Name: "alice"})
	c.HandlePkt(nil, &rudp.Deafen{Key: 7})
	c.HandlePkt(nil, &rudp.Mute{Key: 9}) // unknown key, ignored

	pts := c.Participants()
	if len(pts) != 1 {
		t.Fatalf("mirror has %d participants, want 1", len(pts))
	}
	if !pts[0].Deafened || pts[0].Muted {
		t.Errorf("participant state = %+v, want deafened only", pts[0])
	}

	c.HandlePkt(nil, &rudp.ParticipantLeft{Key: 7})
	if len(c.Participants()) != 0 {
		t.Error("departed participant still mirrored")
	}
}
