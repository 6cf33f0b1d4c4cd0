package rudp

import (
	"errors"
	"reflect"
	"testing"
)

func roundtrip(t *testing.T, pkt Pkt, id PeerID, sn uint32) (Pkt, Hdr) {
	t.Helper()

	buf := make([]byte, MaxNetPktSize)
	n, err := Encode(buf, pkt, id, sn)
	if err != nil {
		t.Fatalf("encode %v: %v", Type(pkt), err)
	}

	got, hdr, err := Decode(buf[:n])
	if err != nil {
		t.Fatalf("decode %v: %v", Type(pkt), err)
	}
	return got, hdr
}

func TestCodecLogin(t *testing.T) {
	in := &Login{Key: 5, PositioningType: 1, Version: "proxvoice v1.0", Token: "tok"}
	got, hdr := roundtrip(t, in, 42, 7)

	if hdr.Type != TypeLogin || hdr.PeerID != 42 || hdr.Seqnum != 7 {
		t.Fatalf("bad hdr: %+v", hdr)
	}
	if !reflect.DeepEqual(got, in) {
		t.Fatalf("got %+v, want %+v", got, in)
	}
}

func TestCodecUnreliableOmitsSeqnum(t *testing.T) {
	buf := make([]byte, MaxNetPktSize)
	n, err := Encode(buf, &Ping{}, 9, 1234)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if n != HdrSize {
		t.Fatalf("ping should be %d bytes, got %d", HdrSize, n)
	}

	_, hdr, err := Decode(buf[:n])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if hdr.Seqnum != 0 {
		t.Fatalf("unreliable pkt decoded a seqnum: %d", hdr.Seqnum)
	}
}

func TestCodecServerAudio(t *testing.T) {
	in := &ServerAudio{
		Key:      -3,
		Frame:    99,
		Volume:   0.5,
		Rotation: -1.25,
		Echo:     0.125,
		Muffled:  true,
		Audio:    []byte{1, 2, 3, 4, 5},
	}
	got, _ := roundtrip(t, in, 1, 0)
	if !reflect.DeepEqual(got, in) {
		t.Fatalf("got %+v, want %+v", got, in)
	}
}

func TestCodecEmptyStrings(t *testing.T) {
	got, _ := roundtrip(t, &Deny{}, 1, 0)
	if got.(*Deny).Reason != "" {
		t.Fatalf("empty string did not survive: %q", got.(*Deny).Reason)
	}
}

func TestCodecVariableLengthOffsets(t *testing.T) {
	in := &AddChannel{Channel: 2, Name: "lobby", Locked: true, Hidden: false, PasswordProtected: true}
	got, _ := roundtrip(t, in, 1, 3)
	if !reflect.DeepEqual(got, in) {
		t.Fatalf("got %+v, want %+v", got, in)
	}
}

func TestDecodeTruncated(t *testing.T) {
	buf := make([]byte, MaxNetPktSize)
	n, err := Encode(buf, &Login{Key: 1, Version: "v", Token: "t"}, 1, 0)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	for i := 0; i < n; i++ {
		var derr *DecodeError
		if _, _, err := Decode(buf[:i]); !errors.As(err, &derr) {
			t.Fatalf("truncation at %d not detected: %v", i, err)
		}
	}
}

func TestDecodeTrailingData(t *testing.T) {
	buf := make([]byte, MaxNetPktSize)
	n, err := Encode(buf, &Accept{Key: 1}, 1, 0)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var derr *DecodeError
	if _, _, err := Decode(buf[:n+1]); !errors.As(err, &derr) {
		t.Fatalf("trailing byte not detected: %v", err)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	data := make([]byte, HdrSize)
	data[0] = uint8(maxPktType)

	var derr *DecodeError
	if _, _, err := Decode(data); !errors.As(err, &derr) {
		t.Fatalf("unknown type not detected: %v", err)
	}
}

func TestDecodeHugeBlobLength(t *testing.T) {
	// A blob length prefix larger than the datagram must not be
	// trusted.
	buf := make([]byte, MaxNetPktSize)
	n, err := Encode(buf, &ClientAudio{Audio: []byte{1}}, 1, 0)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	le.PutUint32(buf[n-5:n-1], 1<<30)

	var derr *DecodeError
	if _, _, err := Decode(buf[:n]); !errors.As(err, &derr) {
		t.Fatalf("oversized blob length not detected: %v", err)
	}
}

func TestEncodeBufTooSmall(t *testing.T) {
	buf := make([]byte, 4)
	if _, err := Encode(buf, &Ping{}, 1, 0); !errors.Is(err, ErrBufTooSmall) {
		t.Fatalf("want ErrBufTooSmall, got %v", err)
	}
}
