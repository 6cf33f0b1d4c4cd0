package proxvoice

import "testing"

func TestCompatibleVersion(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"proxvoice 1.2.0", "proxvoice 1.2.0", true},
		{"proxvoice 1.2.0", "proxvoice 1.2.7", true},
		{"proxvoice 1.2.0", "otherclient 1.2.3", true},
		{"proxvoice 1.2.0", "proxvoice 1.3.0", false},
		{"proxvoice 1.2.0", "proxvoice 2.2.0", false},
		{"proxvoice 1.2.0", "", false},
		{"garbage", "proxvoice 1.2.0", false},
	}

	for _, c := range cases {
		if got := CompatibleVersion(c.a, c.b); got != c.want {
			t.Errorf("CompatibleVersion(%q, %q) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}
