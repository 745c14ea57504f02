package coap

import "testing"

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	if c.MaxRetransmit != 4 {
		t.Errorf("MaxRetransmit = %d, want 4", c.MaxRetransmit)
	}
	if c.AckRandomFactor != 1.5 {
		t.Errorf("AckRandomFactor = %v, want 1.5", c.AckRandomFactor)
	}
	if c.DefaultBlockSize != 512 {
		t.Errorf("DefaultBlockSize = %d, want 512", c.DefaultBlockSize)
	}
}

func TestNormalizeBlockSize(t *testing.T) {
	cases := []struct {
		in, want int
	}{
		{0, 0},
		{1, 0},
		{15, 0},
		{16, 16},
		{17, 16},
		{512, 512},
		{1000, 512},
		{1024, 1024},
		{5000, 1024},
	}
	for _, tc := range cases {
		if got := NormalizeBlockSize(tc.in); got != tc.want {
			t.Errorf("NormalizeBlockSize(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
