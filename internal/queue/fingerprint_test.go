package queue

import (
	"strings"
	"testing"
)

func TestNormalizeURL(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "lowercases scheme and host",
			in:   "HTTPS://WWW.Example.COM/watch?v=abc",
			want: "https://www.example.com/watch?v=abc",
		},
		{
			name: "strips default port",
			in:   "https://example.com:443/track",
			want: "https://example.com/track",
		},
		{
			name: "drops tracking params and fragment",
			in:   "https://example.com/watch?v=abc&utm_source=share&si=xyz#t=30",
			want: "https://example.com/watch?v=abc",
		},
		{
			name: "sorts remaining query",
			in:   "https://example.com/watch?b=2&a=1",
			want: "https://example.com/watch?a=1&b=2",
		},
		{
			name: "trims trailing slash",
			in:   "https://example.com/track/",
			want: "https://example.com/track",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeURL(tc.in)
			if err != nil {
				t.Fatalf("NormalizeURL(%q): %v", tc.in, err)
			}
			if got != tc.want {
				t.Errorf("NormalizeURL(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestNormalizeURL_Rejects(t *testing.T) {
	for _, in := range []string{"ftp://example.com/x", "not a url at all://", "file:///etc/passwd", "https://"} {
		if _, err := NormalizeURL(in); err == nil {
			t.Errorf("expected NormalizeURL(%q) to fail", in)
		}
	}
}

func TestFingerprintURL_StableAcrossJunk(t *testing.T) {
	a, err := FingerprintURL("https://example.com/watch?v=abc&utm_campaign=share")
	if err != nil {
		t.Fatalf("FingerprintURL: %v", err)
	}
	b, err := FingerprintURL("HTTPS://example.com:443/watch?v=abc&fbclid=123")
	if err != nil {
		t.Fatalf("FingerprintURL: %v", err)
	}
	if a != b {
		t.Errorf("expected identical fingerprints, got %s and %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("expected hex sha256, got %q", a)
	}
}

func TestFingerprintReader(t *testing.T) {
	a, err := FingerprintReader(strings.NewReader("same content"))
	if err != nil {
		t.Fatalf("FingerprintReader: %v", err)
	}
	b, _ := FingerprintReader(strings.NewReader("same content"))
	c, _ := FingerprintReader(strings.NewReader("other content"))

	if a != b {
		t.Error("identical content produced different fingerprints")
	}
	if a == c {
		t.Error("different content produced identical fingerprints")
	}
}
