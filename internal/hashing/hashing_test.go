package hashing

import (
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/canectors/keyhash/internal/errhandling"
)

var hexPattern = regexp.MustCompile(`^[0-9a-f]+$`)

func TestHash_KnownVector(t *testing.T) {
	got, err := Hash("SHA-256", "key", "The quick brown fox jumps over the lazy dog")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	want := "f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8"
	if got != want {
		t.Errorf("Hash() = %s, want %s", got, want)
	}
}

func TestHash_DeterministicAndDistinct(t *testing.T) {
	digestLen := map[string]int{
		"SHA-256":     64,
		"SHA-384":     96,
		"SHA-512":     128,
		"SHA3-256":    64,
		"SHA3-512":    128,
		"BLAKE2B-256": 64,
		"BLAKE2B-512": 128,
		"ARGON2ID":    64,
	}

	for _, alg := range SupportedAlgorithms() {
		t.Run(alg, func(t *testing.T) {
			for _, plaintext := range []string{"alice", "a", "ünïcödé", "12345"} {
				first, err := Hash(alg, "secret", plaintext)
				if err != nil {
					t.Fatalf("Hash() error = %v", err)
				}
				second, err := Hash(alg, "secret", plaintext)
				if err != nil {
					t.Fatalf("Hash() error = %v", err)
				}
				if first != second {
					t.Errorf("Hash(%q) not deterministic", plaintext)
				}
				if first == plaintext {
					t.Errorf("Hash(%q) equals plaintext", plaintext)
				}
				if !hexPattern.MatchString(first) {
					t.Errorf("Hash(%q) = %q is not lowercase hex", plaintext, first)
				}
				if len(first) != digestLen[alg] {
					t.Errorf("len(Hash) = %d, want %d", len(first), digestLen[alg])
				}
			}
		})
	}
}

func TestHash_KeyMatters(t *testing.T) {
	a, err := Hash("", "secret", "alice")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	b, err := Hash("", "other", "alice")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if a == b {
		t.Error("different keys must produce different hashes")
	}
}

func TestResolveAlgorithm(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"", DefaultAlgorithm, false},
		{"  ", DefaultAlgorithm, false},
		{"SHA-256", "SHA-256", false},
		{"sha-512", "SHA-512", false},
		{"Blake2b-256", "BLAKE2B-256", false},
		{"argon2id", "ARGON2ID", false},
		{"MD5", "", true},
		{"ROT13", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			alg, err := ResolveAlgorithm(tt.input)
			if tt.wantErr {
				if !errors.Is(err, errhandling.ErrUnsupportedAlgorithm) {
					t.Fatalf("ResolveAlgorithm(%q) error = %v, want unsupported algorithm", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveAlgorithm(%q) error = %v", tt.input, err)
			}
			if alg.Name != tt.want {
				t.Errorf("ResolveAlgorithm(%q) = %s, want %s", tt.input, alg.Name, tt.want)
			}
		})
	}
}

func TestDefaultMatchesExplicit(t *testing.T) {
	def, err := Hash("", "secret", "alice")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	explicit, err := Hash(DefaultAlgorithm, "secret", "alice")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if def != explicit {
		t.Error("empty algorithm must hash like the default algorithm")
	}
}

func TestNewDeriver(t *testing.T) {
	t.Run("unsupported algorithm", func(t *testing.T) {
		_, err := NewDeriver("CRC32", "secret")
		if !errors.Is(err, errhandling.ErrUnsupportedAlgorithm) {
			t.Errorf("NewDeriver() error = %v, want unsupported algorithm", err)
		}
	})

	t.Run("oversized blake2b key", func(t *testing.T) {
		_, err := NewDeriver("BLAKE2B-512", strings.Repeat("k", 65))
		if !errors.Is(err, errhandling.ErrConfiguration) {
			t.Errorf("NewDeriver() error = %v, want configuration error", err)
		}
	})

	t.Run("algorithm name", func(t *testing.T) {
		d, err := NewDeriver("sha3-256", "secret")
		if err != nil {
			t.Fatalf("NewDeriver() error = %v", err)
		}
		if d.Algorithm() != "SHA3-256" {
			t.Errorf("Algorithm() = %s, want SHA3-256", d.Algorithm())
		}
	})
}

func TestSupportedAlgorithms(t *testing.T) {
	algs := SupportedAlgorithms()
	if len(algs) != 8 {
		t.Fatalf("SupportedAlgorithms() = %v, want 8 entries", algs)
	}
	for i := 1; i < len(algs); i++ {
		if algs[i-1] > algs[i] {
			t.Errorf("SupportedAlgorithms() not sorted: %v", algs)
		}
	}
}
