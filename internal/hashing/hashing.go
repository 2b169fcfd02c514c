// Package hashing derives keyed hashes of plaintext values.
//
// Every algorithm is a keyed, deterministic construction: the same algorithm,
// key and plaintext always produce the same lowercase hex string.
package hashing

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"sort"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"

	"github.com/canectors/keyhash/internal/errhandling"
)

// DefaultAlgorithm is substituted when no algorithm is configured.
const DefaultAlgorithm = "SHA-256"

// Argon2id parameters. The key is used as salt so output stays deterministic.
const (
	argon2Time    uint32 = 2
	argon2Memory  uint32 = 19 * 1024 // KiB
	argon2Threads uint8  = 1
	argon2KeyLen  uint32 = 32
)

// Algorithm is a named keyed hash construction.
type Algorithm struct {
	// Name is the canonical identifier (e.g., "SHA-256")
	Name string

	// newMAC builds a keyed digest; nil for non-streaming constructions
	newMAC func(key []byte) (hash.Hash, error)

	// derive computes the raw digest directly when newMAC is nil
	derive func(key, plaintext []byte) []byte
}

func hmacOf(h func() hash.Hash) func(key []byte) (hash.Hash, error) {
	return func(key []byte) (hash.Hash, error) {
		return hmac.New(h, key), nil
	}
}

func blake2bOf(size int) func(key []byte) (hash.Hash, error) {
	return func(key []byte) (hash.Hash, error) {
		if len(key) > blake2b.Size {
			return nil, fmt.Errorf("blake2b key is %d bytes, at most %d allowed", len(key), blake2b.Size)
		}
		return blake2b.New(size, key)
	}
}

func argon2id(key, plaintext []byte) []byte {
	return argon2.IDKey(plaintext, key, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
}

var algorithms = map[string]Algorithm{
	"SHA-256":     {Name: "SHA-256", newMAC: hmacOf(sha256.New)},
	"SHA-384":     {Name: "SHA-384", newMAC: hmacOf(sha512.New384)},
	"SHA-512":     {Name: "SHA-512", newMAC: hmacOf(sha512.New)},
	"SHA3-256":    {Name: "SHA3-256", newMAC: hmacOf(sha3.New256)},
	"SHA3-512":    {Name: "SHA3-512", newMAC: hmacOf(sha3.New512)},
	"BLAKE2B-256": {Name: "BLAKE2B-256", newMAC: blake2bOf(blake2b.Size256)},
	"BLAKE2B-512": {Name: "BLAKE2B-512", newMAC: blake2bOf(blake2b.Size)},
	"ARGON2ID":    {Name: "ARGON2ID", derive: argon2id},
}

// SupportedAlgorithms returns the canonical names of all algorithms, sorted.
func SupportedAlgorithms() []string {
	names := make([]string, 0, len(algorithms))
	for name := range algorithms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolveAlgorithm maps a configured identifier to an Algorithm.
// An empty identifier resolves to DefaultAlgorithm. Matching ignores case and
// surrounding whitespace.
func ResolveAlgorithm(name string) (Algorithm, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "" {
		name = DefaultAlgorithm
	}
	alg, ok := algorithms[name]
	if !ok {
		return Algorithm{}, errhandling.NewUnsupportedAlgorithmError(name)
	}
	return alg, nil
}

// Deriver hashes plaintext values with a fixed algorithm and key.
// A Deriver is immutable and safe for concurrent use.
type Deriver struct {
	alg Algorithm
	key []byte
}

// NewDeriver resolves the algorithm and validates the key once.
func NewDeriver(algorithm, key string) (*Deriver, error) {
	alg, err := ResolveAlgorithm(algorithm)
	if err != nil {
		return nil, err
	}
	d := &Deriver{alg: alg, key: []byte(key)}

	// Surface key errors (e.g. oversized BLAKE2b keys) before any record is read.
	if alg.newMAC != nil {
		if _, err := alg.newMAC(d.key); err != nil {
			return nil, errhandling.NewConfigurationError("invalid hash key", err)
		}
	}
	return d, nil
}

// Algorithm returns the canonical name of the resolved algorithm.
func (d *Deriver) Algorithm() string {
	return d.alg.Name
}

// Hash returns the lowercase hex keyed hash of plaintext.
func (d *Deriver) Hash(plaintext string) (string, error) {
	if d.alg.derive != nil {
		return hex.EncodeToString(d.alg.derive(d.key, []byte(plaintext))), nil
	}

	mac, err := d.alg.newMAC(d.key)
	if err != nil {
		return "", fmt.Errorf("initializing %s: %w", d.alg.Name, err)
	}
	mac.Write([]byte(plaintext))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Hash is a convenience that resolves the algorithm and hashes in one call.
func Hash(algorithm, key, plaintext string) (string, error) {
	d, err := NewDeriver(algorithm, key)
	if err != nil {
		return "", err
	}
	return d.Hash(plaintext)
}
