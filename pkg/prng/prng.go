// Package prng provides the deterministic random source behind witness
// sortition. Every draw is a pure function of the seed and a counter,
// so a selection disputed after the fact can be replayed bit-for-bit
// from the recorded seed.
package prng

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"
)

// SeedLength is the required seed size in bytes.
const SeedLength = 32

// Source is what sortition consumes. Implementations must be
// deterministic for a fixed seed.
type Source interface {
	Uint64() uint64
	Float64() float64
	Intn(n int) int
}

// Deterministic generates reproducible random numbers from
// HMAC-SHA256(seed, counter).
type Deterministic struct {
	mu      sync.Mutex
	seed    []byte
	counter uint64
}

// New creates a deterministic source from a 32-byte seed.
func New(seed []byte) (*Deterministic, error) {
	if len(seed) != SeedLength {
		return nil, fmt.Errorf("seed length %d, want %d", len(seed), SeedLength)
	}
	p := &Deterministic{seed: make([]byte, SeedLength)}
	copy(p.seed, seed)
	return p, nil
}

// Seed returns the hex-encoded seed for recording alongside a
// selection result.
func (p *Deterministic) Seed() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return hex.EncodeToString(p.seed)
}

// Counter returns how many values have been drawn.
func (p *Deterministic) Counter() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counter
}

// Uint64 returns the next deterministic value.
func (p *Deterministic) Uint64() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.next()
}

func (p *Deterministic) next() uint64 {
	p.counter++
	counterBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(counterBytes, p.counter)

	h := hmac.New(sha256.New, p.seed)
	h.Write(counterBytes)
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}

// Float64 returns a deterministic float64 in [0, 1).
func (p *Deterministic) Float64() float64 {
	return float64(p.Uint64()>>11) / (1 << 53)
}

// Intn returns a deterministic int in [0, n).
func (p *Deterministic) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	return int(p.Uint64() % uint64(n)) //nolint:gosec // Safe modulo
}

// Bytes returns n deterministic random bytes.
func (p *Deterministic) Bytes(n int) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	result := make([]byte, n)
	for i := 0; i < n; i += 8 {
		val := p.next()
		valBytes := make([]byte, 8)
		binary.BigEndian.PutUint64(valBytes, val)

		end := i + 8
		if end > n {
			end = n
		}
		copy(result[i:end], valBytes[:end-i])
	}
	return result
}

// DeriveSeed derives a child seed from a root secret via HKDF-SHA256.
// The info string namespaces the derivation; distinct infos yield
// independent seeds from one root.
func DeriveSeed(root []byte, info string) ([]byte, error) {
	r := hkdf.New(sha256.New, root, nil, []byte(info))
	seed := make([]byte, SeedLength)
	if _, err := io.ReadFull(r, seed); err != nil {
		return nil, fmt.Errorf("hkdf expand failed: %w", err)
	}
	return seed, nil
}

// SessionSeed derives the sortition seed for one session. Binding the
// seed to the session id keeps selections independent across sessions
// while staying replayable.
func SessionSeed(root []byte, sessionID string) ([]byte, error) {
	return DeriveSeed(root, "keel/sortition/session:"+sessionID)
}
