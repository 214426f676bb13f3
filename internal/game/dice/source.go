package dice

import (
	"crypto/rand"
	"encoding/binary"
	"math/big"
	mrand "math/rand/v2"
)

// Source is the randomness provider for dice rolls.
//
// Implementations need not be safe for concurrent use; every simulation trial
// owns its own Source.
type Source interface {
	// Intn returns a non-negative random int in [0, n).
	//
	// Precondition: n > 0.
	Intn(n int) int
	// Float64 returns a random float in [0, 1).
	Float64() float64
}

// seededSource is a deterministic PCG stream.
type seededSource struct {
	r *mrand.Rand
}

// NewSeededSource returns a deterministic Source for the given seed and
// stream. Distinct stream values give independent substreams of one seed,
// so trial i of a run uses NewSeededSource(seed, i).
//
// Postcondition: two Sources built from equal (seed, stream) produce equal sequences.
func NewSeededSource(seed, stream uint64) Source {
	return &seededSource{r: mrand.New(mrand.NewPCG(seed, stream))}
}

func (s *seededSource) Intn(n int) int {
	if n <= 0 {
		panic("dice: Intn called with n <= 0")
	}
	return s.r.IntN(n)
}

func (s *seededSource) Float64() float64 { return s.r.Float64() }

// cryptoSource implements Source using crypto/rand.
//
// Invariant: All values produced are cryptographically secure and uniformly
// distributed.
type cryptoSource struct{}

// NewCryptoSource returns a Source backed by crypto/rand. It is used to draw
// run seeds when none is configured, never inside a trial.
//
// Postcondition: Every value returned by Intn is in [0, n).
func NewCryptoSource() Source {
	return &cryptoSource{}
}

// Intn returns a cryptographically secure random int in [0, n).
//
// Precondition: n > 0. Panics with "dice: Intn called with n <= 0" if n <= 0.
// Panics with "dice: crypto/rand failure: <err>" if crypto/rand fails.
func (c *cryptoSource) Intn(n int) int {
	if n <= 0 {
		panic("dice: Intn called with n <= 0")
	}
	val, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic("dice: crypto/rand failure: " + err.Error())
	}
	return int(val.Int64())
}

// Float64 returns a cryptographically secure float in [0, 1) with 53 bits of precision.
func (c *cryptoSource) Float64() float64 {
	return float64(c.uint64()>>11) / (1 << 53)
}

func (c *cryptoSource) uint64() uint64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic("dice: crypto/rand failure: " + err.Error())
	}
	return binary.LittleEndian.Uint64(buf[:])
}

// RandomSeed draws a fresh 64-bit seed from crypto/rand.
func RandomSeed() uint64 {
	return (&cryptoSource{}).uint64()
}
