package sampler

import (
	"crypto/sha256"
	"encoding/binary"
	"math/rand/v2"
)

// NewRNG returns a PCG-backed random source seeded by (seed1, seed2),
// accepted directly so tests can pin deterministic draws.
func NewRNG(seed1, seed2 uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed1, seed2))
}

// ProductionSeed derives a deterministic RNG seed from (cycleID, adID),
// so the same ad in the same scheduling cycle always draws the same
// Thompson sample even across process restarts.
func ProductionSeed(cycleID, adID string) (uint64, uint64) {
	sum := sha256.Sum256([]byte(cycleID + "|" + adID))
	return binary.BigEndian.Uint64(sum[0:8]), binary.BigEndian.Uint64(sum[8:16])
}
