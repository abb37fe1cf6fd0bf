package groups

import (
	"crypto/sha512"
	"encoding/binary"
)

// DeriveSeed turns the configured seed string into the top-level numeric
// seed: the SHA-512 digest is read as eight little-endian uint64 words,
// summed with wraparound, and floor-divided by the trial count. The
// derivation is arbitrary but fixed; changing it would break
// reproducibility against previously published group assignments.
//
// Trial t (1-based) then seeds its own generator with t * seed, again with
// uint64 wraparound, so every trial's random stream is a deterministic
// function of the top-level seed and the trial index.
func DeriveSeed(seed string, trials int) uint64 {
	digest := sha512.Sum512([]byte(seed))
	var sum uint64
	for i := 0; i < len(digest); i += 8 {
		sum += binary.LittleEndian.Uint64(digest[i:])
	}
	return sum / uint64(trials)
}
