package core

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/google/uuid"
)

const GenesisHashSeed = "PMMEngine:genesis:v1"

// GenesisHash is the chain root for one pool: SHA-256(seed || pool_id).
func GenesisHash(poolID uuid.UUID) [32]byte {
	hasher := sha256.New()
	hasher.Write([]byte(GenesisHashSeed))
	hasher.Write(poolID[:])

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	return hash
}

// ComputeHash calculates state_hash[N] = SHA-256(prev_hash || sequence || state_digest)
func ComputeHash(prevHash [32]byte, sequence int64, stateDigest []byte) [32]byte {
	hasher := sha256.New()

	// Write prev_hash (32 bytes)
	hasher.Write(prevHash[:])

	// Write sequence (8 bytes LE)
	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	// Write state digest
	hasher.Write(stateDigest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	return hash
}

// VerifyChain recomputes a pool's hash from its predecessor. Used by replay
// tooling and tests.
func VerifyChain(prevHash [32]byte, p *Pool) bool {
	return ComputeHash(prevHash, p.Sequence, p.CanonicalBytes()) == p.StateHash
}
