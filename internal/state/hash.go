package state

import (
	"crypto/sha256"
	"encoding/binary"
)

const GenesisHashSeed = "FeeRouter:genesis:v1"

// GenesisHash is the chain seed for a vault's first progress commit.
func GenesisHash() [32]byte {
	return sha256.Sum256([]byte(GenesisHashSeed))
}

// ComputeProgressHash chains the committed progress state:
// hash[N] = SHA-256(prev_hash || vault || cursor || distributed || claimed || bitmap).
// Stored alongside each progress commit so an auditor can verify no page
// was rewritten out of order.
func ComputeProgressHash(prevHash [32]byte, p *DistributionProgress) [32]byte {
	h := sha256.New()
	h.Write(prevHash[:])
	h.Write(p.Vault[:])

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(p.Cursor))
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], p.CurrentDayDistributed)
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], p.CurrentDayTotalClaimed)
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(p.LastDistributionTs))
	h.Write(buf[:])
	if p.DayCompleted {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	h.Write(p.PaidBitmap[:])

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
