package ledger

import (
	"crypto/sha256"

	"github.com/fortiblox/hostvm/internal/types"
)

// Digest computes a Merkle root over the account, storage and preimage
// records, in key order. Code blobs are covered through the account code
// hash; unreferenced blobs do not affect the digest.
//
// Tree structure:
//   - Record: SHA256(len(key) || key || value)
//   - Leaf: SHA256(0x00 || record)
//   - Node: SHA256(0x01 || left || right)
//   - If odd number of nodes, last node is paired with zero hash
func (l *KVLedger) Digest() (types.Hash, error) {
	if l.closed.Load() {
		return types.Hash{}, ErrClosed
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	var hashes []types.Hash
	for _, prefix := range [][]byte{prefixAccount, prefixStorage, prefixPreimage} {
		err := l.store.iterate(prefix, func(key, value []byte) error {
			h := sha256.New()
			h.Write([]byte{byte(len(key) >> 8), byte(len(key))})
			h.Write(key)
			h.Write(value)
			var rec types.Hash
			h.Sum(rec[:0])
			hashes = append(hashes, rec)
			return nil
		})
		if err != nil {
			return types.Hash{}, err
		}
	}
	return MerkleRoot(hashes), nil
}

// MerkleRoot computes the Merkle root of a list of hashes.
func MerkleRoot(hashes []types.Hash) types.Hash {
	if len(hashes) == 0 {
		return types.Hash{}
	}

	level := make([]types.Hash, len(hashes))
	for i, h := range hashes {
		level[i] = leafHash(h)
	}

	for len(level) > 1 {
		next := make([]types.Hash, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			var right types.Hash
			if i+1 < len(level) {
				right = level[i+1]
			}
			next[i/2] = nodeHash(level[i], right)
		}
		level = next
	}
	return level[0]
}

func leafHash(data types.Hash) types.Hash {
	buf := make([]byte, 1+types.HashSize)
	buf[0] = 0x00
	copy(buf[1:], data[:])
	return sha256.Sum256(buf)
}

func nodeHash(left, right types.Hash) types.Hash {
	buf := make([]byte, 1+2*types.HashSize)
	buf[0] = 0x01
	copy(buf[1:], left[:])
	copy(buf[1+types.HashSize:], right[:])
	return sha256.Sum256(buf)
}
