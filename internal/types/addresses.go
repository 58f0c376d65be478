package types

import (
	"encoding/binary"

	"github.com/zeebo/blake3"
)

// contractAddressDomain separates contract address derivation from code hashing.
var contractAddressDomain = []byte("hostvm/contract-address")

// ContractAddress derives the address of a contract deployed by sender at the
// given nonce.
func ContractAddress(sender Address, nonce uint64) Address {
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], nonce)

	h := blake3.New()
	h.Write(contractAddressDomain)
	h.Write(sender[:])
	h.Write(n[:])

	var a Address
	copy(a[:], h.Sum(nil))
	return a
}

// AddressFromSeed derives a deterministic address from an arbitrary seed.
// Used for test fixtures and well-known accounts.
func AddressFromSeed(seed string) Address {
	return Address(blake3.Sum256([]byte(seed)))
}
