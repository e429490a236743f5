// Package address implements 20-byte ledger addresses for chainchat.
//
// Addresses are always carried in their canonical checksummed form. Every
// external string is normalized through Parse before use so that no
// name-resolution or casing side channel can change which account a
// message targets.
//
// Example:
//
//	addr, err := address.Parse("0x8ba1f109551bD432803012645Ac136ddd64DBA72")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(addr.Hex())
package address

import (
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Size is the length of a ledger address in bytes.
const Size = 20

// ErrInvalidAddress indicates a string that is not a valid hex address.
var ErrInvalidAddress = errors.New("invalid address")

// ErrBadChecksum indicates a mixed-case address whose casing does not
// match its checksum.
var ErrBadChecksum = errors.New("address checksum mismatch")

// Address is a 20-byte ledger account identifier.
type Address [Size]byte

// Zero is the all-zero address. It doubles as the broadcast sentinel: a
// message whose recipient is Zero belongs to the public room rather than
// to a pairwise conversation.
var Zero Address

// Sentinel reports whether the address is the reserved broadcast value.
func (a Address) Sentinel() bool {
	return a == Zero
}

// Bytes returns the address as a byte slice.
func (a Address) Bytes() []byte {
	return a[:]
}

// Hex returns the canonical checksummed hex representation with the 0x
// prefix. The checksum follows the ledger convention: each hex letter is
// uppercased when the corresponding nibble of the Keccak-256 digest of
// the lowercase hex string is >= 8.
func (a Address) Hex() string {
	lower := hex.EncodeToString(a[:])

	digest := sha3.NewLegacyKeccak256()
	digest.Write([]byte(lower))
	sum := digest.Sum(nil)

	out := []byte(lower)
	for i, c := range out {
		if c < 'a' || c > 'f' {
			continue
		}
		nibble := sum[i/2]
		if i%2 == 0 {
			nibble >>= 4
		}
		if nibble&0x0f >= 8 {
			out[i] = c - ('a' - 'A')
		}
	}
	return "0x" + string(out)
}

// String implements fmt.Stringer using the checksummed form.
func (a Address) String() string {
	return a.Hex()
}

// Equal reports whether two addresses refer to the same account.
func (a Address) Equal(b Address) bool {
	return a == b
}

// Parse converts a hex string into an Address.
//
// The 0x prefix is optional. All-lowercase and all-uppercase inputs are
// accepted without checksum verification; mixed-case inputs must carry a
// valid checksum or Parse fails with ErrBadChecksum. The returned value
// is canonical regardless of input casing.
func Parse(s string) (Address, error) {
	var a Address

	raw := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(raw) != Size*2 {
		return a, ErrInvalidAddress
	}

	decoded, err := hex.DecodeString(raw)
	if err != nil {
		return a, ErrInvalidAddress
	}
	copy(a[:], decoded)

	if hasMixedCase(raw) {
		want := strings.TrimPrefix(a.Hex(), "0x")
		if raw != want {
			return Address{}, ErrBadChecksum
		}
	}
	return a, nil
}

// MustParse is Parse that panics on failure. Intended for compiled-in
// constants such as network profile contract addresses.
func MustParse(s string) Address {
	a, err := Parse(s)
	if err != nil {
		panic("address: " + err.Error() + ": " + s)
	}
	return a
}

// FromBytes builds an Address from a 20-byte slice.
func FromBytes(b []byte) (Address, error) {
	var a Address
	if len(b) != Size {
		return a, ErrInvalidAddress
	}
	copy(a[:], b)
	return a, nil
}

func hasMixedCase(s string) bool {
	var upper, lower bool
	for _, c := range s {
		switch {
		case c >= 'A' && c <= 'F':
			upper = true
		case c >= 'a' && c <= 'f':
			lower = true
		}
	}
	return upper && lower
}
