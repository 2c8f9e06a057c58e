package digest

import (
	"encoding/hex"
	"fmt"

	"lukechampine.com/blake3"
)

// Domain prefixes keep hashes of different inputs from colliding.
// The version suffix allows algorithm migration.
const (
	DomainUnitKey    = "kiln/unit-key/v1"
	DomainGeneration = "kiln/generation/v1"
)

// Size is the digest length in bytes.
const Size = 32

// Sum computes BLAKE3(domain + 0x00 + data) as lowercase hex.
func Sum(domain string, data []byte) string {
	h := blake3.New(Size, nil)
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// UnitKey computes the current content key of an ordinary unit.
// The key changes whenever the unit's name, type, source fingerprint or build
// definitions change. Definitions are expected in sorted order; a unit without
// any hashes the same as before definitions existed.
func UnitKey(name, unitType, source string, defines ...string) (string, error) {
	fields := map[string]any{
		"name":   name,
		"type":   unitType,
		"source": source,
	}
	if len(defines) > 0 {
		fields["defines"] = defines
	}
	canonical, err := MarshalCanonical(fields)
	if err != nil {
		return "", fmt.Errorf("UnitKey: failed to marshal: %w", err)
	}
	return Sum(DomainUnitKey, canonical), nil
}

// MustUnitKey is like UnitKey but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustUnitKey(name, unitType, source string, defines ...string) string {
	key, err := UnitKey(name, unitType, source, defines...)
	if err != nil {
		panic(err)
	}
	return key
}

// GenerationHash combines a generation seed with the hashes of the declared
// dependencies. Callers pass dependency hashes in sorted dependency order.
func GenerationHash(seed string, dependencyHashes []string) string {
	h := blake3.New(Size, nil)
	h.Write([]byte(DomainGeneration))
	h.Write([]byte{0x00})
	h.Write([]byte(seed))
	for _, dep := range dependencyHashes {
		h.Write([]byte{0x00})
		h.Write([]byte(dep))
	}
	return hex.EncodeToString(h.Sum(nil))
}
