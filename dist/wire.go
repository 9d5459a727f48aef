package dist

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Canonical mode keeps the encoding deterministic: the same module always
// serialises to the same bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("dist: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Marshal serialises a Chunk to CBOR bytes.
func Marshal(c *Chunk) ([]byte, error) {
	return cborEncMode.Marshal(c)
}

// Unmarshal deserialises a Chunk from CBOR bytes.
func Unmarshal(data []byte) (*Chunk, error) {
	var c Chunk
	if err := cbor.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("dist: unmarshal chunk: %w", err)
	}
	return &c, nil
}
