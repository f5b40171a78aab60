// Package payload provides the structured-object codec used for frame
// payload bodies. Framing never inspects these bytes; it only needs the
// encoding to be deterministic and self-terminating, which canonical CBOR
// (RFC 8949 core deterministic profile) provides.
package payload

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("payload: building CBOR encode mode: %v", err))
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("payload: building CBOR decode mode: %v", err))
	}
}

// Marshal encodes one message instance to canonical CBOR.
func Marshal(msg any) ([]byte, error) {
	return encMode.Marshal(msg)
}

// Unmarshal decodes CBOR payload bytes into msg, which must be a pointer.
func Unmarshal(data []byte, msg any) error {
	return decMode.Unmarshal(data, msg)
}
