package abort

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBytesRoundTrip(t *testing.T) {
	for _, code := range []Code{ObjectDoesNotExist, ReadOnly, GeneralError, Code(0x12345678)} {
		assert.Equal(t, code, FromBytes(code.Bytes()))
	}
}

func TestObjectDoesNotExistWireEncoding(t *testing.T) {
	// CiA 301 abort code 0x06020000, little-endian on the wire.
	assert.Equal(t, [4]byte{0x00, 0x00, 0x02, 0x06}, ObjectDoesNotExist.Bytes())
}

func TestStringKnownAndUnknown(t *testing.T) {
	assert.Contains(t, ReadOnly.String(), "read only")
	assert.Contains(t, Code(0xFFFFFFFF).String(), "unknown")
}
