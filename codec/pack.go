package codec

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type fieldKind uint8

const (
	fieldNumber fieldKind = iota
	fieldBytes
)

// Field is one element of a packed payload.
type Field struct {
	kind fieldKind
	num  *uint256.Int
	size int
	raw  []byte
}

// Uint keeps the lowest size bytes of v, big endian.
func Uint(v *uint256.Int, size int) Field {
	if size < 1 || size > 32 {
		panic(fmt.Sprintf("codec: invalid number field size %d", size))
	}
	return Field{kind: fieldNumber, num: v, size: size}
}

func Uint64(v uint64, size int) Field {
	return Uint(uint256.NewInt(v), size)
}

func Byte(v uint8) Field {
	return Uint64(uint64(v), 1)
}

func Address(a common.Address) Field {
	return Field{kind: fieldBytes, raw: a.Bytes(), size: common.AddressLength}
}

func Bytes(b []byte) Field {
	return Field{kind: fieldBytes, raw: b, size: len(b)}
}

// Len is the number of bytes the field occupies in the payload.
func (f Field) Len() int {
	return f.size
}

// Pack concatenates fields in order without padding or length prefixes.
func Pack(fields ...Field) []byte {
	total := 0
	for _, f := range fields {
		total += f.size
	}

	out := make([]byte, 0, total)
	for _, f := range fields {
		switch f.kind {
		case fieldNumber:
			b := f.num.Bytes32()
			out = append(out, b[32-f.size:]...)
		case fieldBytes:
			out = append(out, f.raw...)
		}
	}
	return out
}
