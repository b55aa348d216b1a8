package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/s2"
)

// Array is the numeric payload carried by a Frame's observation field:
// row-major raw bytes plus a dtype name and shape, matching the
// numpy-style array the original Python implementation serialises
// (distributed_vec_env/numpy_util.py).
type Array struct {
	Data  []byte
	Shape []uint32
	Dtype string
}

// CompressThreshold is the Data size at or above which Encode transparently
// S2-compresses the payload. Observation tensors below this size aren't
// worth the CPU: S2's own frame header plus the extra compress/decompress
// round trip outweighs the bandwidth saved.
const CompressThreshold = 4096

const (
	arrayTagShape  = 1 // packed little-endian uint32s, one per dimension
	arrayTagDtype  = 2
	arrayTagData   = 3
	arrayTagDataS2 = 4 // payload is s2-compressed; decompress before use
)

func packShape(shape []uint32) []byte {
	out := make([]byte, 4*len(shape))
	for i, d := range shape {
		binary.LittleEndian.PutUint32(out[4*i:], d)
	}
	return out
}

func unpackShape(b []byte) ([]uint32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("wire: shape field of %d bytes is not a multiple of 4", len(b))
	}
	shape := make([]uint32, len(b)/4)
	for i := range shape {
		shape[i] = binary.LittleEndian.Uint32(b[4*i:])
	}
	return shape, nil
}

// Encode appends the wire representation of a to buf.
func (a *Array) Encode(buf *Buffer) {
	buf.WriteBytes(arrayTagShape, packShape(a.Shape))
	buf.WriteString(arrayTagDtype, a.Dtype)
	if len(a.Data) >= CompressThreshold {
		buf.WriteBytes(arrayTagDataS2, s2.Encode(nil, a.Data))
	} else {
		buf.WriteBytes(arrayTagData, a.Data)
	}
	buf.End()
}

// DecodeArray reads an Array previously written with Array.Encode.
func DecodeArray(r *Reader) (*Array, error) {
	a := new(Array)
	for {
		tag, kind, err := r.Field()
		if err != nil {
			return nil, err
		}
		if tag == tagEnd {
			return a, nil
		}
		switch tag {
		case arrayTagShape:
			raw, err := r.ReadBytes()
			if err != nil {
				return nil, err
			}
			if a.Shape, err = unpackShape(raw); err != nil {
				return nil, err
			}
		case arrayTagDtype:
			if a.Dtype, err = r.ReadString(); err != nil {
				return nil, err
			}
		case arrayTagData:
			if a.Data, err = r.ReadBytes(); err != nil {
				return nil, err
			}
		case arrayTagDataS2:
			raw, err := r.ReadBytes()
			if err != nil {
				return nil, err
			}
			a.Data, err = s2.Decode(nil, raw)
			if err != nil {
				return nil, fmt.Errorf("wire: decompressing array data: %w", err)
			}
		default:
			if err := r.Skip(kind); err != nil {
				return nil, fmt.Errorf("wire: skipping unknown Array field %d: %w", tag, err)
			}
		}
	}
}
