package message

import (
	"encoding/binary"
	"fmt"
	"math"
)

// BulkArray is the in-memory form of a bulk (N-D numeric array) value
// (§4.A/§4.G): a shape, an element dtype, and its row-major packed bytes.
// ToPayload and RecreateValue are the two halves of the fabric's
// to_payload/recreate_value conversion between this representation and the
// {Payload metadata + trailing binary frame} the wire actually carries.
type BulkArray struct {
	Shape []int
	Dtype string
	Data  []byte
}

// Supported dtypes, matching the reference implementation's numpy-style
// element-type tags restricted to the set this module actually round-trips.
const (
	DtypeFloat64 = "float64"
	DtypeFloat32 = "float32"
	DtypeInt64   = "int64"
	DtypeInt32   = "int32"
	DtypeUint8   = "uint8"
)

func elemSize(dtype string) (int, error) {
	switch dtype {
	case DtypeFloat64, DtypeInt64:
		return 8, nil
	case DtypeFloat32, DtypeInt32:
		return 4, nil
	case DtypeUint8:
		return 1, nil
	default:
		return 0, fmt.Errorf("message: unsupported bulk dtype %q", dtype)
	}
}

func shapeCount(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// ToPayload splits value into wire form: if value is one of the array types
// this package knows how to encode ([]float64, []float32, []int64, []int32,
// []byte/[]uint8), the returned Payload carries Shape/Dtype/Bulk metadata and
// the array's packed bytes are returned separately as the bulk frame; any
// other value is carried inline as Payload.Value with a nil bulk frame. t is
// stamped as the payload's Time.
func ToPayload(value any, t float64) (*Payload, []byte) {
	switch v := value.(type) {
	case []float64:
		data := make([]byte, 8*len(v))
		for i, f := range v {
			binary.LittleEndian.PutUint64(data[i*8:], math.Float64bits(f))
		}
		return &Payload{Shape: []int{len(v)}, Dtype: DtypeFloat64, Bulk: true, Time: t}, data
	case []float32:
		data := make([]byte, 4*len(v))
		for i, f := range v {
			binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(f))
		}
		return &Payload{Shape: []int{len(v)}, Dtype: DtypeFloat32, Bulk: true, Time: t}, data
	case []int64:
		data := make([]byte, 8*len(v))
		for i, n := range v {
			binary.LittleEndian.PutUint64(data[i*8:], uint64(n))
		}
		return &Payload{Shape: []int{len(v)}, Dtype: DtypeInt64, Bulk: true, Time: t}, data
	case []int32:
		data := make([]byte, 4*len(v))
		for i, n := range v {
			binary.LittleEndian.PutUint32(data[i*4:], uint32(n))
		}
		return &Payload{Shape: []int{len(v)}, Dtype: DtypeInt32, Bulk: true, Time: t}, data
	case []byte:
		data := make([]byte, len(v))
		copy(data, v)
		return &Payload{Shape: []int{len(v)}, Dtype: DtypeUint8, Bulk: true, Time: t}, data
	case BulkArray:
		return &Payload{Shape: v.Shape, Dtype: v.Dtype, Bulk: true, Time: t}, v.Data
	default:
		return &Payload{Value: value, Time: t}, nil
	}
}

// SplitPayloadBulk inspects payload.Value and, if it is one of the array
// types ToPayload knows how to encode, returns a copy of payload with Value
// cleared and Shape/Dtype/Bulk populated, plus the packed bytes to carry as
// the wire's separate bulk frame. Any other payload (including one that
// already has Bulk set with no in-memory array, e.g. a relayed publish) is
// returned unchanged with a nil bulk frame.
func SplitPayloadBulk(payload *Payload) (*Payload, []byte) {
	if payload == nil || payload.Value == nil {
		return payload, nil
	}
	encoded, bulk := ToPayload(payload.Value, payload.Time)
	if !encoded.Bulk {
		return payload, nil
	}
	out := *payload
	out.Value = nil
	out.Shape = encoded.Shape
	out.Dtype = encoded.Dtype
	out.Bulk = true
	return &out, bulk
}

// RecreateValue reverses ToPayload. When payload does not declare bulk data
// (or bulk is nil), it simply returns payload.Value unchanged. When it does,
// the Shape/Dtype describe how to reinterpret bulk back into a typed Go
// slice; a 1-D shape recreates the language-native slice types ToPayload
// produces, and any other shape is returned as a generic BulkArray so callers
// can still inspect the raw bytes. An unrecognized dtype, or a bulk frame
// whose length does not match Shape and Dtype, is returned as an error.
func RecreateValue(payload *Payload, bulk []byte) (any, error) {
	if payload == nil {
		return nil, nil
	}
	if !payload.Bulk || bulk == nil {
		return payload.Value, nil
	}

	size, err := elemSize(payload.Dtype)
	if err != nil {
		return nil, err
	}
	want := shapeCount(payload.Shape) * size
	if len(bulk) != want {
		return nil, fmt.Errorf("message: bulk frame is %d bytes, shape %v dtype %q expects %d", len(bulk), payload.Shape, payload.Dtype, want)
	}

	if len(payload.Shape) != 1 {
		return BulkArray{Shape: payload.Shape, Dtype: payload.Dtype, Data: bulk}, nil
	}

	n := payload.Shape[0]
	switch payload.Dtype {
	case DtypeFloat64:
		out := make([]float64, n)
		for i := range out {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(bulk[i*8:]))
		}
		return out, nil
	case DtypeFloat32:
		out := make([]float32, n)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(bulk[i*4:]))
		}
		return out, nil
	case DtypeInt64:
		out := make([]int64, n)
		for i := range out {
			out[i] = int64(binary.LittleEndian.Uint64(bulk[i*8:]))
		}
		return out, nil
	case DtypeInt32:
		out := make([]int32, n)
		for i := range out {
			out[i] = int32(binary.LittleEndian.Uint32(bulk[i*4:]))
		}
		return out, nil
	case DtypeUint8:
		out := make([]byte, n)
		copy(out, bulk)
		return out, nil
	default:
		return BulkArray{Shape: payload.Shape, Dtype: payload.Dtype, Data: bulk}, nil
	}
}
