// Package vector implements VectorValue, the immutable, shared-storage
// vector handle indexed documents and queries are represented by.
package vector

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"golang.org/x/crypto/blake2b"
)

// ElementKind is the declared numeric type of a vector's components.
type ElementKind byte

const (
	F32 ElementKind = iota
	F64
	I16
	I32
	I64
)

func (k ElementKind) String() string {
	switch k {
	case F32:
		return "F32"
	case F64:
		return "F64"
	case I16:
		return "I16"
	case I32:
		return "I32"
	case I64:
		return "I64"
	default:
		return fmt.Sprintf("ElementKind(%d)", byte(k))
	}
}

var (
	ErrInvalidVectorDimension = errors.New("mtreeidx: invalid vector dimension")
	ErrInvalidVectorType      = errors.New("mtreeidx: invalid vector element type")
	ErrInvalidVectorValue     = errors.New("mtreeidx: invalid vector value")
)

// Value is an immutable, shared vector handle. Components are always held
// as float64 internally (the element kind is retained for validation and
// wire-format fidelity only — it does not change how distances are
// computed). Identical vectors built through New share no storage by
// construction, but Equal short-circuits on pointer identity before
// falling back to an elementwise compare, per the spec's "equality by
// elementwise compare; pointer identity as a fast path" contract.
type Value struct {
	kind ElementKind
	data []float64
	hash [20]byte
}

// New validates and wraps components of the declared kind and dimension.
// Every component must be finite; NaN/±Inf is rejected as InvalidVectorValue.
func New(kind ElementKind, components []float64, dimension int) (*Value, error) {
	if len(components) != dimension {
		return nil, fmt.Errorf("%w: got %d components, want %d", ErrInvalidVectorDimension, len(components), dimension)
	}
	data := make([]float64, len(components))
	for i, c := range components {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return nil, fmt.Errorf("%w: component %d is not finite", ErrInvalidVectorValue, i)
		}
		if err := checkRange(kind, c); err != nil {
			return nil, err
		}
		data[i] = c
	}
	return &Value{kind: kind, data: data, hash: hashComponents(kind, data)}, nil
}

func checkRange(kind ElementKind, c float64) error {
	switch kind {
	case I16:
		if c != math.Trunc(c) || c < math.MinInt16 || c > math.MaxInt16 {
			return fmt.Errorf("%w: %v out of range for I16", ErrInvalidVectorValue, c)
		}
	case I32:
		if c != math.Trunc(c) || c < math.MinInt32 || c > math.MaxInt32 {
			return fmt.Errorf("%w: %v out of range for I32", ErrInvalidVectorValue, c)
		}
	case I64:
		if c != math.Trunc(c) {
			return fmt.Errorf("%w: %v is not an integer for I64", ErrInvalidVectorValue, c)
		}
	case F32:
		if float64(float32(c)) != c {
			// not fatal: components are kept and encoded at float64 precision
		}
	case F64:
	default:
		return fmt.Errorf("%w: unknown element kind %v", ErrInvalidVectorType, kind)
	}
	return nil
}

func hashComponents(kind ElementKind, data []float64) (ret [20]byte) {
	h, _ := blake2b.New(20, nil)
	_, _ = h.Write([]byte{byte(kind)})
	var buf [8]byte
	for _, c := range data {
		bits := math.Float64bits(c)
		for i := 0; i < 8; i++ {
			buf[i] = byte(bits >> (8 * i))
		}
		_, _ = h.Write(buf[:])
	}
	copy(ret[:], h.Sum(nil))
	return
}

func (v *Value) Kind() ElementKind   { return v.kind }
func (v *Value) Dimension() int      { return len(v.data) }
func (v *Value) Components() []float64 {
	ret := make([]float64, len(v.data))
	copy(ret, v.data)
	return ret
}

// At returns the i-th component without copying the backing slice.
func (v *Value) At(i int) float64 { return v.data[i] }

// Hash is a precomputed blake2b-160 digest of the kind-tagged components.
// It is suitable as a map key and as a fast pre-check before an elementwise
// Equal (two different hashes guarantee inequality).
func (v *Value) Hash() [20]byte { return v.hash }

// Equal compares by pointer identity first, then elementwise.
func (v *Value) Equal(other *Value) bool {
	if v == other {
		return true
	}
	if v == nil || other == nil {
		return false
	}
	if v.kind != other.kind || len(v.data) != len(other.data) {
		return false
	}
	if v.hash != other.hash {
		return false
	}
	for i := range v.data {
		if v.data[i] != other.data[i] {
			return false
		}
	}
	return true
}

// Less gives a total, deterministic order over vectors for stable
// serialization (spec §3: "keys serialized in a stable sorted order").
// It compares kind, then dimension, then components lexicographically.
func (v *Value) Less(other *Value) bool {
	if v.kind != other.kind {
		return v.kind < other.kind
	}
	if len(v.data) != len(other.data) {
		return len(v.data) < len(other.data)
	}
	for i := range v.data {
		if v.data[i] != other.data[i] {
			return v.data[i] < other.data[i]
		}
	}
	return false
}

func (v *Value) String() string {
	return fmt.Sprintf("Value(kind=%s, dim=%d, hash=%x)", v.kind, len(v.data), v.hash[:4])
}

// Bytes returns a canonical byte encoding of the kind and components,
// independent of the hash.
func (v *Value) Bytes() []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(v.kind))
	var tmp [8]byte
	for _, c := range v.data {
		bits := math.Float64bits(c)
		for i := 0; i < 8; i++ {
			tmp[i] = byte(bits >> (8 * i))
		}
		buf.Write(tmp[:])
	}
	return buf.Bytes()
}
