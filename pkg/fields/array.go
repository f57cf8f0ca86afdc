package fields

import (
	"fmt"
	"strconv"
)

// DType names the element type of a field array.
type DType string

const (
	Int64   DType = "int64"
	Float32 DType = "float32"
	Float64 DType = "float64"
)

// NoDescendant is the descendant id of a node with no descendant.
const NoDescendant int64 = -1

// Valid reports whether dt is a supported element type.
func (dt DType) Valid() bool {
	switch dt {
	case Int64, Float32, Float64:
		return true
	}
	return false
}

// Size returns the encoded width of one element in bytes.
func (dt DType) Size() int {
	switch dt {
	case Int64, Float64:
		return 8
	case Float32:
		return 4
	}
	return 0
}

// Array is a typed column of field values. Exactly one of the backing
// slices is in use, selected by DType.
type Array struct {
	DType DType
	Units string

	I64 []int64
	F32 []float32
	F64 []float64
}

// NewArray allocates a zeroed array of n elements.
func NewArray(dt DType, n int) Array {
	a := Array{DType: dt}
	switch dt {
	case Int64:
		a.I64 = make([]int64, n)
	case Float32:
		a.F32 = make([]float32, n)
	case Float64:
		a.F64 = make([]float64, n)
	}
	return a
}

func Int64s(v []int64) Array     { return Array{DType: Int64, I64: v} }
func Float32s(v []float32) Array { return Array{DType: Float32, F32: v} }
func Float64s(v []float64) Array { return Array{DType: Float64, F64: v} }

// Len returns the number of elements.
func (a Array) Len() int {
	switch a.DType {
	case Int64:
		return len(a.I64)
	case Float32:
		return len(a.F32)
	case Float64:
		return len(a.F64)
	}
	return 0
}

// Slice returns the elements in [i, j). The result shares storage with a.
func (a Array) Slice(i, j int) Array {
	out := Array{DType: a.DType, Units: a.Units}
	switch a.DType {
	case Int64:
		out.I64 = a.I64[i:j]
	case Float32:
		out.F32 = a.F32[i:j]
	case Float64:
		out.F64 = a.F64[i:j]
	}
	return out
}

// Gather returns a new array holding the elements at idx, in idx order.
func (a Array) Gather(idx []int) Array {
	out := NewArray(a.DType, len(idx))
	out.Units = a.Units
	for k, i := range idx {
		switch a.DType {
		case Int64:
			out.I64[k] = a.I64[i]
		case Float32:
			out.F32[k] = a.F32[i]
		case Float64:
			out.F64[k] = a.F64[i]
		}
	}
	return out
}

// Clone returns a copy that does not share storage with a.
func (a Array) Clone() Array {
	out := NewArray(a.DType, a.Len())
	out.Units = a.Units
	copy(out.I64, a.I64)
	copy(out.F32, a.F32)
	copy(out.F64, a.F64)
	return out
}

// Float64 returns element i converted to float64.
func (a Array) Float64(i int) float64 {
	switch a.DType {
	case Int64:
		return float64(a.I64[i])
	case Float32:
		return float64(a.F32[i])
	case Float64:
		return a.F64[i]
	}
	return 0
}

// Int64 returns element i converted to int64.
func (a Array) Int64(i int) int64 {
	switch a.DType {
	case Int64:
		return a.I64[i]
	case Float32:
		return int64(a.F32[i])
	case Float64:
		return int64(a.F64[i])
	}
	return 0
}

// SetInt64 stores v at i, converting to the array's type.
func (a Array) SetInt64(i int, v int64) {
	switch a.DType {
	case Int64:
		a.I64[i] = v
	case Float32:
		a.F32[i] = float32(v)
	case Float64:
		a.F64[i] = float64(v)
	}
}

// SetFloat64 stores v at i, converting to the array's type.
func (a Array) SetFloat64(i int, v float64) {
	switch a.DType {
	case Int64:
		a.I64[i] = int64(v)
	case Float32:
		a.F32[i] = float32(v)
	case Float64:
		a.F64[i] = v
	}
}

// ParseAt parses the text value s into element i.
func (a Array) ParseAt(i int, s string) error {
	switch a.DType {
	case Int64:
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			// Some catalogs write integral columns in float notation.
			f, ferr := strconv.ParseFloat(s, 64)
			if ferr != nil {
				return fmt.Errorf("parse int64 %q: %w", s, err)
			}
			v = int64(f)
		}
		a.I64[i] = v
	case Float32:
		v, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return fmt.Errorf("parse float32 %q: %w", s, err)
		}
		a.F32[i] = float32(v)
	case Float64:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("parse float64 %q: %w", s, err)
		}
		a.F64[i] = v
	default:
		return fmt.Errorf("unsupported dtype %q", a.DType)
	}
	return nil
}

// Concat joins arrays of one dtype end to end.
func Concat(arrs ...Array) (Array, error) {
	if len(arrs) == 0 {
		return Array{}, fmt.Errorf("concat of zero arrays")
	}
	dt := arrs[0].DType
	n := 0
	for _, a := range arrs {
		if a.DType != dt {
			return Array{}, fmt.Errorf("concat dtype mismatch: %s and %s", dt, a.DType)
		}
		n += a.Len()
	}
	out := Array{DType: dt, Units: arrs[0].Units}
	switch dt {
	case Int64:
		out.I64 = make([]int64, 0, n)
		for _, a := range arrs {
			out.I64 = append(out.I64, a.I64...)
		}
	case Float32:
		out.F32 = make([]float32, 0, n)
		for _, a := range arrs {
			out.F32 = append(out.F32, a.F32...)
		}
	case Float64:
		out.F64 = make([]float64, 0, n)
		for _, a := range arrs {
			out.F64 = append(out.F64, a.F64...)
		}
	}
	return out, nil
}
