package ncfile

import (
	"fmt"
	"math"
	"strings"
)

// DType is the on-disk element type of a variable. Values are always
// exchanged as float64 through the API.
type DType uint8

const (
	Float64 DType = iota + 1
	Float32
	Int32
	Int16
)

// Size returns the encoded width of one element.
func (d DType) Size() int {
	switch d {
	case Float64:
		return 8
	case Float32, Int32:
		return 4
	case Int16:
		return 2
	default:
		return 0
	}
}

func (d DType) String() string {
	switch d {
	case Float64:
		return "double"
	case Float32:
		return "float"
	case Int32:
		return "int"
	case Int16:
		return "short"
	default:
		return "unknown"
	}
}

func (d DType) MarshalText() ([]byte, error) {
	if d.Size() == 0 {
		return nil, fmt.Errorf("invalid dtype %d", d)
	}
	return []byte(d.String()), nil
}

func (d *DType) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "double", "f8":
		*d = Float64
	case "float", "f4":
		*d = Float32
	case "int", "i4":
		*d = Int32
	case "short", "i2":
		*d = Int16
	default:
		return fmt.Errorf("unknown dtype %q", b)
	}
	return nil
}

// Dim is a named dimension. Unlimited dimensions grow with writes; their
// Len is the current extent.
type Dim struct {
	Name      string `json:"name"`
	Len       int    `json:"len"`
	Unlimited bool   `json:"unlimited,omitempty"`
}

// FillValueAttr is the attribute NetCDF stores Var.FillValue in.
const FillValueAttr = "_FillValue"

// Attribute is a text or numeric attribute. DType records the on-disk
// type of numeric values; zero means Float64.
type Attribute struct {
	Name   string    `json:"name"`
	Text   string    `json:"text,omitempty"`
	Values []float64 `json:"values,omitempty"`
	DType  DType     `json:"dtype,omitempty"`
}

// Attributes is an ordered attribute list.
type Attributes []Attribute

// Get returns the attribute called name.
func (a Attributes) Get(name string) (Attribute, bool) {
	for _, attr := range a {
		if attr.Name == name {
			return attr, true
		}
	}
	return Attribute{}, false
}

// Text returns the text value of name, or "".
func (a Attributes) Text(name string) string {
	attr, _ := a.Get(name)
	return attr.Text
}

// Set replaces name in place or appends it.
func (a Attributes) Set(attr Attribute) Attributes {
	for i := range a {
		if a[i].Name == attr.Name {
			a[i] = attr
			return a
		}
	}
	return append(a, attr)
}

// Without returns a copy of a without the named attributes.
func (a Attributes) Without(names ...string) Attributes {
	out := make(Attributes, 0, len(a))
	for _, attr := range a {
		drop := false
		for _, n := range names {
			if attr.Name == n {
				drop = true
				break
			}
		}
		if !drop {
			out = append(out, attr)
		}
	}
	return out
}

// Clone deep copies the list.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	for i, attr := range a {
		out[i] = Attribute{Name: attr.Name, Text: attr.Text, Values: append([]float64(nil), attr.Values...), DType: attr.DType}
	}
	return out
}

// Var is a variable definition. Data are stored in blocks along the first
// dimension; ChunkSizes[0] rows per block when chunked, one block per write
// when contiguous.
type Var struct {
	Name             string     `json:"name"`
	DType            DType      `json:"dtype"`
	Dims             []string   `json:"dims"`
	Contiguous       bool       `json:"contiguous,omitempty"`
	ChunkSizes       []int      `json:"chunk_sizes,omitempty"`
	CompressionLevel int        `json:"compression_level,omitempty"`
	FillValue        *float64   `json:"fill_value,omitempty"`
	Attrs            Attributes `json:"attrs,omitempty"`
}

// NDim is the number of dimensions.
func (v Var) NDim() int { return len(v.Dims) }

// Fill returns the value reported for unwritten elements.
func (v Var) Fill() float64 {
	if v.FillValue != nil {
		return *v.FillValue
	}
	return math.NaN()
}

// Clone returns a deep copy of v.
func (v Var) Clone() Var {
	out := v
	out.Dims = append([]string(nil), v.Dims...)
	out.ChunkSizes = append([]int(nil), v.ChunkSizes...)
	out.Attrs = v.Attrs.Clone()
	if v.FillValue != nil {
		f := *v.FillValue
		out.FillValue = &f
	}
	return out
}

// Float returns a pointer to f, for FillValue literals.
func Float(f float64) *float64 { return &f }
