package vcd

import (
	"strings"
)

// Kind of value a variable carries
type Kind int

const (
	KindReal Kind = iota
	KindScalar
	KindVector
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindReal:
		return "real"
	case KindScalar:
		return "scalar"
	case KindVector:
		return "vector"
	case KindText:
		return "text"
	default:
		return "unknown"
	}
}

// varType the keyword used in the $var declaration
func (k Kind) varType() string {
	switch k {
	case KindReal:
		return "real"
	case KindText:
		return "string"
	default:
		return "wire"
	}
}

// Bit a four-state logic level
type Bit byte

const (
	V0 Bit = '0'
	V1 Bit = '1'
	X  Bit = 'x'
	Z  Bit = 'z'
)

// BitOf 1 for true, 0 for false
func BitOf(b bool) Bit {
	if b {
		return V1
	}
	return V0
}

func (b Bit) valid() bool {
	return b == V0 || b == V1 || b == X || b == Z
}

// Value one of Real, Scalar, Vector or Text. The zero Value is not valid.
type Value struct {
	kind Kind
	set  bool
	real float64
	bits []Bit
	text string
}

func Real(f float64) Value {
	return Value{kind: KindReal, set: true, real: f}
}

func Scalar(b Bit) Value {
	return Value{kind: KindScalar, set: true, bits: []Bit{b}}
}

// Vector bits, most significant first
func Vector(bits ...Bit) Value {
	return Value{kind: KindVector, set: true, bits: bits}
}

func Text(s string) Value {
	return Value{kind: KindText, set: true, text: s}
}

func (v Value) Kind() Kind {
	return v.kind
}

func (v Value) String() string {
	switch v.kind {
	case KindReal:
		return formatReal(v.real)
	case KindScalar, KindVector:
		var sb strings.Builder
		for _, b := range v.bits {
			sb.WriteByte(byte(b))
		}
		return sb.String()
	default:
		return v.text
	}
}
