// Package vcd writes Value Change Dump files, the waveform format read by
// GTKWave and most logic analyzers.
//
// A dump is written in two phases. The Header declares scopes and variables;
// Finish turns it into DumpVars, which only appends timestamps and value
// changes:
//
//	h, _ := vcd.NewHeader(w, vcd.Micro(100))
//	h.StartModule("top")
//	sine, _ := h.AddAnalog("sine")
//	h.EndModule()
//	dump, _ := h.Finish()
//	dump.Timestamp(0)
//	dump.ChangeValue(sine, vcd.Real(128))
//	dump.Finish()
package vcd

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrKind  = errors.New("vcd: value kind does not match variable")
	ErrName  = errors.New("vcd: invalid name")
	ErrScope = errors.New("vcd: unbalanced scope")
	ErrTime  = errors.New("vcd: timestamp went backwards")
	ErrValue = errors.New("vcd: invalid value")
)

// Unit of a timescale
type Unit string

const (
	S  Unit = "s"
	MS Unit = "ms"
	US Unit = "us"
	NS Unit = "ns"
	PS Unit = "ps"
	FS Unit = "fs"
)

// Timescale the duration of one timestamp tick
type Timescale struct {
	Scale uint32
	Unit  Unit
}

// Micro a timescale of scale microseconds
func Micro(scale uint32) Timescale {
	return Timescale{Scale: scale, Unit: US}
}

func (t Timescale) valid() bool {
	switch t.Scale {
	case 1, 10, 100:
	default:
		return false
	}
	switch t.Unit {
	case S, MS, US, NS, PS, FS:
		return true
	}
	return false
}

// Variable handle returned by the Add methods of a Header
type Variable struct {
	id    string
	name  string
	kind  Kind
	width uint32
}

func (v Variable) Name() string { return v.name }
func (v Variable) Kind() Kind   { return v.kind }

// Header declaration phase of a dump
type Header struct {
	w     io.Writer
	next  uint64
	depth int
}

// NewHeader write the timescale and start declaring variables.
func NewHeader(w io.Writer, ts Timescale) (*Header, error) {
	if !ts.valid() {
		return nil, errors.Errorf("vcd: invalid timescale %d %s", ts.Scale, ts.Unit)
	}
	h := &Header{w: w}
	if _, err := fmt.Fprintf(w, "$timescale %d %s $end\n", ts.Scale, ts.Unit); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Header) StartModule(name string) error {
	if !validName(name) {
		return errors.Wrapf(ErrName, "%q", name)
	}
	if _, err := fmt.Fprintf(h.w, "$scope module %s $end\n", name); err != nil {
		return err
	}
	h.depth++
	return nil
}

func (h *Header) EndModule() error {
	if h.depth == 0 {
		return errors.Wrap(ErrScope, "no module to end")
	}
	if _, err := io.WriteString(h.w, "$upscope $end\n"); err != nil {
		return err
	}
	h.depth--
	return nil
}

// AddAnalog declare a real valued variable
func (h *Header) AddAnalog(name string) (Variable, error) {
	return h.addVar(KindReal, 1, name)
}

// AddDigital declare a single bit wire
func (h *Header) AddDigital(name string) (Variable, error) {
	return h.addVar(KindScalar, 1, name)
}

// AddVector declare a bus of width bits
func (h *Header) AddVector(name string, width uint32) (Variable, error) {
	if width == 0 {
		return Variable{}, errors.Wrap(ErrValue, "vector width must be positive")
	}
	return h.addVar(KindVector, width, name)
}

// AddText declare a string variable, used for protocol annotations
func (h *Header) AddText(name string) (Variable, error) {
	return h.addVar(KindText, 1, name)
}

func (h *Header) addVar(kind Kind, width uint32, name string) (Variable, error) {
	if !validName(name) {
		return Variable{}, errors.Wrapf(ErrName, "%q", name)
	}
	v := Variable{id: idCode(h.next), name: name, kind: kind, width: width}
	if _, err := fmt.Fprintf(h.w, "$var %s %d %s %s $end\n", kind.varType(), width, v.id, name); err != nil {
		return Variable{}, err
	}
	h.next++
	return v, nil
}

// Finish close the declarations and open the $dumpvars section.
func (h *Header) Finish() (*DumpVars, error) {
	if h.depth != 0 {
		return nil, errors.Wrapf(ErrScope, "%d modules still open", h.depth)
	}
	if _, err := io.WriteString(h.w, "$enddefinitions $end\n$dumpvars\n"); err != nil {
		return nil, err
	}
	return &DumpVars{w: h.w, last: -1}, nil
}

// DumpVars value change phase of a dump
type DumpVars struct {
	w    io.Writer
	last int64
}

// Timestamp start a new point in time, in timescale ticks. Time never goes
// backwards; repeating the current time is a no-op.
func (d *DumpVars) Timestamp(t uint64) error {
	if int64(t) < d.last {
		return errors.Wrapf(ErrTime, "%d after %d", t, d.last)
	}
	if int64(t) == d.last {
		return nil
	}
	if _, err := fmt.Fprintf(d.w, "#%d\n", t); err != nil {
		return err
	}
	d.last = int64(t)
	return nil
}

// ChangeValue record a new value for v at the current timestamp.
func (d *DumpVars) ChangeValue(v Variable, val Value) error {
	if v.id == "" || !val.set {
		return errors.Wrap(ErrValue, "undeclared variable or empty value")
	}
	if val.kind != v.kind {
		return errors.Wrapf(ErrKind, "%s is %s, got %s", v.name, v.kind, val.kind)
	}
	var err error
	switch val.kind {
	case KindReal:
		_, err = fmt.Fprintf(d.w, "r%s %s\n", formatReal(val.real), v.id)
	case KindScalar:
		if !val.bits[0].valid() {
			return errors.Wrapf(ErrValue, "bit %q", val.bits[0])
		}
		_, err = fmt.Fprintf(d.w, "%c%s\n", val.bits[0], v.id)
	case KindVector:
		if len(val.bits) == 0 || uint32(len(val.bits)) > v.width {
			return errors.Wrapf(ErrValue, "%d bits for %s[%d]", len(val.bits), v.name, v.width)
		}
		for _, b := range val.bits {
			if !b.valid() {
				return errors.Wrapf(ErrValue, "bit %q", b)
			}
		}
		_, err = fmt.Fprintf(d.w, "b%s %s\n", val, v.id)
	case KindText:
		if !validName(val.text) {
			return errors.Wrapf(ErrValue, "text %q", val.text)
		}
		_, err = fmt.Fprintf(d.w, "s%s %s\n", val.text, v.id)
	}
	return err
}

// Finish end the $dumpvars section. The caller closes the underlying writer.
func (d *DumpVars) Finish() error {
	_, err := io.WriteString(d.w, "$end\n")
	return err
}

// idCode short identifier of the n-th variable: "!" to "~", then "!!" and
// so on, least significant character first.
func idCode(n uint64) string {
	const (
		first = '!'
		span  = '~' - '!' + 1
	)
	var b []byte
	for {
		b = append(b, byte(first+n%span))
		if n < span {
			return string(b)
		}
		n = n/span - 1
	}
}

func validName(s string) bool {
	return s != "" && !strings.ContainsAny(s, " \t\r\n")
}

func formatReal(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
