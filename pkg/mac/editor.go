package mac

import (
	"encoding/hex"
	"strings"
)

// NoFocus means the editor has no focus change to suggest.
const NoFocus = -1

// Octets is the editable state of an address: one string per cell.
type Octets [Cells]string

// Focus is a suggested input-focus index, or NoFocus. It is a UI hint and
// never feeds into validation.
type Focus int

// Suggested reports whether a focus change is suggested.
func (f Focus) Suggested() bool {
	return f != NoFocus
}

// NormalizeOctet drops every non-hex character, keeps at most two and uppercases them.
func NormalizeOctet(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if b.Len() == 2 {
			break
		}
		if isHex(r) {
			b.WriteRune(r)
		}
	}
	return strings.ToUpper(b.String())
}

func isHex(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

// Set returns a copy of o with cell index replaced by the normalized text, and
// the next cell as a focus suggestion once the cell is full. Out of range
// indexes leave o unchanged.
func (o Octets) Set(index int, raw string) (Octets, Focus) {
	if index < 0 || index >= Cells {
		return o, NoFocus
	}
	next := o
	next[index] = NormalizeOctet(raw)
	if len(next[index]) == 2 && index < Cells-1 {
		return next, Focus(index + 1)
	}
	return next, NoFocus
}

// Backspace suggests moving to the previous cell when a delete is requested
// on an empty cell.
func (o Octets) Backspace(index int) Focus {
	if index <= 0 || index >= Cells {
		return NoFocus
	}
	if o[index] != "" {
		return NoFocus
	}
	return Focus(index - 1)
}

// Complete reports whether every cell holds exactly two characters.
func (o Octets) Complete() bool {
	for _, cell := range o {
		if len(cell) != 2 {
			return false
		}
	}
	return true
}

// Address converts complete octets into an Address.
func (o Octets) Address() (Address, bool) {
	if !o.Complete() {
		return Address{}, false
	}
	var a Address
	for i, cell := range o {
		raw, err := hex.DecodeString(cell)
		if err != nil {
			return Address{}, false
		}
		a[i] = raw[0]
	}
	return a, true
}

// String joins the cells with '-', incomplete cells included.
func (o Octets) String() string {
	return strings.Join(o[:], "-")
}

// Editor tracks octets together with the focused cell, for drivers that
// edit one cell at a time.
type Editor struct {
	octets Octets
	focus  int
}

// NewEditor returns an empty editor focused on the first cell.
func NewEditor() *Editor {
	return &Editor{}
}

// Octets returns the current state.
func (e *Editor) Octets() Octets {
	return e.octets
}

// Focus returns the focused cell.
func (e *Editor) Focus() int {
	return e.focus
}

// Input applies raw text to the focused cell and follows the focus suggestion.
// It returns the normalized cell value.
func (e *Editor) Input(raw string) string {
	next, focus := e.octets.Set(e.focus, raw)
	e.octets = next
	value := next[e.focus]
	if focus.Suggested() {
		e.focus = int(focus)
	}
	return value
}

// Backspace clears the focused cell, or moves back a cell when it is already empty.
func (e *Editor) Backspace() {
	if e.octets[e.focus] != "" {
		e.octets[e.focus] = ""
		return
	}
	if focus := e.octets.Backspace(e.focus); focus.Suggested() {
		e.focus = int(focus)
	}
}

// MoveTo focuses a cell directly.
func (e *Editor) MoveTo(index int) {
	if index >= 0 && index < Cells {
		e.focus = index
	}
}

// Complete reports whether the address can be submitted.
func (e *Editor) Complete() bool {
	return e.octets.Complete()
}
