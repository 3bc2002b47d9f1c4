package server

// Incremental UTF-8 validation using Bjoern Hoehrmann's DFA
// (http://bjoern.hoehrmann.de/utf-8/decoder/dfa/), ported from
// original_source/src/utf8.h. Unlike the teacher's shortcut of calling
// unicode/utf8.ValidString once the full message is reassembled, this
// validator can be fed byte ranges one fragment at a time and carries
// state across calls, which spec.md's cross-fragment-boundary test
// requires (section 8).

const (
	utf8Accept = 0
	utf8Reject = 1
)

var utf8dfaTable = [...]uint8{
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, // 00..1f
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, // 20..3f
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, // 40..5f
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, // 60..7f
	1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1,
	9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, // 80..9f
	7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7,
	7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, // a0..bf
	8, 8, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2,
	2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, // c0..df
	0xa, 0x3, 0x3, 0x3, 0x3, 0x3, 0x3, 0x3, 0x3, 0x3, 0x3, 0x3, 0x3, 0x4, 0x3, 0x3, // e0..ef
	0xb, 0x6, 0x6, 0x6, 0x5, 0x8, 0x8, 0x8, 0x8, 0x8, 0x8, 0x8, 0x8, 0x8, 0x8, 0x8, // f0..ff
	0x0, 0x1, 0x2, 0x3, 0x5, 0x8, 0x7, 0x1, 0x1, 0x1, 0x4, 0x6, 0x1, 0x1, 0x1, 0x1, // s0..s0
	1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1,
	1, 0, 1, 1, 1, 1, 1, 0, 1, 0, 1, 1, 1, 1, 1, 1, // s1..s2
	1, 2, 1, 1, 1, 1, 1, 2, 1, 2, 1, 1, 1, 1, 1, 1,
	1, 1, 1, 1, 1, 1, 1, 2, 1, 1, 1, 1, 1, 1, 1, 1, // s3..s4
	1, 2, 1, 1, 1, 1, 1, 1, 1, 2, 1, 1, 1, 1, 1, 1,
	1, 1, 1, 1, 1, 1, 1, 3, 1, 3, 1, 1, 1, 1, 1, 1, // s5..s6
	1, 3, 1, 1, 1, 1, 1, 3, 1, 3, 1, 1, 1, 1, 1, 1,
	1, 3, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, // s7..s8
}

// utf8Validator is fed successive byte ranges and tracks DFA state
// across calls, so a multi-byte codepoint split across two data-frame
// fragments still validates correctly.
type utf8Validator struct {
	state uint8
}

// step advances the DFA over b and reports whether the sequence seen
// so far is still potentially valid (i.e. not yet rejected).
func (v *utf8Validator) step(b []byte) bool {
	state := v.state
	for _, c := range b {
		typ := utf8dfaTable[c]
		state = utf8dfaTable[256+int(state)*16+int(typ)]
		if state == utf8Reject {
			v.state = state
			return false
		}
	}
	v.state = state
	return true
}

// complete reports whether the accumulated sequence ends on a valid,
// fully-formed codepoint boundary (no truncated multi-byte sequence).
func (v *utf8Validator) complete() bool {
	return v.state == utf8Accept
}

// validateUTF8 is a one-shot convenience wrapper used where a whole
// buffer is available at once (e.g. control-frame close reasons, which
// per spec.md section 3 are never fragmented).
func validateUTF8(b []byte) bool {
	var v utf8Validator
	return v.step(b) && v.complete()
}
