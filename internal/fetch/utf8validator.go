package fetch

import "unicode/utf8"

// utf8Validator checks a byte stream for valid UTF-8 across chunk
// boundaries, carrying any trailing incomplete multi-byte sequence over
// to the next Write call instead of flagging it as invalid prematurely.
type utf8Validator struct {
	pending []byte
}

func newUTF8Validator() *utf8Validator {
	return &utf8Validator{}
}

// Write validates the next chunk. It returns false the moment an invalid
// encoding is found; once false is returned the validator must not be
// reused.
func (v *utf8Validator) Write(chunk []byte) bool {
	buf := make([]byte, 0, len(v.pending)+len(chunk))
	buf = append(buf, v.pending...)
	buf = append(buf, chunk...)

	i := 0
	for i < len(buf) {
		if !utf8.FullRune(buf[i:]) {
			v.pending = append(v.pending[:0], buf[i:]...)
			return true
		}
		r, size := utf8.DecodeRune(buf[i:])
		if r == utf8.RuneError && size == 1 {
			return false
		}
		i += size
	}
	v.pending = v.pending[:0]
	return true
}

// Finish must be called once the stream ends. A non-empty pending buffer
// at that point means the stream cut off mid-sequence, which is invalid.
func (v *utf8Validator) Finish() bool {
	return len(v.pending) == 0
}
