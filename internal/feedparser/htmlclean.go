// Package feedparser implements the streaming RSS 2.0 / Atom 1.0 parser
// (C3) along with its supporting HTML-to-terminal-text cleaner and date
// parser.
package feedparser

import (
	"strings"

	"hysrss/internal/security"
)

// extraEntities are the named entities §4.3 requires beyond the five C1
// handles (amp/lt/gt/quot/apos), which normalize.Canonicalize already
// covers for identifiers; item bodies need the typographic set too.
var extraEntities = map[string]rune{
	"nbsp":  ' ',
	"rsquo": '’',
	"lsquo": '‘',
	"rdquo": '”',
	"ldquo": '“',
	"hellip": '…',
	"ndash": '–',
	"mdash": '—',
	"bull":  '•',
	"middot": '·',
}

var sanitizer = security.NewContentSanitizer()

// CleanToTerminalText turns an HTML fragment into plain text suitable for
// a terminal, preserving anchors as OSC-8 hyperlink escape sequences
// around their anchor text. bluemonday strips script/iframe/style and
// dangerous attributes first so a parsing gap in the tag stripper below
// can never leak executable content; everything that pass 1 leaves is
// then reduced to plain text by pass 2.
func CleanToTerminalText(raw string) string {
	if raw == "" {
		return ""
	}
	safe := sanitizer.Sanitize(raw)
	return stripTagsAndLinkify(safe)
}

// stripTagsAndLinkify drops everything between '<' and '>', decoding
// entities along the way, except that an <a href="..."> ... </a> pair is
// rewritten as an OSC-8 hyperlink wrapping its anchor text. Output length
// is bounded by input length: this is a single forward pass with no
// lookahead beyond one entity or one tag.
func stripTagsAndLinkify(s string) string {
	var out strings.Builder
	out.Grow(len(s))

	var pendingHref string
	inAnchor := false

	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == '<':
			end := strings.IndexByte(s[i:], '>')
			if end < 0 {
				i = len(s)
				continue
			}
			tag := s[i+1 : i+end]
			i += end + 1

			lowerTag := strings.ToLower(tag)
			switch {
			case strings.HasPrefix(lowerTag, "a ") || strings.HasPrefix(lowerTag, "a\t") || strings.HasPrefix(lowerTag, "a>"):
				pendingHref = extractHref(tag)
				if pendingHref != "" {
					out.WriteString("\x1b]8;;")
					out.WriteString(pendingHref)
					out.WriteString("\x1b\\")
					inAnchor = true
				}
			case lowerTag == "/a":
				if inAnchor {
					out.WriteString("\x1b]8;;\x1b\\")
					inAnchor = false
				}
				pendingHref = ""
			}
			continue

		case c == '&':
			decoded, consumed := decodeEntityAt(s[i:])
			if consumed > 0 {
				out.WriteRune(decoded)
				i += consumed
				continue
			}
			out.WriteByte(c)
			i++

		case isControlOtherThanTabLF(c):
			i++

		case isASCIIWhitespace(c):
			out.WriteByte(' ')
			i++
			for i < len(s) && isASCIIWhitespace(s[i]) {
				i++
			}

		default:
			out.WriteByte(c)
			i++
		}
	}

	return strings.TrimSpace(collapseSpaces(out.String()))
}

// extractHref pulls the href="..." or href='...' value out of a raw tag
// body (without surrounding '<' '>').
func extractHref(tag string) string {
	lower := strings.ToLower(tag)
	idx := strings.Index(lower, "href=")
	if idx < 0 {
		return ""
	}
	rest := tag[idx+len("href="):]
	if rest == "" {
		return ""
	}
	quote := rest[0]
	if quote != '"' && quote != '\'' {
		return ""
	}
	end := strings.IndexByte(rest[1:], quote)
	if end < 0 {
		return ""
	}
	return rest[1 : 1+end]
}

// decodeEntityAt attempts to decode a single HTML entity starting at s[0]
// (which must be '&'). Returns the decoded rune and the number of bytes
// consumed, or (0, 0) if s does not start with a recognized entity.
func decodeEntityAt(s string) (rune, int) {
	semi := strings.IndexByte(s, ';')
	if semi < 0 || semi > 12 {
		return 0, 0
	}
	body := s[1:semi]

	switch body {
	case "amp":
		return '&', semi + 1
	case "lt":
		return '<', semi + 1
	case "gt":
		return '>', semi + 1
	case "quot":
		return '"', semi + 1
	case "apos":
		return '\'', semi + 1
	}

	if r, ok := extraEntities[body]; ok {
		return r, semi + 1
	}

	if strings.HasPrefix(body, "#x") || strings.HasPrefix(body, "#X") {
		if r, ok := parseNumericEntity(body[2:], 16); ok {
			return r, semi + 1
		}
		return 0, 0
	}
	if strings.HasPrefix(body, "#") {
		if r, ok := parseNumericEntity(body[1:], 10); ok {
			return r, semi + 1
		}
		return 0, 0
	}

	return 0, 0
}

func parseNumericEntity(digits string, base int) (rune, bool) {
	if digits == "" {
		return 0, false
	}
	var value int64
	for _, d := range digits {
		var v int64
		switch {
		case d >= '0' && d <= '9':
			v = int64(d - '0')
		case base == 16 && d >= 'a' && d <= 'f':
			v = int64(d-'a') + 10
		case base == 16 && d >= 'A' && d <= 'F':
			v = int64(d-'A') + 10
		default:
			return 0, false
		}
		value = value*int64(base) + v
		if value > 0x10FFFF {
			return 0, false
		}
	}
	return rune(value), true
}

func isControlOtherThanTabLF(c byte) bool {
	return c < 0x20 && c != '\t' && c != '\n'
}

func isASCIIWhitespace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

// collapseSpaces folds any run of whitespace produced above into a single
// space; tabs and newlines were already normalized to ' ' by the writer
// loop, so this only needs to deduplicate adjacent spaces.
func collapseSpaces(s string) string {
	var out strings.Builder
	out.Grow(len(s))
	lastWasSpace := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == ' ' {
			if lastWasSpace {
				continue
			}
			lastWasSpace = true
		} else {
			lastWasSpace = false
		}
		out.WriteByte(c)
	}
	return out.String()
}
