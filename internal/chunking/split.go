package chunking

import (
	"strings"
	"unicode/utf8"
)

// maxEscapedRune is the widest JSON encoding of a single rune (\uXXXX).
const maxEscapedRune = 6

// Split cuts payload into consecutive slices of at most size bytes.
// A cut never lands inside a UTF-8 sequence, so a slice can come up to
// utf8.UTFMax-1 bytes short of size. Joining the slices in order yields
// payload again. size is raised to utf8.UTFMax if smaller.
func Split(payload string, size int) []string {
	return splitBy(payload, max(size, utf8.UTFMax), func(_ rune, width int) int {
		return width
	})
}

// SplitJSON cuts payload so that every slice, once encoded as a JSON string
// (quotes included), is at most size bytes. It is the splitter for chunks
// stored as JSON string values.
func SplitJSON(payload string, size int) []string {
	return splitBy(payload, max(size-2, maxEscapedRune), jsonWidth)
}

// EncodedLen is an upper bound on len(json.Marshal(s)).
func EncodedLen(s string) int {
	n := 2
	for i := 0; i < len(s); {
		r, w := utf8.DecodeRuneInString(s[i:])
		n += jsonWidth(r, w)
		i += w
	}
	return n
}

func splitBy(payload string, budget int, cost func(r rune, width int) int) []string {
	if payload == "" {
		return nil
	}

	var chunks []string
	start, used := 0, 0
	for i := 0; i < len(payload); {
		r, w := utf8.DecodeRuneInString(payload[i:])
		c := cost(r, w)
		if used+c > budget && i > start {
			chunks = append(chunks, payload[start:i])
			start, used = i, 0
		}
		used += c
		i += w
	}
	return append(chunks, payload[start:])
}

// jsonWidth is the encoded width of r inside a JSON string. It errs on the
// wide side for characters encoders disagree on.
func jsonWidth(r rune, width int) int {
	switch {
	case r == '"' || r == '\\' || r == '\n' || r == '\r' || r == '\t':
		return 2
	case r < 0x20:
		return maxEscapedRune
	case r == '<' || r == '>' || r == '&':
		return maxEscapedRune
	case r == '\u2028' || r == '\u2029':
		return maxEscapedRune
	case r == utf8.RuneError && width == 1:
		return maxEscapedRune
	}
	return width
}

// Join concatenates chunks in order.
func Join(chunks []string) string {
	return strings.Join(chunks, "")
}
