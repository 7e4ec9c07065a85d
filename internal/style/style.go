// Package style implements the pure outbound-formatting functions named
// in spec §6: Markdown-to-Unicode styling, message chunking, and the
// url-only media composition rule. None of it touches the network or the
// store — every function here is a total, deterministic transform on
// strings, which is what makes the round-trip laws in spec §8 testable.
package style

import (
	"strings"
)

const maxChunkChars = 1200

// boldMap/italicMap/monoMap carry ASCII letter/digit -> Unicode
// mathematical-alphanumeric code point offsets.
var boldMap = buildOffsetMap(0x1D400, 0x1D7CE)
var italicMap = buildOffsetMap(0x1D434, -1) // no italic digits in the math-alphanumeric block
var monoMap = buildOffsetMap(0x1D670, 0x1D7F6)

func buildOffsetMap(upperStart rune, digitStart rune) map[rune]rune {
	m := make(map[rune]rune, 62)
	for i := 0; i < 26; i++ {
		m['A'+rune(i)] = upperStart + rune(i)
		m['a'+rune(i)] = upperStart + 26 + rune(i)
	}
	if digitStart >= 0 {
		for i := 0; i < 10; i++ {
			m['0'+rune(i)] = digitStart + rune(i)
		}
	}
	return m
}

// ApplyStyling converts Markdown emphasis markers to Unicode
// mathematical-alphanumeric equivalents (spec §6). Idempotent: since the
// mapped code points live outside the ASCII ranges the markers and
// mapping tables scan, a second pass is a no-op (spec §8 round-trip law).
func ApplyStyling(text string) string {
	text = styleWrapped(text, "**", boldMap)
	text = styleWrapped(text, "__", boldMap)
	text = styleWrapped(text, "`", monoMap)
	text = styleSingleMarker(text, '*', italicMap)
	text = styleSingleMarker(text, '_', italicMap)
	return text
}

// styleWrapped replaces occurrences of marker...marker with the mapped
// run of characters between them.
func styleWrapped(text, marker string, table map[rune]rune) string {
	var b strings.Builder
	rest := text
	for {
		start := strings.Index(rest, marker)
		if start < 0 {
			b.WriteString(rest)
			break
		}
		afterStart := rest[start+len(marker):]
		end := strings.Index(afterStart, marker)
		if end < 0 {
			b.WriteString(rest)
			break
		}
		inner := afterStart[:end]
		if inner == "" {
			b.WriteString(rest[:start+2*len(marker)])
			rest = afterStart[end+len(marker):]
			continue
		}
		b.WriteString(rest[:start])
		b.WriteString(mapRunes(inner, table))
		rest = afterStart[end+len(marker):]
	}
	return b.String()
}

// styleSingleMarker handles single-character emphasis markers (`*`, `_`),
// preserving underscores embedded inside word characters so snake_case
// identifiers survive untouched (spec §6).
func styleSingleMarker(text string, marker rune, table map[rune]rune) string {
	runes := []rune(text)
	var b strings.Builder
	i := 0
	for i < len(runes) {
		if runes[i] != marker {
			b.WriteRune(runes[i])
			i++
			continue
		}
		// Underscore emphasis only triggers at a word boundary; otherwise
		// it's a literal underscore inside an identifier.
		if marker == '_' {
			prevIsWord := i > 0 && isWordRune(runes[i-1])
			nextIsWord := i+1 < len(runes) && isWordRune(runes[i+1])
			if prevIsWord && nextIsWord {
				b.WriteRune(runes[i])
				i++
				continue
			}
		}
		end := -1
		for j := i + 1; j < len(runes); j++ {
			if runes[j] == marker {
				end = j
				break
			}
		}
		if end < 0 || end == i+1 {
			b.WriteRune(runes[i])
			i++
			continue
		}
		inner := string(runes[i+1 : end])
		b.WriteString(mapRunes(inner, table))
		i = end + 1
	}
	return b.String()
}

func isWordRune(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

func mapRunes(s string, table map[rune]rune) string {
	var b strings.Builder
	for _, r := range s {
		if mapped, ok := table[r]; ok {
			b.WriteRune(mapped)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SplitMessage splits text into chunks of at most maxChars, preferring a
// newline boundary, then a space boundary, once the candidate break point
// is past 40% of maxChars (spec §6). Concatenating the result reproduces
// the CRLF-normalized, trimmed input (spec §8 round-trip law).
func SplitMessage(text string, maxChars int) []string {
	if maxChars <= 0 {
		maxChars = maxChunkChars
	}
	normalized := strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	if normalized == "" {
		return nil
	}

	minBreak := int(float64(maxChars) * 0.4)
	var chunks []string
	remaining := normalized
	for len([]rune(remaining)) > maxChars {
		runes := []rune(remaining)
		window := string(runes[:maxChars])

		// Break points are rune indexes; the separator stays at the start
		// of the next chunk so no text is dropped.
		breakAt := -1
		if nl := strings.LastIndex(window, "\n"); nl >= 0 {
			breakAt = len([]rune(window[:nl]))
		}
		if breakAt < minBreak {
			if sp := strings.LastIndex(window, " "); sp >= 0 && len([]rune(window[:sp])) >= minBreak {
				breakAt = len([]rune(window[:sp]))
			}
		}
		if breakAt < minBreak || breakAt == 0 {
			breakAt = maxChars
		}

		chunks = append(chunks, string(runes[:breakAt]))
		remaining = string(runes[breakAt:])
	}
	if remaining != "" {
		chunks = append(chunks, remaining)
	}
	return chunks
}

// ComposeInboundText implements the url-only media composition rule
// (spec §6): if text is empty, emit an instruction to fetch the media
// URL; otherwise prepend the user's message above that instruction.
func ComposeInboundText(text, mediaURL string) string {
	text = strings.TrimSpace(text)
	mediaURL = strings.TrimSpace(mediaURL)

	if mediaURL == "" {
		return text
	}
	mediaNote := "User attached media URL: " + mediaURL + "\nFetch and inspect this attachment URL as needed."
	if text == "" {
		return mediaNote
	}
	return "User message: " + text + "\n" + mediaNote
}
