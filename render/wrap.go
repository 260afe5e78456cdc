package render

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const tabSize = 8

// Wrap fills text greedily into lines of at most width runes. Tabs are
// expanded and every whitespace character becomes a space; whitespace at the
// start of continuation lines and at the end of every line is dropped.
// Hyphenated words may break after a hyphen between letters, and words longer
// than width are split, after their last fitting hyphen if there is one. Text
// without any word yields no lines.
func Wrap(text string, width int) []string {
	if width < 1 {
		width = 1
	}
	chunks := splitChunks(mungeWhitespace(text))

	var lines []string
	for len(chunks) > 0 {
		if len(lines) > 0 && isBlank(chunks[0]) {
			chunks = chunks[1:]
		}

		var line [][]rune
		lineLen := 0
		for len(chunks) > 0 && lineLen+len(chunks[0]) <= width {
			line = append(line, chunks[0])
			lineLen += len(chunks[0])
			chunks = chunks[1:]
		}

		if len(chunks) > 0 && len(chunks[0]) > width {
			// may take nothing when the line is already full
			chunk := chunks[0]
			end := width - lineLen
			if hyphen := lastIndexRune(chunk[:end], '-'); hyphen > 0 && !onlyHyphens(chunk[:hyphen]) {
				end = hyphen + 1
			}
			line = append(line, chunk[:end])
			chunks[0] = chunk[end:]
		}

		if len(line) > 0 && isBlank(line[len(line)-1]) {
			line = line[:len(line)-1]
		}
		if len(line) > 0 {
			var sb strings.Builder
			for _, c := range line {
				sb.WriteString(string(c))
			}
			lines = append(lines, sb.String())
		}
	}
	return lines
}

// mungeWhitespace expands tabs to the next multiple of tabSize and turns
// the remaining ASCII whitespace into plain spaces.
func mungeWhitespace(text string) string {
	var sb strings.Builder
	sb.Grow(len(text))
	col := 0
	for _, r := range text {
		switch r {
		case '\t':
			n := tabSize - col%tabSize
			sb.WriteString(strings.Repeat(" ", n))
			col += n
		case '\n', '\r':
			sb.WriteByte(' ')
			col = 0
		case '\v', '\f':
			sb.WriteByte(' ')
			col++
		default:
			sb.WriteRune(r)
			col++
		}
	}
	return sb.String()
}

// splitChunks breaks text into runs of spaces and words, cutting words after
// hyphens that join letters and around em-dashes written as "--".
func splitChunks(text string) [][]rune {
	var chunks [][]rune
	runes := []rune(text)
	for start := 0; start < len(runes); {
		end := start + 1
		if runes[start] == ' ' {
			for end < len(runes) && runes[end] == ' ' {
				end++
			}
		} else {
			stop := end
			for stop < len(runes) && runes[stop] != ' ' {
				stop++
			}
			end = wordEnd(runes[:stop], start)
		}
		chunks = append(chunks, runes[start:end])
		start = end
	}
	return chunks
}

// wordEnd returns the end of the chunk starting at p inside the word w.
func wordEnd(w []rune, p int) int {
	if p > 0 && isWordPunct(w[p-1]) {
		if n := dashRun(w, p); n >= 2 && p+n < len(w) && isWordRune(w[p+n]) {
			return p + n
		}
	}
	for e := p + 1; e < len(w); e++ {
		if w[e] == '-' && hyphenBreak(w, e) {
			return e + 1
		}
		if isWordPunct(w[e-1]) {
			if n := dashRun(w, e); n >= 2 && e+n < len(w) && isWordRune(w[e+n]) {
				return e
			}
		}
	}
	return len(w)
}

// hyphenBreak reports whether the hyphen at e follows two letters, or a
// letter-hyphen-letter run, and precedes a letter, an optional hyphen and a
// letter.
func hyphenBreak(w []rune, e int) bool {
	at := func(i int) rune {
		if i < 0 || i >= len(w) {
			return ' '
		}
		return w[i]
	}
	before := (isLetter(at(e-2)) && isLetter(at(e-1))) ||
		(isLetter(at(e-3)) && at(e-2) == '-' && isLetter(at(e-1)))
	if !before || !isLetter(at(e+1)) {
		return false
	}
	return isLetter(at(e+2)) || (at(e+2) == '-' && isLetter(at(e+3)))
}

func dashRun(w []rune, i int) int {
	n := 0
	for i+n < len(w) && w[i+n] == '-' {
		n++
	}
	return n
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsNumber(r)
}

func isLetter(r rune) bool {
	return isWordRune(r) && !unicode.IsDigit(r)
}

func isWordPunct(r rune) bool {
	return isWordRune(r) || strings.ContainsRune(`!"'&.,?`, r)
}

func lastIndexRune(chunk []rune, r rune) int {
	for i := len(chunk) - 1; i >= 0; i-- {
		if chunk[i] == r {
			return i
		}
	}
	return -1
}

func onlyHyphens(chunk []rune) bool {
	for _, r := range chunk {
		if r != '-' {
			return false
		}
	}
	return true
}

func isBlank(chunk []rune) bool {
	for _, r := range chunk {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

// SplitLines splits on every line boundary without keeping a trailing empty line.
func SplitLines(text string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		if !isLineBoundary(r) {
			i += size
			continue
		}
		lines = append(lines, text[start:i])
		i += size
		if r == '\r' && i < len(text) && text[i] == '\n' {
			i++
		}
		start = i
	}
	if start < len(text) {
		lines = append(lines, text[start:])
	}
	return lines
}

func isLineBoundary(r rune) bool {
	switch r {
	case '\n', '\r', '\v', '\f', '\x1c', '\x1d', '\x1e', '\u0085', '\u2028', '\u2029':
		return true
	}
	return false
}
