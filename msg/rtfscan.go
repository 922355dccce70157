// rtfscan.go walks raw RTF to recover readable content: the original
// HTML out of Outlook's \fromhtml1 encapsulation (MS-OXRTFEX), or a
// plain-text rendering when the RTF is the only body a message has.

package msg

import (
	"bytes"
	"strings"
	"unicode/utf16"
)

// controlWord reads the RTF control word or symbol starting at the
// backslash at pos. It returns the word ("" for symbols), the symbol
// byte, the numeric parameter (with ok flag), and the position after the
// token including its delimiter space.
func controlWord(data []byte, pos int) (word string, symbol byte, param int, hasParam bool, next int) {
	i := pos + 1
	if i >= len(data) {
		return "", 0, 0, false, i
	}
	if !isASCIILetter(data[i]) {
		return "", data[i], 0, false, i + 1
	}

	start := i
	for i < len(data) && isASCIILetter(data[i]) {
		i++
	}
	word = string(data[start:i])

	if i < len(data) && (data[i] == '-' || isDigit(data[i])) {
		neg := false
		if data[i] == '-' {
			neg = true
			i++
		}
		v := 0
		for i < len(data) && isDigit(data[i]) {
			v = v*10 + int(data[i]-'0')
			i++
		}
		if neg {
			v = -v
		}
		param, hasParam = v, true
	}
	if i < len(data) && data[i] == ' ' {
		i++
	}
	return word, 0, param, hasParam, i
}

func isASCIILetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func skipRTFGroup(data []byte, pos int) int {
	depth := 0
	for i := pos; i < len(data); i++ {
		switch data[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		case '\\':
			i++ // never treat an escaped brace as a group boundary
		}
	}
	return len(data)
}

func unhexDigit(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	}
	return -1
}

// RTFToHTML extracts the original HTML from \fromhtml1-encapsulated RTF.
// It returns nil when the RTF does not carry encapsulated HTML.
func RTFToHTML(rtf []byte) []byte {
	if !bytes.Contains(rtf, []byte(`\fromhtml`)) {
		return nil
	}

	var out bytes.Buffer
	out.Grow(len(rtf))
	inRTFOnly := false // inside \htmlrtf ... \htmlrtf0
	sawTag := false    // past the RTF preamble

	i := 0
	for i < len(rtf) {
		c := rtf[i]

		// {\*\htmltagN ...} groups hold verbatim HTML markup.
		if c == '{' && bytes.HasPrefix(rtf[i:], []byte(`{\*\htmltag`)) {
			j := i + len(`{\*\htmltag`)
			for j < len(rtf) && isDigit(rtf[j]) {
				j++
			}
			if j < len(rtf) && rtf[j] == ' ' {
				j++
			}
			end := skipRTFGroup(rtf, i)
			content := rtf[j : end-1]
			out.WriteString(decodeRTFText(content))
			i = end
			sawTag = true
			continue
		}

		if c == '{' || c == '}' {
			i++
			continue
		}
		if c == '\r' || c == '\n' {
			i++
			continue
		}

		if c == '\\' {
			word, symbol, param, hasParam, next := controlWord(rtf, i)
			switch word {
			case "htmlrtf":
				inRTFOnly = !hasParam || param != 0
				i = next
				continue
			}
			if inRTFOnly || !sawTag {
				i = next
				continue
			}
			switch {
			case symbol == '\\' || symbol == '{' || symbol == '}':
				out.WriteByte(symbol)
			case symbol == '~':
				out.WriteString("&nbsp;")
			case symbol == '\'':
				if next+1 < len(rtf) {
					hi, lo := unhexDigit(rtf[next]), unhexDigit(rtf[next+1])
					if hi >= 0 && lo >= 0 {
						out.WriteByte(byte(hi<<4 | lo))
					}
					next += 2
				}
			case word == "par" || word == "line":
				out.WriteString("\r\n")
			case word == "tab":
				out.WriteByte('\t')
			}
			i = next
			continue
		}

		if !inRTFOnly && sawTag {
			out.WriteByte(c)
		}
		i++
	}

	html := strings.TrimSpace(out.String())
	if html == "" {
		return nil
	}
	return []byte(html)
}

// rtfSkipGroups are destination groups that never contribute visible
// text.
var rtfSkipGroups = map[string]bool{
	"fonttbl":    true,
	"colortbl":   true,
	"stylesheet": true,
	"info":       true,
	"pict":       true,
	"object":     true,
	"themedata":  true,
	"fldinst":    true,
}

// RTFToText renders RTF as plain text, so a message whose only body is
// rich text still yields something readable.
func RTFToText(rtf []byte, codePage int) string {
	var out strings.Builder
	out.Grow(len(rtf) / 2)

	// \ucN: how many fallback bytes follow each \uN escape.
	ucSkip := 1
	var pendingSkip int

	i := 0
	for i < len(rtf) {
		c := rtf[i]
		switch {
		case c == '{' || c == '}':
			i++
		case c == '\r' || c == '\n':
			i++
		case c == '\\':
			if bytes.HasPrefix(rtf[i:], []byte(`\*`)) {
				// \* marks an ignorable destination; drop the group.
				i = skipRTFGroup(rtf, lastOpenBrace(rtf, i))
				continue
			}
			word, symbol, param, hasParam, next := controlWord(rtf, i)
			switch {
			case rtfSkipGroups[word]:
				i = skipRTFGroup(rtf, lastOpenBrace(rtf, i))
				continue
			case word == "par" || word == "line" || word == "sect":
				out.WriteByte('\n')
			case word == "tab":
				out.WriteByte('\t')
			case word == "uc" && hasParam:
				ucSkip = param
			case word == "u" && hasParam:
				r := rune(uint16(param))
				if utf16.IsSurrogate(r) {
					r = '�'
				}
				out.WriteRune(r)
				pendingSkip = ucSkip
			case symbol == '\'':
				if next+1 < len(rtf) {
					hi, lo := unhexDigit(rtf[next]), unhexDigit(rtf[next+1])
					if hi >= 0 && lo >= 0 {
						if pendingSkip > 0 {
							pendingSkip--
						} else if s, err := decodeString8([]byte{byte(hi<<4 | lo)}, codePage); err == nil {
							out.WriteString(s)
						}
					}
					next += 2
				}
			case symbol == '\\' || symbol == '{' || symbol == '}':
				if pendingSkip > 0 {
					pendingSkip--
				} else {
					out.WriteByte(symbol)
				}
			case symbol == '~':
				out.WriteByte(' ')
			}
			i = next
		default:
			if pendingSkip > 0 {
				pendingSkip--
			} else {
				out.WriteByte(c)
			}
			i++
		}
	}

	return strings.TrimSpace(out.String())
}

// decodeRTFText resolves RTF escapes inside already-extracted content.
func decodeRTFText(s []byte) string {
	var out strings.Builder
	i := 0
	for i < len(s) {
		c := s[i]
		if c == '\r' || c == '\n' {
			i++
			continue
		}
		if c != '\\' {
			out.WriteByte(c)
			i++
			continue
		}
		word, symbol, _, _, next := controlWord(s, i)
		switch {
		case symbol == '\\' || symbol == '{' || symbol == '}':
			out.WriteByte(symbol)
		case symbol == '\'':
			if next+1 < len(s) {
				hi, lo := unhexDigit(s[next]), unhexDigit(s[next+1])
				if hi >= 0 && lo >= 0 {
					out.WriteByte(byte(hi<<4 | lo))
				}
				next += 2
			}
		case word == "par" || word == "line":
			out.WriteString("\r\n")
		case word == "tab":
			out.WriteByte('\t')
		}
		i = next
	}
	return out.String()
}

// lastOpenBrace backs up from a control word to its enclosing group
// opener so the whole group can be skipped.
func lastOpenBrace(data []byte, pos int) int {
	for i := pos; i > 0; i-- {
		if data[i-1] == '{' {
			return i - 1
		}
	}
	return 0
}
