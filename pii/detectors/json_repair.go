package pii

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	hasPIIValuePattern = regexp.MustCompile(`(?i)"has_?pii"\s*:\s*"?\s*(true|false|yes|no|1|0)\s*"?`)
	typesArrayPattern  = regexp.MustCompile(`"types"\s*:\s*\[[^\]]*\]`)
	typeColonPattern   = regexp.MustCompile(`"\s*([^"]*?)\s*:+\s*"`)
	smartQuoteReplacer = strings.NewReplacer("“", `"`, "”", `"`, "‘", "'", "’", "'")
)

// RepairJSON rewrites the malformed JSON that small models tend to
// emit into something encoding/json accepts: unquoted keys and bare
// word values are quoted, single-quoted strings become double-quoted,
// trailing commas are dropped, the hasPII value is forced to a JSON
// boolean and stray colons inside types entries are removed.
//
// RepairJSON does not validate its output; callers still parse it.
func RepairJSON(s string) string {
	s = smartQuoteReplacer.Replace(s)
	s = quoteBareTokens(s)
	s = hasPIIValuePattern.ReplaceAllStringFunc(s, func(m string) string {
		value := strings.ToLower(hasPIIValuePattern.FindStringSubmatch(m)[1])
		if value == "true" || value == "yes" || value == "1" {
			return `"hasPII": true`
		}
		return `"hasPII": false`
	})
	s = typesArrayPattern.ReplaceAllStringFunc(s, func(m string) string {
		return typeColonPattern.ReplaceAllString(m, `"$1"`)
	})
	return s
}

// quoteBareTokens walks s outside of string literals, quoting
// identifiers and bare words and normalizing string delimiters.
func quoteBareTokens(s string) string {
	runes := []rune(s)
	var out strings.Builder
	out.Grow(len(s) + 16)

	inString := false
	var quote rune
	escaped := false

	for i := 0; i < len(runes); i++ {
		c := runes[i]

		if inString {
			switch {
			case escaped:
				escaped = false
				out.WriteRune(c)
			case c == '\\':
				escaped = true
				out.WriteRune(c)
			case c == quote:
				inString = false
				out.WriteRune('"')
			case c == '"':
				// double quote inside a single-quoted string
				out.WriteString(`\"`)
			case c == '\n':
				out.WriteString(`\n`)
			default:
				out.WriteRune(c)
			}
			continue
		}

		switch {
		case c == '"' || c == '\'':
			inString = true
			quote = c
			out.WriteRune('"')
		case c == ',':
			j := skipSpace(runes, i+1)
			if j >= len(runes) || runes[j] == '}' || runes[j] == ']' {
				continue
			}
			out.WriteRune(c)
		case unicode.IsLetter(c) || c == '_':
			j := i
			for j < len(runes) && (unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j]) || runes[j] == '_') {
				j++
			}
			ident := string(runes[i:j])
			k := skipSpace(runes, j)
			if k < len(runes) && runes[k] == ':' {
				out.WriteString(`"` + ident + `"`)
				i = j - 1
				continue
			}

			// bare value: runs until the next structural character
			end := j
			for end < len(runes) && !strings.ContainsRune(",]}\n", runes[end]) {
				end++
			}
			word := strings.TrimSpace(string(runes[i:end]))
			switch strings.ToLower(word) {
			case "true", "false", "null":
				out.WriteString(strings.ToLower(word))
			case "none":
				out.WriteString("null")
			default:
				out.WriteString(`"` + strings.ReplaceAll(word, `"`, `\"`) + `"`)
			}
			i = end - 1
		default:
			out.WriteRune(c)
		}
	}

	if inString {
		out.WriteRune('"')
	}
	return out.String()
}

func skipSpace(runes []rune, i int) int {
	for i < len(runes) && unicode.IsSpace(runes[i]) {
		i++
	}
	return i
}
