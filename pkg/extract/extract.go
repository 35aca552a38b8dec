// Package extract pulls code payloads out of free-form model completions.
//
// Completions routinely wrap the payload in prose, tag it with an unexpected
// language, or forget the closing fence. Extraction never fails: when no
// usable fence is found the trimmed input is returned, and the caller's
// executor decides whether the result is usable.
package extract

import (
	"strings"
)

const fence = "```"

var tagAliases = map[string]string{
	"golang":     "go",
	"postgres":   "sql",
	"postgresql": "sql",
	"pgsql":      "sql",
	"psql":       "sql",
	"plpgsql":    "sql",
	"duckdb":     "sql",
	"clickhouse": "sql",
	"py":         "python",
	"python3":    "python",
}

var sqlKeywords = []string{"SELECT", "WITH", "INSERT", "UPDATE", "DELETE", "CREATE", "ALTER", "DROP", "EXPLAIN", "SHOW", "DESCRIBE", "VALUES", "TABLE"}

type block struct {
	tag    string
	body   string
	closed bool
}

// CodeBlock returns the body of the first fenced block tagged lang. If none is
// tagged lang, the first fenced block of any tag is returned. An unterminated
// fence yields everything after it. Text without fences is returned trimmed.
func CodeBlock(text, lang string) string {
	blocks := parseBlocks(text)
	if len(blocks) == 0 {
		return strings.TrimSpace(text)
	}

	want := canonicalTag(lang)
	if want != "" {
		for _, b := range blocks {
			if b.tag == want {
				return strings.TrimSpace(b.body)
			}
		}
	}
	return strings.TrimSpace(blocks[0].body)
}

// SQL extracts a SQL statement from a completion and normalizes it.
func SQL(text string) string {
	if strings.Contains(text, fence) {
		return cleanSQL(CodeBlock(text, "sql"))
	}

	trimmed := strings.TrimSpace(text)
	if LooksLikeSQL(trimmed) {
		return cleanSQL(trimmed)
	}

	// Prose before an unfenced statement: start at the first SQL-looking line.
	lines := strings.Split(trimmed, "\n")
	for i, line := range lines {
		if LooksLikeSQL(line) {
			return cleanSQL(strings.Join(lines[i:], "\n"))
		}
	}
	return cleanSQL(trimmed)
}

// LooksLikeSQL checks if text starts with a SQL statement keyword.
func LooksLikeSQL(text string) bool {
	upper := strings.ToUpper(strings.TrimSpace(text))
	for _, kw := range sqlKeywords {
		if !strings.HasPrefix(upper, kw) {
			continue
		}
		if len(upper) == len(kw) {
			return true
		}
		switch upper[len(kw)] {
		case ' ', '\n', '\t', '\r', '(', '*':
			return true
		}
	}
	return false
}

// cleanSQL normalizes SQL by trimming whitespace and removing trailing semicolons.
func cleanSQL(sql string) string {
	return strings.TrimRight(strings.TrimSpace(sql), "; \t\r\n")
}

func parseBlocks(text string) []block {
	var out []block
	pos := 0
	for pos < len(text) {
		i := strings.Index(text[pos:], fence)
		if i < 0 {
			break
		}
		open := pos + i + len(fence)
		lineEnd := strings.IndexByte(text[open:], '\n')
		closeAt := strings.Index(text[open:], fence)

		// Inline block, e.g. ```SELECT 1```.
		if closeAt >= 0 && (lineEnd < 0 || closeAt < lineEnd) {
			tag, body := splitInline(text[open : open+closeAt])
			out = append(out, block{tag: tag, body: body, closed: true})
			pos = open + closeAt + len(fence)
			continue
		}

		// Opening fence on the last line with nothing after it.
		if lineEnd < 0 {
			tag, body := splitInline(text[open:])
			out = append(out, block{tag: tag, body: body})
			break
		}

		tag := canonicalTag(text[open : open+lineEnd])
		bodyStart := open + lineEnd + 1
		end := strings.Index(text[bodyStart:], fence)
		if end < 0 {
			out = append(out, block{tag: tag, body: text[bodyStart:]})
			break
		}
		out = append(out, block{tag: tag, body: text[bodyStart : bodyStart+end], closed: true})
		pos = bodyStart + end + len(fence)
	}
	return out
}

// splitInline separates a leading language tag from a single-line block body.
func splitInline(s string) (string, string) {
	s = strings.TrimSpace(s)
	first, rest, found := strings.Cut(s, " ")
	if !found {
		if isKnownTag(first) {
			return canonicalTag(first), ""
		}
		return "", s
	}
	if isKnownTag(first) {
		return canonicalTag(first), strings.TrimSpace(rest)
	}
	return "", s
}

func canonicalTag(info string) string {
	fields := strings.Fields(strings.ToLower(info))
	if len(fields) == 0 {
		return ""
	}
	tag := fields[0]
	if alias, ok := tagAliases[tag]; ok {
		return alias
	}
	return tag
}

func isKnownTag(s string) bool {
	tag := canonicalTag(s)
	switch tag {
	case "sql", "go", "python", "json", "text":
		return true
	}
	return false
}
