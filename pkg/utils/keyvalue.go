package utils

import "strings"

// ParseBool accepts true/1/yes/on/enabled in any case; everything else is false.
func ParseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on", "enabled":
		return true
	}
	return false
}

// TrimQuotes removes one pair of matching surrounding quotes.
func TrimQuotes(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

// IsComment reports whether a config line is blank or starts with #.
func IsComment(line string) bool {
	trimmed := strings.TrimSpace(line)
	return trimmed == "" || strings.HasPrefix(trimmed, "#")
}

// SplitKeyValue splits KEY=VALUE. A quoted value keeps everything up to its
// closing quote; an unquoted one loses any trailing "# comment".
func SplitKeyValue(line string) (string, string, bool) {
	key, value, ok := strings.Cut(line, "=")
	if !ok {
		return "", "", false
	}
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)

	if value != "" && (value[0] == '"' || value[0] == '\'') {
		if end := closingQuote(value, value[0]); end >= 0 {
			value = value[:end+1]
		}
	} else if idx := inlineComment(value); idx >= 0 {
		value = strings.TrimSpace(value[:idx])
	}
	return key, TrimQuotes(value), true
}

// closingQuote returns the index of the quote closing s[0], honouring
// backslash escapes, or -1.
func closingQuote(s string, quote byte) int {
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case quote:
			return i
		}
	}
	return -1
}

// inlineComment returns the index of a # outside quotes, or -1.
func inlineComment(s string) int {
	var quote byte
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch == '\\':
			i++
		case quote != 0:
			if ch == quote {
				quote = 0
			}
		case ch == '"' || ch == '\'':
			quote = ch
		case ch == '#':
			return i
		}
	}
	return -1
}
