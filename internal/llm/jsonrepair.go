// # internal/llm/jsonrepair.go
package llm

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrUnparseable reports that no rung of the recovery ladder produced a valid
// JSON object. Callers treat it as an uncertain verdict, never as a crash.
var ErrUnparseable = errors.New("no JSON object could be recovered from the response")

// ExtractJSON recovers the first JSON object from raw model output. The
// ladder runs in order: strict parse, fenced code blocks, first balanced
// object, then a repair pass that closes an unterminated string, strips a
// trailing comma, and appends whatever closers are still open. Each rung runs
// only when the previous one failed.
func ExtractJSON(raw string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(raw)
	if isJSONObject(trimmed) {
		return json.RawMessage(trimmed), nil
	}
	for _, block := range fencedBlocks(trimmed) {
		if isJSONObject(block) {
			return json.RawMessage(block), nil
		}
	}
	if obj, ok := balancedObject(trimmed); ok {
		return json.RawMessage(obj), nil
	}
	if repaired, ok := repairObject(trimmed); ok {
		return json.RawMessage(repaired), nil
	}
	return nil, ErrUnparseable
}

func isJSONObject(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "{") && json.Valid([]byte(s))
}

// fencedBlocks returns the contents of every ``` fence, tolerating a language
// tag after the opening fence and a missing closing fence at end of output.
func fencedBlocks(s string) []string {
	var blocks []string
	for {
		start := strings.Index(s, "```")
		if start == -1 {
			return blocks
		}
		rest := s[start+3:]
		nl := strings.IndexByte(rest, '\n')
		if nl == -1 {
			return blocks
		}
		rest = rest[nl+1:]
		end := strings.Index(rest, "```")
		if end == -1 {
			return append(blocks, strings.TrimSpace(rest))
		}
		blocks = append(blocks, strings.TrimSpace(rest[:end]))
		s = rest[end+3:]
	}
}

// balancedObject scans for the first brace-balanced, valid JSON object
// embedded anywhere in s.
func balancedObject(s string) (string, bool) {
	for start := strings.IndexByte(s, '{'); start != -1; {
		if end, ok := matchBraces(s[start:]); ok {
			cand := s[start : start+end]
			if json.Valid([]byte(cand)) {
				return cand, true
			}
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next == -1 {
			return "", false
		}
		start += 1 + next
	}
	return "", false
}

// matchBraces returns the exclusive end offset of the object opening at s[0].
// String contents are opaque, so braces inside values never count.
func matchBraces(s string) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}

// repairObject is the last rung: truncate to the first object start, close an
// unterminated string, drop a dangling comma, then append the closers still
// open in reverse nesting order. The result must strictly validate or the
// repair is rejected.
func repairObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return "", false
	}
	s = s[start:]

	var stack []byte
	inString := false
	escaped := false
	end := len(s)
scan:
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}':
			if len(stack) > 0 && stack[len(stack)-1] == '{' {
				stack = stack[:len(stack)-1]
			}
			if len(stack) == 0 {
				end = i + 1
				break scan
			}
		case ']':
			if len(stack) > 0 && stack[len(stack)-1] == '[' {
				stack = stack[:len(stack)-1]
			}
		}
	}

	out := s[:end]
	if inString {
		out += `"`
	}
	out = stripTrailingComma(out)
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			out += "}"
		} else {
			out += "]"
		}
	}
	if json.Valid([]byte(out)) {
		return out, true
	}
	return "", false
}

func stripTrailingComma(s string) string {
	trimmed := strings.TrimRight(s, " \t\r\n")
	if strings.HasSuffix(trimmed, ",") {
		return trimmed[:len(trimmed)-1]
	}
	return s
}
