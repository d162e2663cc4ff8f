package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)

// repairJSON makes one attempt to recover a JSON document from model output:
// strip code fences and control characters, cut to the outermost bracket
// pair, and trim trailing commas before closing brackets. Output that still
// fails to parse is unrecoverable and the caller discards the batch.
func repairJSON(text string) (string, error) {
	cleaned := strings.TrimSpace(text)

	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimPrefix(cleaned, "```")
		if idx := strings.LastIndex(cleaned, "```"); idx >= 0 {
			cleaned = cleaned[:idx]
		}
	}

	cleaned = strings.Map(func(r rune) rune {
		if r < 0x20 {
			return -1
		}
		return r
	}, cleaned)

	start := strings.IndexAny(cleaned, "{[")
	if start < 0 {
		return "", fmt.Errorf("no JSON bracket in output")
	}
	closer := byte('}')
	if cleaned[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(cleaned, closer)
	if end <= start {
		return "", fmt.Errorf("unbalanced JSON brackets")
	}
	cleaned = cleaned[start : end+1]

	cleaned = trailingCommaPattern.ReplaceAllString(cleaned, "$1")

	if !json.Valid([]byte(cleaned)) {
		return "", fmt.Errorf("output not recoverable as JSON")
	}
	return cleaned, nil
}
