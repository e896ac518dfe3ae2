package extract

import (
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/docuflow/invoice-pipeline/constants"
)

// extractPlainText is the passthrough path for .txt documents.
func extractPlainText(path string) (TextExtractionResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return TextExtractionResult{SourceType: constants.TXT}, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	text := normalizeWhitespace(string(data))
	if text == "" {
		return TextExtractionResult{SourceType: constants.TXT},
			fmt.Errorf("%w: empty document", ErrUnreadable)
	}
	return TextExtractionResult{
		Text:       text,
		Pages:      1,
		SourceType: constants.TXT,
		Method:     "txt",
	}, nil
}

// normalizeWhitespace collapses runs of spaces and trims each line, keeping
// line structure intact.
func normalizeWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		var sb strings.Builder
		space := false
		for _, r := range line {
			if unicode.IsSpace(r) {
				space = true
				continue
			}
			if space && sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			space = false
			sb.WriteRune(r)
		}
		out = append(out, sb.String())
	}
	// Drop leading/trailing blank lines.
	start, end := 0, len(out)
	for start < end && out[start] == "" {
		start++
	}
	for end > start && out[end-1] == "" {
		end--
	}
	return strings.Join(out[start:end], "\n")
}
