package mediafile

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// maxTitleLength caps the title part of a generated file name, in runes.
const maxTitleLength = 100

// forbiddenChars are stripped from titles before they become file names.
var forbiddenChars = map[rune]bool{
	'\\': true,
	'/':  true,
	':':  true,
	'*':  true,
	'?':  true,
	'"':  true,
	'<':  true,
	'>':  true,
	'|':  true,
}

// CleanTitle turns an arbitrary title into something safe to use as a file
// name: forbidden and control characters are removed, runs of whitespace
// collapse to one space and the result is capped at 100 runes. Returns
// "video" when nothing usable is left.
func CleanTitle(title string) string {
	var sb strings.Builder
	sb.Grow(len(title))

	for _, r := range title {
		if forbiddenChars[r] || (r < 32 && r != '\t' && r != '\n' && r != '\r') || r == 127 {
			continue
		}
		sb.WriteRune(r)
	}

	result := strings.Join(strings.Fields(sb.String()), " ")
	result = truncateRunes(result, maxTitleLength)
	result = strings.TrimRight(result, " .")

	if result == "" {
		return "video"
	}
	return result
}

// FinalName builds "Title [quality].ext" for a cleaned title.
func FinalName(title, quality, ext string) string {
	return fmt.Sprintf("%s [%s]%s", CleanTitle(title), quality, ext)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
