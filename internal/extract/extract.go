// Package extract pulls runnable source code out of a block's raw text.
package extract

import (
	"errors"
	"regexp"
)

// Language is the only fence tag recognised. Other languages are not
// supported yet; widening this changes what blocks are runnable.
const Language = "python"

// ErrNoCode is returned when the text has no python fence.
var ErrNoCode = errors.New("Not able to select code")

// fencePattern matches the first ```python fence. Whitespace between the
// backticks and the tag is tolerated; the body is captured non-greedily up
// to the next closing fence.
var fencePattern = regexp.MustCompile("(?s)```[ \\t]*" + Language + "[ \\t]*\\r?\\n(.*?)```")

// Code returns the text between the opening and closing fence of the first
// python block in text, unaltered.
func Code(text string) (string, error) {
	m := fencePattern.FindStringSubmatch(text)
	if m == nil {
		return "", ErrNoCode
	}
	return m[1], nil
}
