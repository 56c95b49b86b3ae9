package output

import "strings"

// Headers above the fenced output.
const (
	HeaderOutput = "#Output:"
	HeaderError  = "#Error:"
)

const minFence = 3

// Render formats text as the output block content:
//
//	#Output:
//	```
//	text
//	```
//
// The header is #Error: when the execution raised. The fence is one
// backtick longer than the longest backtick run in text, so output that
// prints a fence of its own cannot close the block early.
func Render(text string, failed bool) string {
	header := HeaderOutput
	if failed {
		header = HeaderError
	}

	fence := strings.Repeat("`", max(minFence, longestRun(text, '`')+1))

	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n")
	b.WriteString(fence)
	b.WriteString("\n")
	b.WriteString(text)
	if text != "" && !strings.HasSuffix(text, "\n") {
		b.WriteString("\n")
	}
	b.WriteString(fence)
	return b.String()
}

func longestRun(text string, c byte) int {
	longest, run := 0, 0
	for i := 0; i < len(text); i++ {
		if text[i] != c {
			run = 0
			continue
		}
		run++
		longest = max(longest, run)
	}
	return longest
}
