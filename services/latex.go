package services

import (
	"regexp"
	"strings"
)

var (
	displayBracketRe = regexp.MustCompile(`(?s)\\\[(.+?)\\\]`)
	inlineParenRe    = regexp.MustCompile(`(?s)\\\((.+?)\\\)`)
	displayDollarRe  = regexp.MustCompile(`(?s)[ \t]*\n*[ \t]*\$\$(.+?)\$\$[ \t]*\n*`)
	extraNewlinesRe  = regexp.MustCompile(`\n{3,}`)
)

// NormalizeLatex rewrites \[..\] to $$..$$ and \(..\) to $..$, then puts every
// $$..$$ block on its own lines.
func NormalizeLatex(text string) string {
	if text == "" {
		return text
	}
	text = displayBracketRe.ReplaceAllStringFunc(text, func(m string) string {
		inner := displayBracketRe.FindStringSubmatch(m)[1]
		return "$$" + strings.TrimSpace(inner) + "$$"
	})
	text = inlineParenRe.ReplaceAllStringFunc(text, func(m string) string {
		inner := inlineParenRe.FindStringSubmatch(m)[1]
		return "$" + strings.TrimSpace(inner) + "$"
	})
	text = displayDollarRe.ReplaceAllStringFunc(text, func(m string) string {
		inner := displayDollarRe.FindStringSubmatch(m)[1]
		return "\n$$" + strings.TrimSpace(inner) + "$$\n"
	})
	text = extraNewlinesRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
