// Copyright 2024-2026 Aiku AI

// Package mmfmt converts between Mattermost markdown and the plain text the
// site's chat room displays.
package mmfmt

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	boldRe       = regexp.MustCompile(`\*\*(.+?)\*\*`)
	italicRe     = regexp.MustCompile(`(^|[^*\w])_(.+?)_([^*\w]|$)`)
	starItalicRe = regexp.MustCompile(`(^|[^*])\*([^*\s][^*]*?)\*([^*]|$)`)
	strikeRe     = regexp.MustCompile(`~~(.+?)~~`)
	codeRe       = regexp.MustCompile("`([^`]+)`")
	codeBlockRe  = regexp.MustCompile("(?s)```(\\w+)?\\n?(.*?)```")
	linkRe       = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	headingRe    = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	ulRe         = regexp.MustCompile(`(?m)^[-*]\s+`)
	blockquoteRe = regexp.MustCompile(`(?m)^>\s?`)
)

// nameEscaper escapes the characters that would break out of the bold span
// the bridge wraps sender names in.
var nameEscaper = strings.NewReplacer(
	`\`, `\\`,
	"*", `\*`,
	"_", `\_`,
	"~", `\~`,
	"`", "\\`",
	"[", `\[`,
	"]", `\]`,
)

// EscapeName makes a display name safe to embed in Mattermost markdown.
func EscapeName(name string) string {
	return nameEscaper.Replace(name)
}

// Plain strips Mattermost markdown from text, keeping the words. Code blocks
// keep their content, links become "text (url)" for safe schemes and just
// the text otherwise, and list bullets become "•".
func Plain(text string) string {
	if text == "" {
		return ""
	}

	// Code content is taken verbatim, so pull it out before inline rules run.
	var blocks []string
	out := codeBlockRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := codeBlockRe.FindStringSubmatch(match)
		blocks = append(blocks, strings.TrimRight(parts[2], "\n"))
		return placeholder(len(blocks) - 1)
	})
	out = codeRe.ReplaceAllStringFunc(out, func(match string) string {
		blocks = append(blocks, codeRe.FindStringSubmatch(match)[1])
		return placeholder(len(blocks) - 1)
	})

	out = headingRe.ReplaceAllString(out, "")
	out = blockquoteRe.ReplaceAllString(out, "")
	out = ulRe.ReplaceAllString(out, "• ")

	out = boldRe.ReplaceAllString(out, "$1")
	out = strikeRe.ReplaceAllString(out, "$1")
	out = italicRe.ReplaceAllString(out, "$1$2$3")
	out = starItalicRe.ReplaceAllString(out, "$1$2$3")

	out = linkRe.ReplaceAllStringFunc(out, func(match string) string {
		parts := linkRe.FindStringSubmatch(match)
		label, href := parts[1], strings.TrimSpace(parts[2])
		lower := strings.ToLower(href)
		if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "mailto:") {
			if label == href {
				return href
			}
			return label + " (" + href + ")"
		}
		return label
	})

	for i, b := range blocks {
		out = strings.Replace(out, placeholder(i), b, 1)
	}
	return out
}

func placeholder(i int) string {
	return "\x00CODE" + strconv.Itoa(i) + "\x00"
}
