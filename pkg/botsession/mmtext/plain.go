// Copyright 2024-2026 Aiku AI

// Package mmtext reduces Mattermost markdown to the plain text a human would
// read, so bot replies can be matched against phrases regardless of how the
// bot decorated them.
package mmtext

import (
	"regexp"
	"strings"
)

var (
	boldRe       = regexp.MustCompile(`\*\*(.+?)\*\*`)
	starItalicRe = regexp.MustCompile(`\*([^*\n]+)\*`)
	underItalRe  = regexp.MustCompile(`(^|\s)_([^_\n]+)_($|\s)`)
	strikeRe     = regexp.MustCompile(`~~(.+?)~~`)
	codeRe       = regexp.MustCompile("`([^`]+)`")
	codeBlockRe  = regexp.MustCompile("(?s)```(?:\\w+)?\\n?(.*?)```")
	linkRe       = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	headingRe    = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	blockquoteRe = regexp.MustCompile(`(?m)^>\s?`)
	shortcodeRe  = regexp.MustCompile(`:([a-z0-9_+-]+):`)
)

// emoji maps the shortcodes bots commonly use in status lines to the
// characters a client would render.
var emoji = map[string]string{
	"white_check_mark":       "✅",
	"heavy_check_mark":       "✔️",
	"x":                      "❌",
	"hourglass_flowing_sand": "⏳",
	"hourglass":              "⌛",
	"mag":                    "🔍",
	"mag_right":              "🔎",
	"warning":                "⚠️",
	"paperclip":              "📎",
	"inbox_tray":             "📥",
	"outbox_tray":            "📤",
}

// Plain strips Mattermost markdown from text. Code block contents and link
// labels are kept, markers and link targets are dropped, and known emoji
// shortcodes are replaced by their characters.
func Plain(text string) string {
	if text == "" {
		return ""
	}
	out := codeBlockRe.ReplaceAllString(text, "$1")
	out = codeRe.ReplaceAllString(out, "$1")
	out = linkRe.ReplaceAllString(out, "$1")
	out = headingRe.ReplaceAllString(out, "")
	out = blockquoteRe.ReplaceAllString(out, "")
	out = boldRe.ReplaceAllString(out, "$1")
	out = starItalicRe.ReplaceAllString(out, "$1")
	out = underItalRe.ReplaceAllString(out, "$1$2$3")
	out = strikeRe.ReplaceAllString(out, "$1")
	out = shortcodeRe.ReplaceAllStringFunc(out, func(match string) string {
		if r, ok := emoji[strings.Trim(match, ":")]; ok {
			return r
		}
		return match
	})
	return strings.TrimSpace(out)
}
