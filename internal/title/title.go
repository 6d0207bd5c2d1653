// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package title

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/nebot/internal/storage"
	"github.com/jeranaias/nebot/internal/util"
)

// Limits applied to prompts and generated titles.
const (
	ExcerptRunes = 400
	MaxRunes     = 80
	keepRunes    = MaxRunes - 3
)

var placeholderTitles = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^new chat`),
	regexp.MustCompile(`(?i)^chat \d`),
	regexp.MustCompile(`(?i)^chat \d{1,2}:\d{2}`),
}

// quoteChars are stripped from both ends of a generated title.
const quoteChars = "\"'“”‘’«»`"

// IsPlaceholder reports whether t is empty or a default title.
func IsPlaceholder(t string) bool {
	if strings.TrimSpace(t) == "" {
		return true
	}
	for _, re := range placeholderTitles {
		if re.MatchString(t) {
			return true
		}
	}
	return false
}

// Eligible reports whether sess should get a generated title: its title is
// still a placeholder and it holds at least one user and one assistant
// message.
func Eligible(sess *storage.Session) bool {
	if sess == nil || !IsPlaceholder(sess.Title) {
		return false
	}
	if len(sess.Messages) < 2 {
		return false
	}
	return sess.CountRole(storage.RoleUser) > 0 && sess.CountRole(storage.RoleAssistant) > 0
}

// firstExchange returns the first user and first assistant messages.
func firstExchange(sess *storage.Session) (user, assistant string, ok bool) {
	var haveUser, haveAssistant bool
	for _, m := range sess.Messages {
		switch {
		case m.Role == storage.RoleUser && !haveUser:
			user, haveUser = m.Content, true
		case m.Role == storage.RoleAssistant && !haveAssistant:
			assistant, haveAssistant = m.Content, true
		}
	}
	return user, assistant, haveUser && haveAssistant
}

// BuildPrompt returns the title-generation prompt for sess, or "" when the
// session has no complete exchange.
func BuildPrompt(sess *storage.Session) string {
	user, assistant, ok := firstExchange(sess)
	if !ok {
		return ""
	}
	return fmt.Sprintf(
		"Create a concise, descriptive chat title (4-8 words) for this conversation. "+
			"Use Title Case. No quotes. No trailing punctuation.\n\nUser: %s\nAssistant: %s\n\nTitle:",
		util.TruncateRunesNoEllipsis(user, ExcerptRunes),
		util.TruncateRunesNoEllipsis(assistant, ExcerptRunes),
	)
}

// Sanitize turns a raw model completion into a title. It returns "" when
// nothing usable remains.
func Sanitize(raw string) string {
	s := norm.NFC.String(raw)
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(strings.Trim(strings.TrimSpace(s), quoteChars))
	if util.RuneLen(s) > MaxRunes {
		s = util.TruncateRunesNoEllipsis(s, keepRunes) + util.Ellipsis
	}
	return s
}
