// ABOUTME: Presentation of registration tokens as chat-friendly markdown
// ABOUTME: Renders full and short token forms and converts markdown to HTML

package render

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/2389/registration-bot/internal/synapse"
)

// TimeLayout is the fixed-width expiry format, always in UTC.
const TimeLayout = "02.01.06 15:04 UTC"

// Token renders the full form: token value, expiry and remaining uses.
func Token(t synapse.Token) string {
	expires := "does not expire"
	if exp, ok := t.Expiry(); ok {
		expires = exp.Format(TimeLayout)
	}

	usesLeft := "unlimited"
	if left, ok := t.UsesLeft(); ok {
		usesLeft = fmt.Sprintf("%d", left)
	}

	return fmt.Sprintf("**Token:** `%s`  \nexpires: %s  \nuses left: %s\n", t.Token, expires, usesLeft)
}

// TokenShort renders just the token value for inline use.
func TokenShort(t synapse.Token) string {
	return "`" + t.Token + "`"
}

// TokenList joins full forms, one block per token.
func TokenList(tokens []synapse.Token) string {
	blocks := make([]string, len(tokens))
	for i, t := range tokens {
		blocks[i] = Token(t)
	}
	return strings.Join(blocks, "\n")
}

// TokenShortList joins short forms with commas.
func TokenShortList(tokens []synapse.Token) string {
	short := make([]string, len(tokens))
	for i, t := range tokens {
		short[i] = TokenShort(t)
	}
	return strings.Join(short, ", ")
}

// HTML converts markdown into the HTML used for Matrix formatted bodies.
func HTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("converting markdown: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}
