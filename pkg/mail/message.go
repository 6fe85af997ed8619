package mail

import (
	"fmt"
	"strings"

	gomail "github.com/wneessen/go-mail"
	"golang.org/x/net/html"

	"github.com/telekom/bulkmail/pkg/config"
)

// OutboundMessage is everything needed to build one message for one
// recipient. It is built fresh per recipient and never reused.
type OutboundMessage struct {
	Sender    string
	Recipient string
	Subject   string
	HTMLBody  string
	PlainBody string
}

// NewOutboundMessage appends the signature to both bodies. When plainBody is
// empty it is derived from the text content of htmlBody.
func NewOutboundMessage(sender, recipient, subject, htmlBody, plainBody string, sig config.Signature) OutboundMessage {
	if plainBody == "" {
		plainBody = HTMLToText(htmlBody)
	}
	return OutboundMessage{
		Sender:    sender,
		Recipient: recipient,
		Subject:   subject,
		HTMLBody:  htmlBody + RenderSignature(sig, true),
		PlainBody: plainBody + RenderSignature(sig, false),
	}
}

// Build assembles a UTF-8 multipart/alternative message with the plain text
// part first and the HTML part second, so clients prefer HTML. An address
// that does not parse fails the build.
func (m OutboundMessage) Build() (*gomail.Msg, error) {
	msg := gomail.NewMsg()
	if err := msg.From(m.Sender); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", m.Sender, err)
	}
	if err := msg.To(m.Recipient); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", m.Recipient, err)
	}
	msg.Subject(m.Subject)
	msg.SetDate()
	msg.SetMessageID()
	msg.SetBodyString(gomail.TypeTextPlain, m.PlainBody)
	msg.AddAlternativeString(gomail.TypeTextHTML, m.HTMLBody)
	return msg, nil
}

var blockTags = map[string]bool{
	"br": true, "p": true, "div": true, "li": true, "tr": true, "pre": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
}

// HTMLToText extracts the readable text of an HTML fragment. Block-level
// elements become line breaks; script and style content is dropped.
func HTMLToText(fragment string) string {
	z := html.NewTokenizer(strings.NewReader(fragment))
	var b strings.Builder
	skip := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return tidyLines(b.String())
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if (tag == "script" || tag == "style") && tt == html.StartTagToken {
				skip++
			}
			if blockTags[tag] {
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if (tag == "script" || tag == "style") && skip > 0 {
				skip--
			}
			if blockTags[tag] {
				b.WriteByte('\n')
			}
		}
	}
}

// tidyLines trims every line and collapses runs of blank lines into one.
func tidyLines(s string) string {
	var out []string
	blank := false
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			if len(out) > 0 && !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		out = append(out, line)
		blank = false
	}
	return strings.TrimRight(strings.Join(out, "\n"), "\n")
}
