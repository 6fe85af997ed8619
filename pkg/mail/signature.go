package mail

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/telekom/bulkmail/pkg/config"
)

// RenderSignature renders the block appended to every message body, either
// as an HTML fragment or as plain text. An empty signature renders as "".
func RenderSignature(sig config.Signature, asHTML bool) string {
	if sig.IsZero() {
		return ""
	}
	if asHTML {
		return renderHTMLSignature(sig)
	}
	return renderTextSignature(sig)
}

func renderHTMLSignature(sig config.Signature) string {
	var b strings.Builder
	b.WriteString("\n<br><br>\n<div style=\"font-family: Arial, sans-serif; font-size: 14px;\">\n<p>---</p>\n")
	if sig.Closing != "" {
		b.WriteString("<p>" + html.EscapeString(sig.Closing) + "</p>\n")
	}
	if sig.Name != "" || sig.Title != "" {
		var lines []string
		if sig.Name != "" {
			lines = append(lines, "<strong>"+html.EscapeString(sig.Name)+"</strong>")
		}
		if sig.Title != "" {
			lines = append(lines, html.EscapeString(sig.Title))
		}
		b.WriteString("<p>" + strings.Join(lines, "<br>\n") + "</p>\n")
	}

	var contact []string
	if sig.Email != "" {
		contact = append(contact, "E. "+html.EscapeString(sig.Email))
	}
	for _, line := range sig.AddressLines {
		contact = append(contact, html.EscapeString(line))
	}
	if sig.Website != "" {
		contact = append(contact, `<a href="`+html.EscapeString(websiteURL(sig.Website))+`">`+html.EscapeString(sig.Website)+"</a>")
	}
	if len(contact) > 0 {
		b.WriteString("<p>" + strings.Join(contact, "<br>\n") + "</p>\n")
	}
	b.WriteString("</div>\n")
	return b.String()
}

func renderTextSignature(sig config.Signature) string {
	var blocks []string
	blocks = append(blocks, "---")
	if sig.Closing != "" {
		blocks = append(blocks, sig.Closing)
	}
	if who := joinNonEmpty("\n", sig.Name, sig.Title); who != "" {
		blocks = append(blocks, who)
	}
	contact := []string{}
	if sig.Email != "" {
		contact = append(contact, "E. "+sig.Email)
	}
	contact = append(contact, sig.AddressLines...)
	if sig.Website != "" {
		contact = append(contact, sig.Website)
	}
	if len(contact) > 0 {
		blocks = append(blocks, strings.Join(contact, "\n"))
	}
	return "\n\n" + strings.Join(blocks, "\n\n") + "\n"
}

func websiteURL(site string) string {
	if strings.HasPrefix(site, "http://") || strings.HasPrefix(site, "https://") {
		return site
	}
	return "https://" + site
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
