package mail

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/telekom/bulkmail/pkg/config"
)

var testSignature = config.Signature{
	Closing:      "Best regards,",
	Name:         "Jane Roe",
	Title:        "Administrator",
	Email:        "jane@example.com",
	AddressLines: []string{"Main St. 2A", "12345 Springfield"},
	Website:      "example.com",
}

func TestRenderSignatureEmpty(t *testing.T) {
	assert.Equal(t, "", RenderSignature(config.Signature{}, true))
	assert.Equal(t, "", RenderSignature(config.Signature{}, false))
}

func TestRenderSignatureHTML(t *testing.T) {
	got := RenderSignature(testSignature, true)

	assert.True(t, strings.HasPrefix(got, "\n<br><br>"))
	assert.Contains(t, got, "<p>---</p>")
	assert.Contains(t, got, "<strong>Jane Roe</strong><br>\nAdministrator")
	assert.Contains(t, got, "E. jane@example.com<br>\nMain St. 2A<br>\n12345 Springfield")
	assert.Contains(t, got, `<a href="https://example.com">example.com</a>`)
	assert.True(t, strings.HasSuffix(got, "</div>\n"))
}

func TestRenderSignatureHTMLEscapesValues(t *testing.T) {
	got := RenderSignature(config.Signature{Name: `<script>alert("x")</script>`}, true)
	assert.NotContains(t, got, "<script>")
	assert.Contains(t, got, "&lt;script&gt;")
}

func TestRenderSignaturePlain(t *testing.T) {
	got := RenderSignature(testSignature, false)
	want := "\n\n---\n\nBest regards,\n\nJane Roe\nAdministrator\n\nE. jane@example.com\nMain St. 2A\n12345 Springfield\nexample.com\n"
	assert.Equal(t, want, got)
}

func TestRenderSignatureIsPure(t *testing.T) {
	assert.Equal(t, RenderSignature(testSignature, true), RenderSignature(testSignature, true))
	assert.Equal(t, RenderSignature(testSignature, false), RenderSignature(testSignature, false))
}

func TestWebsiteURLKeepsScheme(t *testing.T) {
	assert.Equal(t, "http://example.com", websiteURL("http://example.com"))
	assert.Equal(t, "https://example.com", websiteURL("example.com"))
}
