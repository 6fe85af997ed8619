package digest

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/Masterminds/sprig/v3"
)

// SubjectTimeLayout formats the digest timestamp in the subject line.
const SubjectTimeLayout = "2006-01-02 15:04"

var (
	//go:embed templates/digest.html
	digestTemplateRaw string

	digestTemplate = template.Must(template.New("digest").Funcs(sprig.FuncMap()).Parse(digestTemplateRaw))
)

// Message is a composed digest, ready to send.
type Message struct {
	Subject   string
	PlainBody string
	HTMLBody  string
}

type digestParams struct {
	Title       string
	GeneratedAt time.Time
	Zone        string
	Lines       []string
	Errors      int
}

// Compose builds the digest for the given log lines. The subject is
// "<prefix> - YYYY-MM-DD HH:MM".
func Compose(subjectPrefix string, lines []string, now time.Time) (Message, error) {
	subject := fmt.Sprintf("%s - %s", subjectPrefix, now.Format(SubjectTimeLayout))

	params := digestParams{
		Title:       subject,
		GeneratedAt: now,
		Zone:        now.Location().String(),
		Lines:       lines,
		Errors:      countErrors(lines),
	}
	var html bytes.Buffer
	if err := digestTemplate.Execute(&html, params); err != nil {
		return Message{}, fmt.Errorf("rendering digest: %w", err)
	}

	var plain strings.Builder
	fmt.Fprintf(&plain, "Last %d log lines as of %s:\n\n", len(lines), now.Format("2006-01-02 15:04:05"))
	for _, l := range lines {
		plain.WriteString(l)
		plain.WriteByte('\n')
	}

	return Message{Subject: subject, PlainBody: plain.String(), HTMLBody: html.String()}, nil
}

func countErrors(lines []string) int {
	n := 0
	for _, l := range lines {
		if strings.Contains(l, " - ERROR - ") {
			n++
		}
	}
	return n
}
