package render

import (
	"fmt"
	"strings"
	"text/template"

	"MailBlast/internal/models"
)

// RenderError reports a per-recipient rendering failure. It is recorded
// against the recipient, it is not fatal to the job.
type RenderError struct {
	Template  string
	Recipient string
	Err       error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s for %s: %v", e.Template, e.Recipient, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// Template is a compiled email body. The placeholder vocabulary is fixed:
// {{.first_name}} and {{.email}}. Any other reference fails the render for
// that recipient instead of silently producing a blank.
type Template struct {
	name string
	tmpl *template.Template
}

// Compile parses the template source once per job. The renderer performs
// plain text substitution: HTML escaping is the template author's
// responsibility.
func Compile(name, src string) (*Template, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("compile template %s: %w", name, err)
	}
	return &Template{name: name, tmpl: tmpl}, nil
}

// Render produces the personalized body for one recipient.
func (t *Template) Render(rc models.Recipient) (string, error) {
	data := map[string]string{
		"first_name": rc.FirstName,
		"email":      rc.Email,
	}

	var body strings.Builder
	if err := t.tmpl.Execute(&body, data); err != nil {
		return "", &RenderError{Template: t.name, Recipient: rc.Email, Err: err}
	}
	return body.String(), nil
}
