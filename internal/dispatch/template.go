package dispatch

import (
	"bytes"
	"fmt"
	htmlTemplate "html/template"
	textTemplate "text/template"
)

// TemplateDef is one configurable message template.
type TemplateDef struct {
	Subject string
	Text    string
	HTML    string
}

// TemplateFormatter renders templates with Go template syntax. It is the
// built-in Formatter; an external rendering service can replace it behind
// the same interface.
type TemplateFormatter struct {
	templates map[string]TemplateDef
}

// NewTemplateFormatter builds a formatter and validates every template
// up front.
func NewTemplateFormatter(templates map[string]TemplateDef) (*TemplateFormatter, error) {
	for id, def := range templates {
		if def.Subject == "" && def.Text == "" && def.HTML == "" {
			return nil, fmt.Errorf("template %q is empty", id)
		}
		if _, err := textTemplate.New(id).Parse(def.Subject); err != nil {
			return nil, fmt.Errorf("invalid subject template %q: %w", id, err)
		}
		if _, err := textTemplate.New(id).Parse(def.Text); err != nil {
			return nil, fmt.Errorf("invalid text template %q: %w", id, err)
		}
		if _, err := htmlTemplate.New(id).Parse(def.HTML); err != nil {
			return nil, fmt.Errorf("invalid html template %q: %w", id, err)
		}
	}
	return &TemplateFormatter{templates: templates}, nil
}

// Format renders the template with the recipient's name and referral link.
func (f *TemplateFormatter) Format(templateID, recipientName, referralLink string) (Content, error) {
	def, ok := f.templates[templateID]
	if !ok {
		return Content{}, fmt.Errorf("unknown template %q", templateID)
	}

	data := map[string]any{
		"Name":         recipientName,
		"ReferralLink": referralLink,
	}

	subject, err := renderText(templateID+":subject", def.Subject, data)
	if err != nil {
		return Content{}, fmt.Errorf("failed to render subject: %w", err)
	}
	text, err := renderText(templateID+":text", def.Text, data)
	if err != nil {
		return Content{}, fmt.Errorf("failed to render text: %w", err)
	}
	html, err := renderHTML(templateID+":html", def.HTML, data)
	if err != nil {
		return Content{}, fmt.Errorf("failed to render html: %w", err)
	}

	return Content{Subject: subject, Text: text, HTML: html}, nil
}

func renderText(name, tmplStr string, data map[string]any) (string, error) {
	if tmplStr == "" {
		return "", nil
	}
	t, err := textTemplate.New(name).Parse(tmplStr)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func renderHTML(name, tmplStr string, data map[string]any) (string, error) {
	if tmplStr == "" {
		return "", nil
	}
	t, err := htmlTemplate.New(name).Parse(tmplStr)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// DefaultTemplates returns the built-in template set matching the default
// step registry plus the escalation follow-up.
func DefaultTemplates() map[string]TemplateDef {
	return map[string]TemplateDef{
		"initial_invite": {
			Subject: "{{.Name}}, an invitation for you",
			Text:    "Hi {{.Name}},\n\nWe'd love to have you on board.{{if .ReferralLink}}\n\nJoin here: {{.ReferralLink}}{{end}}\n",
		},
		"reminder_1": {
			Subject: "Still thinking it over, {{.Name}}?",
			Text:    "Hi {{.Name}},\n\nJust a quick nudge about our invitation.{{if .ReferralLink}}\n\n{{.ReferralLink}}{{end}}\n",
		},
		"reminder_2": {
			Subject: "A few spots left",
			Text:    "Hi {{.Name}},\n\nWe're holding a spot for you.{{if .ReferralLink}}\n\n{{.ReferralLink}}{{end}}\n",
		},
		"final_nudge": {
			Subject: "Last call, {{.Name}}",
			Text:    "Hi {{.Name}},\n\nThis is our last note about the invitation.{{if .ReferralLink}}\n\n{{.ReferralLink}}{{end}}\n",
		},
		"whatsapp_follow_up": {
			Text: "Hi {{.Name}}, following up on the email we sent you.{{if .ReferralLink}} {{.ReferralLink}}{{end}}",
		},
	}
}
