package mailer

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var defaultTemplates []byte

// TemplateSpec is a single email template as written in the templates file.
type TemplateSpec struct {
	Subject string `yaml:"subject" validate:"required"`
	Body    string `yaml:"body" validate:"required"`
}

type templateFile struct {
	Templates map[string]TemplateSpec `yaml:"templates" validate:"required,min=1,dive"`
}

type compiled struct {
	subject *template.Template
	body    *template.Template
}

// Templates renders named email templates.
type Templates struct {
	entries map[string]compiled
}

var validate = validator.New()

// LoadTemplates reads templates from path, or the built-in set when path is empty.
func LoadTemplates(path string) (*Templates, error) {
	data := defaultTemplates
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read templates file: %w", err)
		}
		data = raw
	}
	return ParseTemplates(data)
}

// ParseTemplates compiles a YAML templates document.
func ParseTemplates(data []byte) (*Templates, error) {
	var file templateFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse templates file: %w", err)
	}
	if err := validate.Struct(&file); err != nil {
		return nil, fmt.Errorf("templates validation failed: %w", err)
	}

	entries := make(map[string]compiled, len(file.Templates))
	for name, spec := range file.Templates {
		subject, err := template.New(name + ".subject").Option("missingkey=zero").Parse(spec.Subject)
		if err != nil {
			return nil, fmt.Errorf("template %s subject: %w", name, err)
		}
		body, err := template.New(name + ".body").Option("missingkey=zero").Parse(spec.Body)
		if err != nil {
			return nil, fmt.Errorf("template %s body: %w", name, err)
		}
		entries[name] = compiled{subject: subject, body: body}
	}
	return &Templates{entries: entries}, nil
}

// Has reports whether a template with the given name exists.
func (t *Templates) Has(name string) bool {
	_, ok := t.entries[name]
	return ok
}

// Render executes the named template against data.
func (t *Templates) Render(name string, data map[string]interface{}) (string, string, error) {
	entry, ok := t.entries[name]
	if !ok {
		return "", "", fmt.Errorf("unknown email template %q", name)
	}
	var subject, body bytes.Buffer
	if err := entry.subject.Execute(&subject, data); err != nil {
		return "", "", fmt.Errorf("render %s subject: %w", name, err)
	}
	if err := entry.body.Execute(&body, data); err != nil {
		return "", "", fmt.Errorf("render %s body: %w", name, err)
	}
	return strings.TrimSpace(subject.String()), body.String(), nil
}
