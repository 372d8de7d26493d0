package template

import "strings"

// Rendered is the outcome of filling a template. A non-empty
// MissingVariables means the caller must not dispatch; rendering itself
// never fails.
type Rendered struct {
	Subject          string
	Body             string
	MissingVariables []string
}

// Render substitutes variables into the template's subject and body.
// Declared variables absent from the input fall back to their default when
// one exists; required variables without a value or default are reported in
// MissingVariables. Placeholders with no matching declared variable are
// left verbatim.
func Render(t *Template, variables map[string]string) Rendered {
	resolved := make(map[string]string, len(variables)+len(t.Variables))
	for name, value := range variables {
		resolved[name] = value
	}

	var missing []string
	for _, v := range t.Variables {
		if _, ok := resolved[v.Name]; ok {
			continue
		}
		if v.DefaultValue != nil {
			resolved[v.Name] = *v.DefaultValue
			continue
		}
		if v.Required {
			missing = append(missing, v.Name)
		}
	}

	subject := t.Subject
	body := t.Body
	for name, value := range resolved {
		placeholder := "{{" + name + "}}"
		subject = strings.ReplaceAll(subject, placeholder, value)
		body = strings.ReplaceAll(body, placeholder, value)
	}

	return Rendered{Subject: subject, Body: body, MissingVariables: missing}
}
