package manifest

import "fmt"

// Placeholder is one template variable occurrence in a URL template.
// Two forms are accepted: {var} and ${VAR}.
type Placeholder struct {
	Name  string
	Start int // byte offset of the opening brace (or '$')
	End   int // byte offset one past the closing brace
}

// TemplateVars scans a URL template and returns its placeholders in
// order of appearance. Nested or unclosed braces are an error.
func TemplateVars(template string) ([]Placeholder, error) {
	var out []Placeholder
	for i := 0; i < len(template); i++ {
		switch template[i] {
		case '$':
			if i+1 < len(template) && template[i+1] == '{' {
				name, end, err := scanBraced(template, i+1)
				if err != nil {
					return nil, err
				}
				out = append(out, Placeholder{Name: name, Start: i, End: end})
				i = end - 1
			}
		case '{':
			name, end, err := scanBraced(template, i)
			if err != nil {
				return nil, err
			}
			out = append(out, Placeholder{Name: name, Start: i, End: end})
			i = end - 1
		case '}':
			return nil, fmt.Errorf("unmatched '}' at offset %d in template %q", i, template)
		}
	}
	return out, nil
}

// scanBraced reads a {name} starting at the opening brace.
func scanBraced(template string, open int) (string, int, error) {
	for j := open + 1; j < len(template); j++ {
		switch template[j] {
		case '{':
			return "", 0, fmt.Errorf("nested '{' at offset %d in template %q", j, template)
		case '}':
			if j == open+1 {
				return "", 0, fmt.Errorf("empty placeholder at offset %d in template %q", open, template)
			}
			return template[open+1 : j], j + 1, nil
		}
	}
	return "", 0, fmt.Errorf("unclosed '{' at offset %d in template %q", open, template)
}
