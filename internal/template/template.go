package template

// Template is a message template with {{variable}} placeholders
type Template struct {
	Subject string `json:"subject"`
	HTML    string `json:"html,omitempty"`
	Text    string `json:"text,omitempty"`
}

// RenderResult contains rendered template output
type RenderResult struct {
	Subject string `json:"subject"`
	HTML    string `json:"html,omitempty"`
	Text    string `json:"text,omitempty"`
}

// Vars holds template variable values keyed by name
type Vars map[string]string

// Merge returns a copy of v overlaid with the given maps, later maps win
func (v Vars) Merge(others ...Vars) Vars {
	out := make(Vars, len(v))
	for k, val := range v {
		out[k] = val
	}
	for _, o := range others {
		for k, val := range o {
			out[k] = val
		}
	}
	return out
}
