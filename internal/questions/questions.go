package questions

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Question is one business question analysts want evidence for. Focus areas
// are the analytical angles used to drive retrieval.
type Question struct {
	ID         string   `yaml:"id"`
	Text       string   `yaml:"text"`
	FocusAreas []string `yaml:"focus_areas"`
}

type file struct {
	Questions []Question `yaml:"questions"`
}

// Load reads question definitions from a YAML file and validates them.
func Load(path string) ([]Question, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read questions file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) ([]Question, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse questions yaml: %w", err)
	}
	if len(f.Questions) == 0 {
		return nil, fmt.Errorf("no questions defined")
	}

	seen := make(map[string]bool, len(f.Questions))
	for i, q := range f.Questions {
		if q.ID == "" {
			return nil, fmt.Errorf("question %d: missing id", i)
		}
		if seen[q.ID] {
			return nil, fmt.Errorf("question %q: duplicate id", q.ID)
		}
		seen[q.ID] = true
		if q.Text == "" {
			return nil, fmt.Errorf("question %q: missing text", q.ID)
		}
		if len(q.FocusAreas) == 0 {
			return nil, fmt.Errorf("question %q: no focus areas", q.ID)
		}
		for _, fa := range q.FocusAreas {
			if fa == "" {
				return nil, fmt.Errorf("question %q: empty focus area", q.ID)
			}
		}
	}
	return f.Questions, nil
}
