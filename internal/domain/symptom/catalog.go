package symptom

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
)

//go:embed catalog.json
var catalogJSON []byte

// NoMatch is the result returned when no condition's keywords appear in the
// input.
const NoMatch = "No exact match found. Please consult a health worker for a proper diagnosis."

// Condition is one catalog entry.
type Condition struct {
	Name      string   `json:"condition"`
	Symptoms  []string `json:"symptoms"`
	Diagnosis string   `json:"diagnosis"`
}

// Catalog is an ordered list of conditions. Earlier entries win when
// several match.
type Catalog struct {
	conditions []Condition
}

// DefaultCatalog parses the embedded catalog.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(catalogJSON)
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var conditions []Condition
	if err := json.Unmarshal(data, &conditions); err != nil {
		return nil, fmt.Errorf("parse symptom catalog: %w", err)
	}
	for i, c := range conditions {
		if c.Name == "" || c.Diagnosis == "" || len(c.Symptoms) == 0 {
			return nil, fmt.Errorf("symptom catalog entry %d is incomplete", i)
		}
		for j, s := range c.Symptoms {
			conditions[i].Symptoms[j] = strings.ToLower(strings.TrimSpace(s))
		}
	}
	return &Catalog{conditions: conditions}, nil
}

// Len returns the number of conditions.
func (c *Catalog) Len() int { return len(c.conditions) }

// Match returns the first condition with a keyword contained in text.
func (c *Catalog) Match(text string) (Condition, bool) {
	lower := strings.ToLower(text)
	for _, cond := range c.conditions {
		for _, s := range cond.Symptoms {
			if s != "" && strings.Contains(lower, s) {
				return cond, true
			}
		}
	}
	return Condition{}, false
}
