package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rules holds the tunable heuristics of the classification and extraction
// stages. Defaults apply when RULES_PATH is empty.
type Rules struct {
	Operator       OperatorRules       `yaml:"operator"`
	Classification ClassificationRules `yaml:"classification"`
}

type OperatorRules struct {
	Name  string `yaml:"name"`
	TaxID string `yaml:"oib"`
}

type ClassificationRules struct {
	// TieThreshold is the URA/IRA score gap under which the tie-break runs.
	TieThreshold float64 `yaml:"tie_threshold"`
	// PositionLines is how many leading lines the position heuristic inspects.
	PositionLines   int                 `yaml:"position_lines"`
	ContractPattern string              `yaml:"contract_pattern"`
	BuyerKeywords   []string            `yaml:"buyer_keywords"`
	SellerKeywords  []string            `yaml:"seller_keywords"`
	LabelMap        map[string]string   `yaml:"label_map"`
	CandidateLabels []string            `yaml:"candidate_labels"`
	LabelExamples   map[string][]string `yaml:"label_examples"`
	AdjacencyWindow int                 `yaml:"adjacency_window"`
}

func DefaultRules() Rules {
	return Rules{
		Classification: ClassificationRules{
			TieThreshold:    0.07,
			PositionLines:   10,
			ContractPattern: `(?i)\b(ugovor[a-z]*|aneks ugovora|contract|agreement)\b`,
			BuyerKeywords:   []string{"kupac", "primatelj", "naručitelj", "buyer", "recipient", "bill to"},
			SellerKeywords:  []string{"prodavatelj", "dobavljač", "izdavatelj", "isporučitelj", "seller", "sender", "supplier", "vendor"},
			LabelMap: map[string]string{
				"0":            "URA",
				"1":            "IRA",
				"2":            "OSTALO",
				"email-prilog": "OSTALO",
				"incoming":     "URA",
				"outgoing":     "IRA",
			},
			CandidateLabels: []string{"IZVOD", "UGOVOR", "URA", "IRA", "OSTALO"},
			AdjacencyWindow: 1,
		},
	}
}

// LoadRules reads the YAML rules file at path over the defaults. An empty
// path returns the defaults unchanged.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	if strings.TrimSpace(path) == "" {
		return rules, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read rules file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &rules); err != nil {
		return Rules{}, fmt.Errorf("parse rules file: %w", err)
	}
	if err := rules.validate(); err != nil {
		return Rules{}, err
	}
	return rules, nil
}

// WithOperator fills the operator identity from env configuration unless
// the rules file already names one.
func (r Rules) WithOperator(name, taxID string) Rules {
	if strings.TrimSpace(r.Operator.Name) == "" {
		r.Operator.Name = strings.TrimSpace(name)
	}
	if strings.TrimSpace(r.Operator.TaxID) == "" {
		r.Operator.TaxID = strings.TrimSpace(taxID)
	}
	return r
}

func (r Rules) validate() error {
	c := r.Classification
	if c.TieThreshold < 0 || c.TieThreshold > 1 {
		return fmt.Errorf("classification.tie_threshold must be within [0,1], got %v", c.TieThreshold)
	}
	if c.PositionLines <= 0 {
		return fmt.Errorf("classification.position_lines must be positive, got %d", c.PositionLines)
	}
	if c.AdjacencyWindow < 0 {
		return fmt.Errorf("classification.adjacency_window must not be negative, got %d", c.AdjacencyWindow)
	}
	return nil
}
