package ledger

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed types.yaml
var typesYAML []byte

type yamlTypes struct {
	CashflowTypes []struct {
		Code        string `yaml:"code"`
		Name        string `yaml:"name"`
		IsPayment   bool   `yaml:"is_payment"`
		Description string `yaml:"description"`
	} `yaml:"cashflow_types"`
}

// DefaultTypes returns the built-in cashflow types seeded on start.
func DefaultTypes() ([]CashflowType, error) {
	return ParseTypes(typesYAML)
}

func ParseTypes(raw []byte) ([]CashflowType, error) {
	var f yamlTypes
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse cashflow types: %w", err)
	}
	seen := make(map[string]bool, len(f.CashflowTypes))
	out := make([]CashflowType, 0, len(f.CashflowTypes))
	for _, y := range f.CashflowTypes {
		t := CashflowType{Code: y.Code, Name: y.Name, IsPayment: y.IsPayment, Description: y.Description}
		if err := t.Normalize(); err != nil {
			return nil, fmt.Errorf("cashflow type %q: %w", y.Code, err)
		}
		if seen[t.Code] {
			return nil, fmt.Errorf("cashflow type %q listed twice", t.Code)
		}
		seen[t.Code] = true
		out = append(out, t)
	}
	return out, nil
}
