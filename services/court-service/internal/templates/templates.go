// Package templates holds reusable pricing rule sets.
package templates

import (
	_ "embed"
	"fmt"

	"github.com/hoaht-8203/courtops/libs/dates"
	"github.com/hoaht-8203/courtops/services/court-service/internal/pricing"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Template struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Rules       []pricing.Rule `json:"rules"`
}

type yamlRule struct {
	DaysOfWeek   []int  `yaml:"days_of_week"`
	StartTime    string `yaml:"start_time"`
	EndTime      string `yaml:"end_time"`
	PricePerHour string `yaml:"price_per_hour"`
	Order        int    `yaml:"order"`
}

type yamlFile struct {
	Templates []struct {
		Name        string     `yaml:"name"`
		Description string     `yaml:"description"`
		Rules       []yamlRule `yaml:"rules"`
	} `yaml:"templates"`
}

// Defaults returns the built-in templates seeded into an empty table.
func Defaults() ([]Template, error) {
	return Parse(defaultsYAML)
}

func Parse(raw []byte) ([]Template, error) {
	var f yamlFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse pricing templates: %w", err)
	}
	out := make([]Template, 0, len(f.Templates))
	for _, t := range f.Templates {
		rules := make([]pricing.Rule, 0, len(t.Rules))
		for _, r := range t.Rules {
			start, err := dates.ParseClock(r.StartTime)
			if err != nil {
				return nil, fmt.Errorf("template %q: %w", t.Name, err)
			}
			end, err := dates.ParseClock(r.EndTime)
			if err != nil {
				return nil, fmt.Errorf("template %q: %w", t.Name, err)
			}
			price, err := decimal.NewFromString(r.PricePerHour)
			if err != nil {
				return nil, fmt.Errorf("template %q: invalid price %q", t.Name, r.PricePerHour)
			}
			rules = append(rules, pricing.Rule{
				DaysOfWeek:   r.DaysOfWeek,
				StartTime:    start,
				EndTime:      end,
				PricePerHour: price,
				Order:        r.Order,
			})
		}
		rules, err := pricing.NormalizeRules(rules)
		if err != nil {
			return nil, fmt.Errorf("template %q: %w", t.Name, err)
		}
		out = append(out, Template{Name: t.Name, Description: t.Description, Rules: rules})
	}
	return out, nil
}
