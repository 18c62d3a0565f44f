package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"fusse/internal/model"
)

// TableConfig represents a single dining table.
type TableConfig struct {
	Number   int   `yaml:"number"`
	Capacity int   `yaml:"capacity"`
	IsActive *bool `yaml:"is_active,omitempty"` // defaults to true
}

// TableGroupConfig declares a run of identical tables, e.g. numbers 1-10 seating 2.
type TableGroupConfig struct {
	From     int `yaml:"from"`
	To       int `yaml:"to"`
	Capacity int `yaml:"capacity"`
}

// TablesConfig is the root configuration for tables.yaml.
type TablesConfig struct {
	Tables []TableConfig      `yaml:"tables"`
	Groups []TableGroupConfig `yaml:"groups"`
}

// LoadTablesConfig loads and validates the table inventory from YAML file.
func LoadTablesConfig(path string) (*TablesConfig, error) {
	if path == "" {
		path = "configs/tables.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tables config: %w", err)
	}

	var cfg TablesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse tables config: %w", err)
	}

	cfg.expandGroups()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate tables config: %w", err)
	}

	return &cfg, nil
}

func (c *TablesConfig) expandGroups() {
	for _, g := range c.Groups {
		for n := g.From; n <= g.To; n++ {
			c.Tables = append(c.Tables, TableConfig{Number: n, Capacity: g.Capacity})
		}
	}
	c.Groups = nil
}

// Validate checks the configuration for errors.
func (c *TablesConfig) Validate() error {
	if len(c.Tables) == 0 {
		return fmt.Errorf("no tables defined")
	}

	numbers := make(map[int]bool)
	for i, t := range c.Tables {
		if t.Number <= 0 {
			return fmt.Errorf("table[%d]: number must be positive, got %d", i, t.Number)
		}
		if numbers[t.Number] {
			return fmt.Errorf("table[%d]: duplicate number %d", i, t.Number)
		}
		numbers[t.Number] = true

		if t.Capacity < 1 {
			return fmt.Errorf("table[%d]: capacity must be at least 1, got %d", i, t.Capacity)
		}
	}

	return nil
}

// Inventory converts the configuration to domain tables ordered by number.
func (c *TablesConfig) Inventory() []model.Table {
	out := make([]model.Table, 0, len(c.Tables))
	for _, t := range c.Tables {
		active := true
		if t.IsActive != nil {
			active = *t.IsActive
		}
		out = append(out, model.Table{Number: t.Number, Capacity: t.Capacity, IsActive: active})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// String returns a summary of the configuration.
func (c *TablesConfig) String() string {
	active, seats := 0, 0
	for _, t := range c.Inventory() {
		if t.IsActive {
			active++
			seats += t.Capacity
		}
	}
	return fmt.Sprintf("TablesConfig: %d tables (%d active, %d seats)", len(c.Tables), active, seats)
}
