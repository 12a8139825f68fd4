// Package camera holds the catalog of camera movements a scene can use.
package camera

import (
	_ "embed"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Defaults for new scenes.
const (
	DefaultMovement = "static"
	DefaultTier     = "basic"
)

var (
	ErrUnknownTier     = errors.New("unknown camera tier")
	ErrUnknownMovement = errors.New("unknown camera movement")
)

// Movement is one camera movement.
type Movement struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
}

// Tier groups movements.
type Tier struct {
	Name      string     `yaml:"name" json:"name"`
	Movements []Movement `yaml:"movements" json:"movements"`
}

// Catalog indexes movements by tier.
type Catalog struct {
	Tiers []Tier `yaml:"tiers" json:"tiers"`

	byTier map[string]map[string]Movement
}

// Parse reads a catalog from YAML.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse camera catalog: %w", err)
	}
	c.byTier = make(map[string]map[string]Movement, len(c.Tiers))
	for _, t := range c.Tiers {
		if t.Name == "" {
			return nil, errors.New("camera catalog: tier without name")
		}
		moves := make(map[string]Movement, len(t.Movements))
		for _, m := range t.Movements {
			moves[m.ID] = m
		}
		c.byTier[t.Name] = moves
	}
	return &c, nil
}

// Default returns the embedded catalog.
func Default() *Catalog {
	c, err := Parse(catalogYAML)
	if err != nil {
		panic(err)
	}
	return c
}

// Validate checks that movement belongs to tier.
func (c *Catalog) Validate(movement, tier string) error {
	moves, ok := c.byTier[tier]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}
	if _, ok := moves[movement]; !ok {
		return fmt.Errorf("%w: %q is not a %s movement", ErrUnknownMovement, movement, tier)
	}
	return nil
}

// Lookup returns the movement with the given id and its tier.
func (c *Catalog) Lookup(movement string) (Movement, string, bool) {
	for _, t := range c.Tiers {
		if m, ok := c.byTier[t.Name][movement]; ok {
			return m, t.Name, true
		}
	}
	return Movement{}, "", false
}
