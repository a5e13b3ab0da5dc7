// Package definitions reads the mission and combination definitions file.
package definitions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/kasuganosora/engagebot/errs"
	"github.com/kasuganosora/engagebot/game/mission"
	"github.com/kasuganosora/engagebot/game/vault"
	"gopkg.in/yaml.v3"
)

// Mission is a mission as written in the definitions file.
type Mission struct {
	ID           string           `yaml:"id"`
	Name         string           `yaml:"name"`
	RewardPoints int64            `yaml:"reward_points"`
	Rule         mission.RuleSpec `yaml:"rule"`
}

// Combination is a vault entry as written in the definitions file.
type Combination struct {
	Code          string   `yaml:"code"`
	RequiredHints []string `yaml:"required_hints"`
	RewardCode    string   `yaml:"reward_code"`
}

// Definitions holds everything loaded from one file.
type Definitions struct {
	Missions     []Mission     `yaml:"missions"`
	Combinations []Combination `yaml:"combinations"`
}

// Load reads and parses the definitions file at path.
func Load(path string) (*Definitions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("definitions: read %s: %w", path, err)
	}
	d, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("definitions: %s: %w", path, err)
	}
	return d, nil
}

// Parse decodes definitions from YAML. Unknown fields are rejected.
func Parse(data []byte) (*Definitions, error) {
	d := &Definitions{}
	if len(bytes.TrimSpace(data)) == 0 {
		return d, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(d); err != nil {
		return nil, errs.Invalid("parse yaml: %v", err)
	}
	return d, nil
}

// Catalog compiles the mission rules into a catalog, keeping file order.
func (d *Definitions) Catalog() (*mission.StaticCatalog, error) {
	missions := make([]mission.Mission, 0, len(d.Missions))
	for _, m := range d.Missions {
		rule, err := mission.Compile(m.Rule)
		if err != nil {
			return nil, fmt.Errorf("mission %q: %w", m.ID, err)
		}
		missions = append(missions, mission.Mission{
			ID:           m.ID,
			Name:         m.Name,
			Rule:         rule,
			RewardPoints: m.RewardPoints,
		})
	}
	return mission.NewStaticCatalog(missions...)
}

// Seed adds the combinations to the vault. Codes already present are left
// alone, so seeding twice is harmless. It returns how many entries were added.
func (d *Definitions) Seed(ctx context.Context, v *vault.Vault) (int, error) {
	added := 0
	for _, c := range d.Combinations {
		_, err := v.AddEntry(ctx, c.Code, c.RequiredHints, c.RewardCode)
		switch {
		case err == nil:
			added++
		case errors.Is(err, errs.ErrDuplicateCode):
		default:
			return added, fmt.Errorf("combination %q: %w", c.Code, err)
		}
	}
	return added, nil
}
