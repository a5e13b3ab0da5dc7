package mission

import (
	"context"
	"strings"

	"github.com/kasuganosora/engagebot/errs"
	"github.com/kasuganosora/engagebot/model"
)

// Mission is a named goal with a completion rule and a point reward.
type Mission struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Rule         Rule   `json:"-"`
	RewardPoints int64  `json:"reward_points"`
}

// Catalog supplies mission definitions in a stable order.
type Catalog interface {
	Missions(ctx context.Context) ([]Mission, error)
	Mission(ctx context.Context, id string) (Mission, error)
}

// StaticCatalog is an immutable, in-memory Catalog.
type StaticCatalog struct {
	missions []Mission
	byID     map[string]int
}

// NewStaticCatalog validates and indexes missions. Their order is kept.
func NewStaticCatalog(missions ...Mission) (*StaticCatalog, error) {
	c := &StaticCatalog{byID: make(map[string]int, len(missions))}
	for _, m := range missions {
		m.ID = strings.TrimSpace(m.ID)
		switch {
		case m.ID == "":
			return nil, errs.Invalid("mission id is required")
		case m.Rule == nil:
			return nil, errs.Invalid("mission %q has no completion rule", m.ID)
		case m.RewardPoints < 0:
			return nil, errs.Invalid("mission %q has negative reward", m.ID)
		case model.KeyTooLong(m.ID):
			return nil, errs.Invalid("mission id exceeds %d characters", model.MaxKeyLen)
		}
		if _, dup := c.byID[m.ID]; dup {
			return nil, errs.Invalid("mission %q defined twice", m.ID)
		}
		c.byID[m.ID] = len(c.missions)
		c.missions = append(c.missions, m)
	}
	return c, nil
}

func (c *StaticCatalog) Missions(context.Context) ([]Mission, error) {
	return append([]Mission(nil), c.missions...), nil
}

func (c *StaticCatalog) Mission(_ context.Context, id string) (Mission, error) {
	i, ok := c.byID[id]
	if !ok {
		return Mission{}, errs.ErrNotFound
	}
	return c.missions[i], nil
}
