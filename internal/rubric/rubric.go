// Package rubric holds the static scoring catalogs: weighted groups of
// checklist items scored all-or-nothing.
//
// A Rubric is configuration. It is validated once when loaded and must not be
// mutated afterwards; the same value is shared by every concurrent evaluation.
package rubric

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrInvalidRubric marks configuration defects detected at load time.
var ErrInvalidRubric = errors.New("invalid rubric")

type Scale string

const (
	ScalePoints  Scale = "points"
	ScalePercent Scale = "percent"
)

const weightTolerance = 1e-9

type Rubric struct {
	ID          string                 `yaml:"id" json:"id"`
	Name        string                 `yaml:"name" json:"name"`
	Version     string                 `yaml:"version" json:"version"`
	Scale       Scale                  `yaml:"scale" json:"scale"`
	MaxScore    float64                `yaml:"max_score" json:"max_score"`
	Guidance    string                 `yaml:"guidance" json:"guidance,omitempty"`
	Groups      []Group                `yaml:"groups" json:"groups"`
	Eliminatory []EliminatoryCriterion `yaml:"eliminatory" json:"eliminatory,omitempty"`
}

type Group struct {
	ID          string  `yaml:"id" json:"id"`
	Name        string  `yaml:"name" json:"name"`
	GroupWeight float64 `yaml:"weight" json:"weight"`
	// Inverted groups monitor a single undesired action: the group passes
	// when the judge answers that the action did not happen.
	Inverted bool   `yaml:"inverted" json:"inverted,omitempty"`
	Items    []Item `yaml:"items" json:"items"`
}

type Item struct {
	ID          string  `yaml:"id" json:"id"`
	Description string  `yaml:"description" json:"description"`
	Weight      float64 `yaml:"weight" json:"weight"`
	GroupID     string  `yaml:"-" json:"group_id"`
}

// EliminatoryCriterion is a red-flag condition reported next to the score.
// It never changes the numeric result.
type EliminatoryCriterion struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

// Validate checks the structural invariants of the rubric and fills the
// item back-references. Every failure wraps ErrInvalidRubric.
func (r *Rubric) Validate() error {
	r.ID = strings.TrimSpace(r.ID)
	if r.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidRubric)
	}
	switch r.Scale {
	case "":
		r.Scale = ScalePoints
	case ScalePoints, ScalePercent:
	default:
		return fmt.Errorf("%w: rubric %q has unknown scale %q", ErrInvalidRubric, r.ID, r.Scale)
	}
	if len(r.Groups) == 0 {
		return fmt.Errorf("%w: rubric %q has no groups", ErrInvalidRubric, r.ID)
	}
	if r.MaxScore <= 0 {
		return fmt.Errorf("%w: rubric %q max_score must be positive, got %v", ErrInvalidRubric, r.ID, r.MaxScore)
	}
	if r.Scale == ScalePercent && math.Abs(r.MaxScore-100) > weightTolerance {
		return fmt.Errorf("%w: percent rubric %q must declare max_score 100, got %v", ErrInvalidRubric, r.ID, r.MaxScore)
	}

	// Uniqueness is checked on canonical forms: two ids the judge output
	// cannot tell apart would bind to the same response entry.
	groupIDs := make(map[string]string, len(r.Groups))
	groupNames := make(map[string]string, len(r.Groups))
	itemIDs := make(map[string]string)
	sum := 0.0
	for gi := range r.Groups {
		g := &r.Groups[gi]
		g.ID = strings.TrimSpace(g.ID)
		if g.ID == "" {
			return fmt.Errorf("%w: rubric %q group #%d has no id", ErrInvalidRubric, r.ID, gi+1)
		}
		if prev, dup := groupIDs[CanonicalID(g.ID)]; dup {
			return fmt.Errorf("%w: rubric %q group ids %q and %q collide", ErrInvalidRubric, r.ID, prev, g.ID)
		}
		groupIDs[CanonicalID(g.ID)] = g.ID
		if strings.TrimSpace(g.Name) == "" {
			g.Name = g.ID
		}
		if prev, dup := groupNames[CanonicalName(g.Name)]; dup {
			return fmt.Errorf("%w: rubric %q groups %q and %q share the name %q", ErrInvalidRubric, r.ID, prev, g.ID, g.Name)
		}
		groupNames[CanonicalName(g.Name)] = g.ID
		if g.GroupWeight <= 0 {
			return fmt.Errorf("%w: rubric %q group %q weight must be positive, got %v", ErrInvalidRubric, r.ID, g.ID, g.GroupWeight)
		}
		if len(g.Items) == 0 {
			return fmt.Errorf("%w: rubric %q group %q has no items", ErrInvalidRubric, r.ID, g.ID)
		}
		if g.Inverted && len(g.Items) != 1 {
			return fmt.Errorf("%w: rubric %q inverted group %q must monitor exactly one item, has %d", ErrInvalidRubric, r.ID, g.ID, len(g.Items))
		}
		for ii := range g.Items {
			it := &g.Items[ii]
			it.ID = strings.TrimSpace(it.ID)
			if it.ID == "" {
				return fmt.Errorf("%w: rubric %q group %q item #%d has no id", ErrInvalidRubric, r.ID, g.ID, ii+1)
			}
			if owner, dup := itemIDs[CanonicalID(it.ID)]; dup {
				return fmt.Errorf("%w: rubric %q item id %q collides with an item of group %q", ErrInvalidRubric, r.ID, it.ID, owner)
			}
			itemIDs[CanonicalID(it.ID)] = g.ID
			if it.Weight <= 0 {
				return fmt.Errorf("%w: rubric %q item %q weight must be positive, got %v", ErrInvalidRubric, r.ID, it.ID, it.Weight)
			}
			it.GroupID = g.ID
		}
		sum += g.GroupWeight
	}
	if math.Abs(sum-r.MaxScore) > weightTolerance {
		return fmt.Errorf("%w: rubric %q group weights sum to %v, declared max_score is %v", ErrInvalidRubric, r.ID, sum, r.MaxScore)
	}

	seen := make(map[string]string, len(r.Eliminatory))
	seenNames := make(map[string]string, len(r.Eliminatory))
	for i := range r.Eliminatory {
		c := &r.Eliminatory[i]
		c.ID = strings.TrimSpace(c.ID)
		if c.ID == "" {
			return fmt.Errorf("%w: rubric %q eliminatory criterion #%d has no id", ErrInvalidRubric, r.ID, i+1)
		}
		if prev, dup := seen[CanonicalID(c.ID)]; dup {
			return fmt.Errorf("%w: rubric %q eliminatory criteria %q and %q collide", ErrInvalidRubric, r.ID, prev, c.ID)
		}
		seen[CanonicalID(c.ID)] = c.ID
		if strings.TrimSpace(c.Name) == "" {
			c.Name = c.ID
		}
		if prev, dup := seenNames[CanonicalName(c.Name)]; dup {
			return fmt.Errorf("%w: rubric %q eliminatory criteria %q and %q share the name %q", ErrInvalidRubric, r.ID, prev, c.ID, c.Name)
		}
		seenNames[CanonicalName(c.Name)] = c.ID
	}
	return nil
}

func (r *Rubric) Group(id string) (Group, bool) {
	for _, g := range r.Groups {
		if g.ID == id {
			return g, true
		}
	}
	return Group{}, false
}

func (r *Rubric) ItemCount() int {
	n := 0
	for _, g := range r.Groups {
		n += len(g.Items)
	}
	return n
}

// Unit is the label used when printing weights of this rubric.
func (r *Rubric) Unit() string {
	if r.Scale == ScalePercent {
		return "%"
	}
	return "pts"
}
