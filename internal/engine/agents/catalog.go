package agents

import (
	_ "embed"
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/weflora/planning-core/internal/apperr"
)

//go:embed species.yaml
var speciesYAML []byte

// #region catalog
// Species is one profile of the species catalog.
type Species struct {
	Code                string   `yaml:"code"`
	Genus               string   `yaml:"genus"`
	Species             string   `yaml:"species"`
	CommonName          string   `yaml:"common_name"`
	Family              string   `yaml:"family"`
	MatureHeight        float64  `yaml:"mature_height"`
	Soils               []string `yaml:"soils"`
	Light               []string `yaml:"light"`
	Moisture            []string `yaml:"moisture"`
	CompactionTolerance string   `yaml:"compaction_tolerance"`
	SaltTolerance       string   `yaml:"salt_tolerance"`
	PHMin               float64  `yaml:"ph_min"`
	PHMax               float64  `yaml:"ph_max"`
	Native              bool     `yaml:"native"`
	Regions             []string `yaml:"regions"`
	Tags                []string `yaml:"tags"`
}

func (s Species) ID() string   { return strings.ToLower(s.Code) }
func (s Species) Name() string { return s.Genus + " " + s.Species }

type Catalog struct {
	species []Species
	byID    map[string]Species
}

// LoadCatalog parses a species catalog. Codes must be unique.
func LoadCatalog(data []byte) (*Catalog, error) {
	var f struct {
		Species []Species `yaml:"species"`
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse species catalog: %w", err)
	}
	c := &Catalog{species: f.Species, byID: make(map[string]Species, len(f.Species))}
	for _, s := range f.Species {
		if s.Code == "" || s.Genus == "" {
			return nil, apperr.Validation("species entry needs a code and a genus")
		}
		if _, dup := c.byID[s.ID()]; dup {
			return nil, apperr.Validation("duplicate species code %s", s.Code)
		}
		c.byID[s.ID()] = s
	}
	return c, nil
}

// DefaultCatalog is the embedded species catalog.
func DefaultCatalog() *Catalog {
	c, err := LoadCatalog(speciesYAML)
	if err != nil {
		panic(fmt.Sprintf("agents: embedded species catalog invalid: %v", err))
	}
	return c
}

func (c *Catalog) All() []Species { return slices.Clone(c.species) }

func (c *Catalog) Lookup(id string) (Species, bool) {
	s, ok := c.byID[strings.ToLower(id)]
	return s, ok
}

// #endregion catalog
