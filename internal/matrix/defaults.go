package matrix

import (
	"github.com/weflora/planning-core/internal/pointer"
)

// BaseColumns are always present in a species selection matrix.
func BaseColumns() []Column {
	return []Column{
		{ID: "species", Label: "Species", Kind: KindBase, Datatype: "string", Why: "Scientific name of the candidate."},
		{ID: "common_name", Label: "Common name", Kind: KindBase, Datatype: "string", Why: "Name used by the nursery and the public."},
		{ID: "site_fit", Label: "Site fit", Kind: KindBase, Datatype: "number", Why: "How well tolerances match the confirmed site conditions."},
		{ID: "score", Label: "Score", Kind: KindBase, Datatype: "number", Why: "Overall ranking score."},
	}
}

func defined(ptr string) func(pointer.Value) bool {
	return func(doc pointer.Value) bool { return !pointer.Get(doc, ptr).IsEmpty() }
}

func isTrue(ptr string) func(pointer.Value) bool {
	return func(doc pointer.Value) bool {
		b, ok := pointer.Get(doc, ptr).AsBool()
		return ok && b
	}
}

// DefaultRules add columns as the site context fills in.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:       "height-limit",
			When:     defined("/context/species/max_height"),
			Priority: 5,
			Columns: []Column{{ID: "mature_height", Label: "Mature height (m)", Kind: KindRule, Datatype: "number",
				Why: "A maximum tree height was set for the site."}},
		},
		{
			ID:       "salt-exposure",
			When:     isTrue("/context/site/salt_exposure"),
			Priority: 10,
			Columns: []Column{{ID: "salt_tolerance", Label: "Salt tolerance", Kind: KindRule, Datatype: "string",
				Why: "The planting pit receives de-icing salt."}},
		},
		{
			ID:       "regulatory",
			When:     defined("/context/regulatory/setting"),
			Priority: 15,
			Columns: []Column{{ID: "regulatory_fit", Label: "Regulatory fit", Kind: KindRule, Datatype: "string",
				Why: "A regulatory setting constrains the allowed species."}},
		},
		{
			ID:       "soil-ph",
			When:     defined("/context/site/soil/ph"),
			Priority: 20,
			Columns: []Column{{ID: "ph_range", Label: "pH range", Kind: KindRule, Datatype: "string",
				Why: "Soil pH was measured."}},
		},
		{
			ID:       "native",
			When:     isTrue("/context/species/native_preference"),
			Priority: 30,
			Columns: []Column{{ID: "native", Label: "Native", Kind: KindRule, Datatype: "boolean",
				Why: "Native species are preferred."}},
		},
		{
			ID:       "supply",
			When:     defined("/context/supply/availability"),
			Priority: 40,
			Columns: []Column{{ID: "availability", Label: "Availability", Kind: KindRule, Datatype: "string",
				Why: "Nursery stock was checked.", SkillID: "supply-check"}},
		},
	}
}
