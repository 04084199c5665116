package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/weflora/planning-core/internal/engine"
	"github.com/weflora/planning-core/internal/graph"
	"github.com/weflora/planning-core/internal/pointer"
)

// #region site-assessment
// assessSite summarizes the site and lists the stress factors planting has
// to tolerate.
func assessSite(_ context.Context, in engine.AgentInput) (engine.AgentOutput, error) {
	doc := in.Context
	soil := text(doc, PtrSoilType)
	light := text(doc, PtrLight)

	var stress []string
	switch text(doc, PtrSoilMoisture) {
	case "dry":
		stress = append(stress, "drought")
	case "wet", "waterlogged":
		stress = append(stress, "waterlogging")
	}
	if text(doc, PtrSoilCompaction) == "high" {
		stress = append(stress, "compaction")
	}
	if salt, ok := pointer.Get(doc, PtrSalt).AsBool(); ok && salt {
		stress = append(stress, "salt")
	}
	if ph, ok := pointer.Get(doc, PtrSoilPH).AsNumber(); ok {
		switch {
		case ph < 5.5:
			stress = append(stress, "acidic soil")
		case ph > 7.5:
			stress = append(stress, "alkaline soil")
		}
	}
	if light == "full_shade" {
		stress = append(stress, "shade")
	}

	summary := fmt.Sprintf("%s soil, %s", soil, strings.ReplaceAll(light, "_", " "))
	if len(stress) > 0 {
		summary += "; stress: " + strings.Join(stress, ", ")
	}

	assessment := pointer.Map(map[string]pointer.Value{
		"summary":  pointer.String(summary),
		"stress":   strs(stress...),
		"severity": pointer.Int(len(stress)),
	})

	var inputs []influence
	for _, key := range []string{"site.soil.type", "site.light.exposure", "site.soil.moisture", "site.soil.compaction", "site.salt_exposure", "site.soil.ph"} {
		if inf, ok := influenceOf(doc, key, graph.PolarityPositive); ok {
			inputs = append(inputs, inf)
		}
	}

	return engine.AgentOutput{
		Patches: []pointer.Patch{{Pointer: PtrAssessment, Value: assessment}},
		Graph:   decision("site-assessment", summary, inputs, pointer.Clone(assessment)),
	}, nil
}

// #endregion site-assessment
