package pciv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weflora/planning-core/internal/logging"
	"github.com/weflora/planning-core/internal/registry"
)

func newTestExtractor(cfg ExtractorConfig) *Extractor {
	return NewExtractor(registry.Default(), cfg, logging.Discard())
}

func claimsByKey(claims []Claim) map[string]Claim {
	out := make(map[string]Claim, len(claims))
	for _, c := range claims {
		if _, ok := out[c.Normalized.Key]; !ok {
			out[c.Normalized.Key] = c
		}
	}
	return out
}

func TestExtractTextHeuristics(t *testing.T) {
	x := newTestExtractor(DefaultExtractorConfig())
	src := Source{SourceID: "s1", Type: SourceManualNote, Title: "site memo",
		Content: "Provincial road N201, verge on the north side. Soil type: clay. The spot is sunny most of the day. Soil pH 6.5 measured in May."}

	out := x.Extract([]Source{src})
	require.Len(t, out.Evidence, 1)
	assert.Equal(t, EvidenceTextSpan, out.Evidence[0].Kind)
	assert.Equal(t, "s1", out.Evidence[0].SourceID)

	byKey := claimsByKey(out.Claims)
	reg := byKey["regulatory.setting"]
	assert.Equal(t, "provincial_road", reg.Normalized.Value.Text())
	assert.Equal(t, StrengthDirect, reg.EvidenceRefs[0].Strength)
	assert.Equal(t, ClaimRequirement, reg.ClaimType)

	soil := byKey["site.soil.type"]
	assert.Equal(t, "clay", soil.Normalized.Value.Text())
	assert.Equal(t, StrengthDirect, soil.EvidenceRefs[0].Strength)
	assert.Equal(t, "Soil type: clay", soil.Statement)

	light := byKey["site.light.exposure"]
	assert.Equal(t, "full_sun", light.Normalized.Value.Text())
	assert.Equal(t, StrengthSupporting, light.EvidenceRefs[0].Strength)
	assert.InDelta(t, 0.6, light.Confidence, 1e-9)

	ph := byKey["site.soil.ph"]
	n, ok := ph.Normalized.Value.AsNumber()
	require.True(t, ok)
	assert.InDelta(t, 6.5, n, 1e-9)

	for _, c := range out.Claims {
		assert.Equal(t, ClaimProposed, c.Status)
		assert.Equal(t, out.Evidence[0].EvidenceID, c.EvidenceRefs[0].EvidenceID)
	}
}

func TestExtractKeywordStrengthIsTunable(t *testing.T) {
	x := newTestExtractor(ExtractorConfig{KeywordStrength: StrengthWeak})
	out := x.Extract([]Source{{SourceID: "s1", Type: SourceManualNote, Title: "n", Content: "A shady corner."}})

	c := claimsByKey(out.Claims)["site.light.exposure"]
	assert.Equal(t, StrengthWeak, c.EvidenceRefs[0].Strength)
	assert.InDelta(t, 0.3, c.Confidence, 1e-9)
}

func TestExtractIsDeterministic(t *testing.T) {
	x := newTestExtractor(DefaultExtractorConfig())
	srcs := []Source{{SourceID: "s1", Type: SourceManualNote, Title: "n", Content: "Municipal street. Heavily compacted clay soil."}}
	assert.Equal(t, x.Extract(srcs), x.Extract(srcs))
}

func TestExtractMayYieldNoClaims(t *testing.T) {
	x := newTestExtractor(DefaultExtractorConfig())
	out := x.Extract([]Source{{SourceID: "s1", Type: SourceManualNote, Title: "n", Content: "Nothing relevant here."}})
	assert.Len(t, out.Evidence, 1)
	assert.Empty(t, out.Claims)

	out = x.Extract([]Source{{SourceID: "s2", Type: SourceManualNote, Title: "n", Content: "   "}})
	assert.Empty(t, out.Evidence)
}

func TestExtractCSV(t *testing.T) {
	x := newTestExtractor(DefaultExtractorConfig())
	src := Source{SourceID: "t1", Type: SourceFile, Title: "survey.csv", MimeType: "text/csv",
		Content: "tree_id,Soil type,soil_moisture,Rooting volume\n1,Clay,wet,12\n2,granite,dry,\n"}

	out := x.Extract([]Source{src})
	require.Len(t, out.Evidence, 2)
	assert.Equal(t, EvidenceTableRow, out.Evidence[0].Kind)
	assert.Equal(t, "row:2", out.Evidence[0].Locator)
	assert.Equal(t, "Clay", out.Evidence[0].Data.Field("Soil type").Text())

	// Row 1: soil type, moisture, rooting volume. Row 2: moisture only; granite is not a soil type.
	require.Len(t, out.Claims, 4)
	for _, c := range out.Claims {
		assert.Equal(t, StrengthDirect, c.EvidenceRefs[0].Strength)
		assert.Equal(t, 1.0, c.Confidence)
	}
	assert.Equal(t, "clay", out.Claims[0].Normalized.Value.Text())
	assert.Equal(t, "site.rooting_volume", out.Claims[2].Normalized.Key)
	assert.Equal(t, "m3", out.Claims[2].Normalized.Unit)
	assert.Equal(t, "dry", out.Claims[3].Normalized.Value.Text())
}

func TestExtractGeoJSON(t *testing.T) {
	x := newTestExtractor(DefaultExtractorConfig())
	good := Source{SourceID: "g1", Type: SourceFile, Title: "site.geojson", Content: `{
		"type": "FeatureCollection",
		"features": [
			{"type": "Feature", "properties": {"name": "pit A"}, "geometry": {"type": "Point", "coordinates": [5.1, 52.1]}},
			{"type": "Feature", "properties": {}, "geometry": {"type": "LineString", "coordinates": [[5.0, 52.0], [5.2, 52.2]]}}
		]}`}
	bad := Source{SourceID: "g2", Type: SourceFile, Title: "broken.geojson", Content: `{"type": "FeatureCollection", "features": [`}
	text := Source{SourceID: "n1", Type: SourceManualNote, Title: "memo", Content: "Soil type: loam"}

	out := x.Extract([]Source{good, bad, text})
	assert.Equal(t, []string{"g2"}, out.Skipped)

	var features []EvidenceItem
	for _, ev := range out.Evidence {
		if ev.Kind == EvidenceMapFeature {
			features = append(features, ev)
		}
	}
	require.Len(t, features, 2)
	assert.Equal(t, "pit A", features[0].Text)
	assert.Equal(t, "Point", features[0].Data.Field("geometryType").Text())
	assert.Equal(t, 4, features[1].Data.Field("bbox").Len())

	require.Len(t, out.Claims, 1, "geojson yields no claims; the text source still does")
	assert.Equal(t, "loam", out.Claims[0].Normalized.Value.Text())
}

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, formatCSV, detectFormat(Source{MimeType: "text/csv; charset=utf-8"}))
	assert.Equal(t, formatCSV, detectFormat(Source{Title: "A.CSV"}))
	assert.Equal(t, formatGeoJSON, detectFormat(Source{MimeType: "application/geo+json"}))
	assert.Equal(t, formatGeoJSON, detectFormat(Source{Content: ` {"type":"Feature","geometry":null}`}))
	assert.Equal(t, formatText, detectFormat(Source{Title: "memo.txt", Content: "hello"}))
}
