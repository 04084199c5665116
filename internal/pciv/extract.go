package pciv

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/paulmach/orb/geojson"

	"github.com/weflora/planning-core/internal/logging"
	"github.com/weflora/planning-core/internal/pointer"
	"github.com/weflora/planning-core/internal/registry"
)

// #region config
// ExtractorConfig tunes the text heuristics.
type ExtractorConfig struct {
	// KeywordStrength grades loose keyword hits (as opposed to exact phrases).
	KeywordStrength Strength `yaml:"keyword_strength" validate:"omitempty,oneof=direct supporting weak"`
}

func DefaultExtractorConfig() ExtractorConfig {
	return ExtractorConfig{KeywordStrength: StrengthSupporting}
}

// Extraction is the output of one extraction pass.
type Extraction struct {
	Evidence []EvidenceItem `json:"evidence"`
	Claims   []Claim        `json:"claims"`
	Skipped  []string       `json:"skipped,omitempty"` // source ids that failed to parse
}

// #endregion config

// #region keywords
type phrase struct {
	text  string
	value string
}

type textRule struct {
	key      string
	numeric  *regexp.Regexp // first group holds the number
	direct   []phrase
	keywords []phrase
}

var textRules = []textRule{
	{
		key: "regulatory.setting",
		direct: []phrase{
			{"provincial road", "provincial_road"}, {"provincial highway", "provincial_road"},
			{"municipal street", "municipal_street"}, {"municipal road", "municipal_street"},
			{"highway", "highway"}, {"motorway", "highway"},
			{"public park", "park"}, {"city park", "park"},
			{"private property", "private_property"}, {"private garden", "private_property"},
		},
		keywords: []phrase{
			{"province", "provincial_road"}, {"provincial", "provincial_road"},
			{"municipality", "municipal_street"}, {"municipal", "municipal_street"},
			{"park", "park"}, {"backyard", "private_property"},
		},
	},
	{
		key: "site.soil.type",
		direct: []phrase{
			{"clay soil", "clay"}, {"heavy clay", "clay"}, {"sandy soil", "sand"}, {"sand soil", "sand"},
			{"loam soil", "loam"}, {"loamy soil", "loam"}, {"silty soil", "silt"}, {"silt soil", "silt"},
			{"peat soil", "peat"}, {"peaty soil", "peat"}, {"gravel soil", "gravel"}, {"gravelly soil", "gravel"},
		},
		keywords: []phrase{
			{"clay", "clay"}, {"sandy", "sand"}, {"sand", "sand"}, {"loam", "loam"}, {"loamy", "loam"},
			{"silt", "silt"}, {"peat", "peat"}, {"gravel", "gravel"},
		},
	},
	{
		key: "site.soil.moisture",
		direct: []phrase{
			{"waterlogged", "waterlogged"}, {"wet soil", "wet"}, {"dry soil", "dry"}, {"moist soil", "moist"},
		},
		keywords: []phrase{
			{"standing water", "waterlogged"}, {"flooding", "waterlogged"},
			{"drought", "dry"}, {"damp", "moist"},
		},
	},
	{
		key: "site.soil.compaction",
		direct: []phrase{
			{"heavily compacted", "high"}, {"highly compacted", "high"}, {"high compaction", "high"},
			{"moderately compacted", "medium"}, {"low compaction", "low"}, {"uncompacted", "low"},
		},
		keywords: []phrase{{"compacted", "high"}, {"compaction", "medium"}},
	},
	{
		key: "site.light.exposure",
		direct: []phrase{
			{"full sun", "full_sun"}, {"partial shade", "partial_shade"}, {"part shade", "partial_shade"},
			{"semi-shade", "partial_shade"}, {"full shade", "full_shade"}, {"deep shade", "full_shade"},
		},
		keywords: []phrase{{"sunny", "full_sun"}, {"shaded", "partial_shade"}, {"shady", "partial_shade"}},
	},
	{key: "site.soil.ph", numeric: regexp.MustCompile(`(?i)\bph\s*(?:of|is|:|=|~)?\s*(\d+(?:[.,]\d+)?)`)},
	{key: "site.rooting_volume", numeric: regexp.MustCompile(`(?i)rooting volume\D{0,20}?(\d+(?:[.,]\d+)?)\s*(?:m3|m³|cubic)`)},
	{key: "site.overhead_clearance", numeric: regexp.MustCompile(`(?i)clearance\D{0,20}?(\d+(?:[.,]\d+)?)\s*m\b`)},
	{key: "species.max_height", numeric: regexp.MustCompile(`(?i)\bmax(?:imum)?\.?\s+(?:tree\s+)?height\D{0,20}?(\d+(?:[.,]\d+)?)\s*m\b`)},
	{
		key:      "site.salt_exposure",
		direct:   []phrase{{"road salt", "true"}, {"de-icing salt", "true"}, {"deicing salt", "true"}},
		keywords: []phrase{{"salt", "true"}, {"de-icing", "true"}},
	},
}

// #endregion keywords

// #region extractor
type compiledPhrase struct {
	re    *regexp.Regexp
	value string
}

type compiledRule struct {
	def      registry.Definition
	labeled  *regexp.Regexp
	numeric  *regexp.Regexp
	direct   []compiledPhrase
	keywords []compiledPhrase
}

// Extractor turns sources into evidence and proposed claims. It holds no
// per-call state.
type Extractor struct {
	reg    *registry.Registry
	cfg    ExtractorConfig
	rules  []compiledRule
	logger *slog.Logger
}

// NewExtractor compiles the heuristics against reg.
func NewExtractor(reg *registry.Registry, cfg ExtractorConfig, logger *slog.Logger) *Extractor {
	if cfg.KeywordStrength == "" {
		cfg.KeywordStrength = StrengthSupporting
	}
	x := &Extractor{reg: reg, cfg: cfg, logger: logging.OrDefault(logger)}

	byKey := make(map[string]textRule, len(textRules))
	for _, r := range textRules {
		byKey[r.key] = r
	}
	// Registry order drives claim order.
	for _, def := range reg.Definitions() {
		cr := compiledRule{def: def, labeled: labeledPattern(def)}
		if r, ok := byKey[def.Key]; ok {
			cr.numeric = r.numeric
			cr.direct = compilePhrases(r.direct)
			cr.keywords = compilePhrases(r.keywords)
		}
		x.rules = append(x.rules, cr)
	}
	return x
}

func compilePhrases(ps []phrase) []compiledPhrase {
	out := make([]compiledPhrase, 0, len(ps))
	for _, p := range ps {
		out = append(out, compiledPhrase{
			re:    regexp.MustCompile(`(?i)\b` + strings.ReplaceAll(regexp.QuoteMeta(p.text), " ", `\s+`) + `\b`),
			value: p.value,
		})
	}
	return out
}

// labeledPattern matches "<label>: value" and "<key tail>: value" forms.
func labeledPattern(def registry.Definition) *regexp.Regexp {
	names := []string{def.Label}
	if i := strings.Index(def.Key, "."); i >= 0 {
		names = append(names, strings.NewReplacer(".", " ", "_", " ").Replace(def.Key[i+1:]))
	}
	alts := make([]string, 0, len(names))
	for _, n := range names {
		alts = append(alts, strings.ReplaceAll(regexp.QuoteMeta(strings.ToLower(n)), " ", `[\s_-]+`))
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(alts, "|") + `)\s*[:=]\s*([^\n;,]+)`)
}

// Extract processes sources in order. Sources that fail to parse are logged
// and recorded in Skipped; they never abort the batch.
func (x *Extractor) Extract(sources []Source) Extraction {
	var out Extraction
	for _, s := range sources {
		var ok bool
		switch detectFormat(s) {
		case formatCSV:
			ok = x.extractCSV(s, &out)
		case formatGeoJSON:
			ok = x.extractGeoJSON(s, &out)
		default:
			ok = x.extractText(s, &out)
		}
		if !ok {
			out.Skipped = append(out.Skipped, s.SourceID)
		}
	}
	return out
}

// #endregion extractor

// #region format
type format int

const (
	formatText format = iota
	formatCSV
	formatGeoJSON
)

func detectFormat(s Source) format {
	mt := strings.ToLower(strings.TrimSpace(s.MimeType))
	if i := strings.Index(mt, ";"); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	title := strings.ToLower(s.Title)
	switch {
	case mt == "text/csv" || mt == "application/csv" || strings.HasSuffix(title, ".csv"):
		return formatCSV
	case mt == "application/geo+json" || strings.HasSuffix(title, ".geojson"):
		return formatGeoJSON
	}
	trimmed := strings.TrimSpace(s.Content)
	if strings.HasPrefix(trimmed, "{") && strings.Contains(trimmed, `"Feature`) {
		return formatGeoJSON
	}
	return formatText
}

// #endregion format

// #region csv
func (x *Extractor) extractCSV(s Source, out *Extraction) bool {
	r := csv.NewReader(strings.NewReader(s.Content))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		x.logger.Warn("csv parse failed", "source_id", s.SourceID, "error", err)
		return false
	}
	if len(records) < 2 {
		return true
	}

	headers := records[0]
	defs := make([]*registry.Definition, len(headers))
	for j, h := range headers {
		if d, ok := x.reg.MatchHeader(h); ok {
			defs[j] = &d
		}
	}

	for i, row := range records[1:] {
		line := i + 2
		data := make(map[string]pointer.Value, len(row))
		parts := make([]string, 0, len(row))
		for j, cell := range row {
			if j >= len(headers) {
				break
			}
			data[headers[j]] = pointer.String(cell)
			parts = append(parts, headers[j]+"="+cell)
		}
		ev := newEvidence(s.SourceID, EvidenceTableRow, fmt.Sprintf("row:%d", line), strings.Join(parts, "; "), pointer.Map(data))
		out.Evidence = append(out.Evidence, ev)

		for j, cell := range row {
			if j >= len(defs) || defs[j] == nil || strings.TrimSpace(cell) == "" {
				continue
			}
			v, err := x.reg.Coerce(defs[j].Key, cell)
			if err != nil {
				x.logger.Debug("csv cell not coercible", "source_id", s.SourceID, "row", line, "header", headers[j], "error", err)
				continue
			}
			stmt := fmt.Sprintf("%s = %s (row %d)", headers[j], strings.TrimSpace(cell), line)
			out.Claims = append(out.Claims, x.newClaim(ev, *defs[j], v, stmt, StrengthDirect))
		}
	}
	return true
}

// #endregion csv

// #region geojson
func (x *Extractor) extractGeoJSON(s Source, out *Extraction) bool {
	fc, err := geojson.UnmarshalFeatureCollection([]byte(s.Content))
	if err != nil {
		f, ferr := geojson.UnmarshalFeature([]byte(s.Content))
		if ferr != nil {
			x.logger.Warn("geojson parse failed", "source_id", s.SourceID, "error", err)
			return false
		}
		fc = geojson.NewFeatureCollection()
		fc.Append(f)
	}

	for i, f := range fc.Features {
		data := map[string]pointer.Value{}
		if f.Geometry != nil {
			b := f.Geometry.Bound()
			data["geometryType"] = pointer.String(f.Geometry.GeoJSONType())
			data["bbox"] = pointer.Array(
				pointer.Number(b.Min.Lon()), pointer.Number(b.Min.Lat()),
				pointer.Number(b.Max.Lon()), pointer.Number(b.Max.Lat()),
			)
		}
		if len(f.Properties) > 0 {
			if props, err := pointer.FromAny(map[string]any(f.Properties)); err == nil {
				data["properties"] = props
			}
		}
		locator := fmt.Sprintf("feature:%d", i)
		if f.ID != nil {
			locator = fmt.Sprintf("feature:%v", f.ID)
		}
		text, _ := f.Properties["name"].(string)
		out.Evidence = append(out.Evidence, newEvidence(s.SourceID, EvidenceMapFeature, locator, text, pointer.Map(data)))
	}
	return true
}

// #endregion geojson

// #region text
func (x *Extractor) extractText(s Source, out *Extraction) bool {
	text := s.Content
	if strings.TrimSpace(text) == "" {
		return true
	}
	ev := newEvidence(s.SourceID, EvidenceTextSpan, fmt.Sprintf("chars:0-%d", utf8.RuneCountInString(text)), text, pointer.Value{})
	out.Evidence = append(out.Evidence, ev)

	for _, rule := range x.rules {
		if c, ok := x.matchRule(ev, rule, text); ok {
			out.Claims = append(out.Claims, c)
		}
	}
	return true
}

// matchRule tries, in order: a labeled "Label: value" form, a numeric
// pattern, exact vocabulary phrases and finally loose keywords. The first
// hit wins, so each source yields at most one claim per key.
func (x *Extractor) matchRule(ev EvidenceItem, rule compiledRule, text string) (Claim, bool) {
	if m := rule.labeled.FindStringSubmatchIndex(text); m != nil {
		if v, ok := x.coerceLoose(rule.def.Key, text[m[2]:m[3]]); ok {
			return x.newClaim(ev, rule.def, v, sentenceAround(text, m[0], m[2]), StrengthDirect), true
		}
	}
	if rule.numeric != nil {
		if m := rule.numeric.FindStringSubmatchIndex(text); m != nil {
			if v, err := x.reg.Coerce(rule.def.Key, text[m[2]:m[3]]); err == nil {
				return x.newClaim(ev, rule.def, v, sentenceAround(text, m[0], m[1]), StrengthDirect), true
			}
		}
	}
	for _, p := range rule.direct {
		if loc := p.re.FindStringIndex(text); loc != nil {
			if v, err := x.reg.Coerce(rule.def.Key, p.value); err == nil {
				return x.newClaim(ev, rule.def, v, sentenceAround(text, loc[0], loc[1]), StrengthDirect), true
			}
		}
	}
	for _, p := range rule.keywords {
		if loc := p.re.FindStringIndex(text); loc != nil {
			if v, err := x.reg.Coerce(rule.def.Key, p.value); err == nil {
				return x.newClaim(ev, rule.def, v, sentenceAround(text, loc[0], loc[1]), x.cfg.KeywordStrength), true
			}
		}
	}
	return Claim{}, false
}

// coerceLoose accepts the whole captured value or, failing that, its first
// word that coerces ("clay with rubble" -> clay).
func (x *Extractor) coerceLoose(key, raw string) (pointer.Value, bool) {
	if i := strings.Index(raw, ". "); i >= 0 {
		raw = raw[:i]
	}
	raw = strings.TrimRight(raw, ". ")
	if v, err := x.reg.Coerce(key, raw); err == nil {
		return v, true
	}
	for _, w := range strings.Fields(raw) {
		if v, err := x.reg.Coerce(key, strings.Trim(w, `.:!?()"'`)); err == nil {
			return v, true
		}
	}
	return pointer.Value{}, false
}

const maxStatement = 240

// sentenceAround returns the sentence that contains text[start:end].
func sentenceAround(text string, start, end int) string {
	from := strings.LastIndexAny(text[:start], ".!?\n") + 1
	to := len(text)
	if i := strings.IndexAny(text[end:], ".!?\n"); i >= 0 {
		to = end + i
	}
	s := strings.TrimSpace(text[from:to])
	if len(s) > maxStatement {
		s = strings.TrimSpace(text[start:end])
	}
	return s
}

// #endregion text

// #region ids
// contentID hashes the canonical JSON of parts.
func contentID(parts ...any) string {
	b, _ := json.Marshal(parts)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:12])
}

func newEvidence(sourceID string, kind EvidenceKind, locator, text string, data pointer.Value) EvidenceItem {
	return EvidenceItem{
		EvidenceID: contentID("evidence", sourceID, kind, locator, text),
		SourceID:   sourceID,
		Kind:       kind,
		Locator:    locator,
		Text:       text,
		Data:       data,
	}
}

func (x *Extractor) newClaim(ev EvidenceItem, def registry.Definition, v pointer.Value, statement string, strength Strength) Claim {
	c := Claim{
		ClaimID:   contentID("claim", ev.EvidenceID, def.Key, v.Text()),
		Domain:    def.Domain,
		ClaimType: claimTypeFor(def),
		Statement: statement,
		Normalized: Normalized{
			Key:      def.Key,
			Value:    v,
			Unit:     def.Unit,
			Datatype: def.Datatype,
		},
		Status:       ClaimProposed,
		EvidenceRefs: []EvidenceRef{{EvidenceID: ev.EvidenceID, Strength: strength}},
	}
	c.Confidence = ClaimConfidence(c)
	return c
}

func claimTypeFor(def registry.Definition) ClaimType {
	switch {
	case def.Domain == "regulatory":
		return ClaimRequirement
	case def.Datatype == registry.DatatypeEnum:
		return ClaimClassification
	case def.Datatype == registry.DatatypeNumber:
		return ClaimThreshold
	default:
		return ClaimFact
	}
}

// #endregion ids
