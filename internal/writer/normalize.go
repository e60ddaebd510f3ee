package writer

import "strings"

// allowedTags is the fixed tag enumeration the rest of the application
// filters on. Unknown tags from the classifier are dropped.
var allowedTags = map[string]struct{}{
	"ambulance":               {},
	"ems":                     {},
	"911_dispatch":            {},
	"medical_transport":       {},
	"equipment":               {},
	"staffing":                {},
	"billing":                 {},
	"training":                {},
	"fire":                    {},
	"community_paramedicine":  {},
	"interfacility_transport": {},
	"air_medical":             {},
}

var tagAliases = map[string]string{
	"dispatch":        "911_dispatch",
	"911":             "911_dispatch",
	"paramedicine":    "community_paramedicine",
	"transport":       "medical_transport",
	"medical transit": "medical_transport",
	"helicopter":      "air_medical",
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		t := strings.ToLower(strings.TrimSpace(tag))
		t = strings.ReplaceAll(t, "-", "_")
		t = strings.ReplaceAll(t, " ", "_")
		if alias, ok := tagAliases[t]; ok {
			t = alias
		}
		if _, ok := allowedTags[t]; !ok {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// stateRegions maps canonical state names to US census regions for the
// region enrichment on geography-linked fields.
var stateRegions = map[string]string{
	"alabama": "South", "alaska": "West", "arizona": "West",
	"arkansas": "South", "california": "West", "colorado": "West",
	"connecticut": "Northeast", "delaware": "South", "florida": "South",
	"georgia": "South", "hawaii": "West", "idaho": "West",
	"illinois": "Midwest", "indiana": "Midwest", "iowa": "Midwest",
	"kansas": "Midwest", "kentucky": "South", "louisiana": "South",
	"maine": "Northeast", "maryland": "South", "massachusetts": "Northeast",
	"michigan": "Midwest", "minnesota": "Midwest", "mississippi": "South",
	"missouri": "Midwest", "montana": "West", "nebraska": "Midwest",
	"nevada": "West", "new hampshire": "Northeast", "new jersey": "Northeast",
	"new mexico": "West", "new york": "Northeast", "north carolina": "South",
	"north dakota": "Midwest", "ohio": "Midwest", "oklahoma": "South",
	"oregon": "West", "pennsylvania": "Northeast", "rhode island": "Northeast",
	"south carolina": "South", "south dakota": "Midwest", "tennessee": "South",
	"texas": "South", "utah": "West", "vermont": "Northeast",
	"virginia": "South", "washington": "West", "west virginia": "South",
	"wisconsin": "Midwest", "wyoming": "West",
	"district of columbia": "South",
}

var stateAbbrs = map[string]string{
	"al": "alabama", "ak": "alaska", "az": "arizona", "ar": "arkansas",
	"ca": "california", "co": "colorado", "ct": "connecticut",
	"de": "delaware", "fl": "florida", "ga": "georgia", "hi": "hawaii",
	"id": "idaho", "il": "illinois", "in": "indiana", "ia": "iowa",
	"ks": "kansas", "ky": "kentucky", "la": "louisiana", "me": "maine",
	"md": "maryland", "ma": "massachusetts", "mi": "michigan",
	"mn": "minnesota", "ms": "mississippi", "mo": "missouri",
	"mt": "montana", "ne": "nebraska", "nv": "nevada",
	"nh": "new hampshire", "nj": "new jersey", "nm": "new mexico",
	"ny": "new york", "nc": "north carolina", "nd": "north dakota",
	"oh": "ohio", "ok": "oklahoma", "or": "oregon", "pa": "pennsylvania",
	"ri": "rhode island", "sc": "south carolina", "sd": "south dakota",
	"tn": "tennessee", "tx": "texas", "ut": "utah", "vt": "vermont",
	"va": "virginia", "wa": "washington", "wv": "west virginia",
	"wi": "wisconsin", "wy": "wyoming", "dc": "district of columbia",
}

// regionFor resolves a free-form geography string ("Kerrville, TX",
// "Texas", "TX") to a region. Unknown geographies enrich to "".
func regionFor(geography string) string {
	g := strings.ToLower(strings.TrimSpace(geography))
	if g == "" {
		return ""
	}
	if region, ok := stateRegions[g]; ok {
		return region
	}
	if name, ok := stateAbbrs[g]; ok {
		return stateRegions[name]
	}
	// Try the last comma-separated component ("City, State").
	parts := strings.Split(g, ",")
	last := strings.TrimSpace(parts[len(parts)-1])
	if region, ok := stateRegions[last]; ok {
		return region
	}
	if name, ok := stateAbbrs[last]; ok {
		return stateRegions[name]
	}
	return ""
}
