package search

import (
	"sort"
	"strings"

	"github.com/hyperjump/hybridkb/internal/config"
	"github.com/hyperjump/hybridkb/internal/models"
)

const (
	maxSynonymsPerTerm = 3
	maxAddedTerms      = 6
)

// SynonymEntry maps a lowercase query term to the terms appended when it occurs.
type SynonymEntry struct {
	Term     string
	Synonyms []string
}

// SynonymTable is an ordered list of entries; order decides which synonyms survive the cap.
type SynonymTable []SynonymEntry

// LegalTable holds German/Swiss legal and insurance vocabulary.
var LegalTable = SynonymTable{
	{"vertrag", []string{"Kontrakt", "Vereinbarung", "Obligationenrecht", "OR"}},
	{"vertrag entsteht", []string{"Entstehung durch Vertrag", "Vertragsschluss", "Willensäusserung", "Antrag Annahme"}},
	{"kündigung", []string{"Kündigungsfrist", "Beendigung", "Auflösung", "Art. 335"}},
	{"kündigungsfrist", []string{"Probezeit", "Dienstjahr", "Art. 335c OR"}},
	{"arbeitsvertrag", []string{"Einzelarbeitsvertrag", "Arbeitsverhältnis", "Art. 319 OR"}},
	{"miete", []string{"Mietvertrag", "Mietzins", "Vermieter", "Mieter"}},
	{"kauf", []string{"Kaufvertrag", "Käufer", "Verkäufer", "Kaufpreis"}},
	{"schaden", []string{"Schadenersatz", "Haftung", "Art. 41 OR", "unerlaubte Handlung"}},
	{"gewährleistung", []string{"Mängel", "Sachmangel", "Wandelung", "Minderung"}},
	{"versicherung", []string{"VVG", "Versicherungsvertrag", "Police"}},
	{"prämie", []string{"Versicherungsprämie", "Prämienzahlung", "Art. 20 VVG"}},
	{"haftung", []string{"Haftpflicht", "Verschulden", "Schadenersatz"}},
	{"gesetz", []string{"Bundesgesetz", "Verordnung", "SR", "Rechtsnorm"}},
	{"artikel", []string{"Art.", "Absatz", "Buchstabe", "Ziffer"}},
	{"recht", []string{"Anspruch", "Berechtigung", "Pflicht"}},
	{"pflicht", []string{"Obligation", "Verpflichtung", "Schuld"}},
	{"frist", []string{"Termin", "Zeitraum", "Verjährung"}},
	{"person", []string{"natürliche Person", "juristische Person", "Rechtsfähigkeit"}},
	{"firma", []string{"Gesellschaft", "AG", "GmbH", "Einzelunternehmen"}},
	{"ehe", []string{"Eheschliessung", "Ehevertrag", "Güterstand", "ZGB"}},
	{"erbe", []string{"Erbschaft", "Nachlass", "Testament", "Erbfolge"}},
	{"datenschutz", []string{"DSG", "Personendaten", "Datenbearbeitung", "Einwilligung"}},
	{"daten", []string{"Personendaten", "besonders schützenswerte Personendaten", "Profiling"}},
	{"strafe", []string{"Sanktion", "Busse", "Freiheitsstrafe", "StGB"}},
	{"betrug", []string{"Arglist", "Täuschung", "Vermögensschaden"}},
	{"diebstahl", []string{"Entwendung", "Aneignung", "Art. 139 StGB"}},
	{"arbeit", []string{"Arbeitsrecht", "Arbeitnehmer", "Arbeitgeber", "ArG"}},
	{"lohn", []string{"Gehalt", "Entgelt", "Vergütung"}},
	{"ferien", []string{"Urlaub", "Ferienanspruch", "Art. 329a OR"}},
	{"überstunden", []string{"Überzeit", "Mehrarbeit", "Kompensation"}},
}

// TableFromMap converts a configured table; entries are ordered by term.
func TableFromMap(m map[string][]string) SynonymTable {
	terms := make([]string, 0, len(m))
	for term := range m {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	table := make(SynonymTable, 0, len(terms))
	for _, term := range terms {
		table = append(table, SynonymEntry{Term: strings.ToLower(term), Synonyms: m[term]})
	}
	return table
}

// Expander appends domain synonyms to queries that target knowledge bases bound to a table.
type Expander struct {
	tables   map[string]SynonymTable
	bindings map[string]string
}

// NewExpander registers the built-in legal table plus the configured tables (a configured
// table named legal replaces the built-in one) and the kb -> table bindings.
func NewExpander(cfg config.ExpansionConfig) *Expander {
	e := &Expander{
		tables:   map[string]SynonymTable{"legal": LegalTable},
		bindings: make(map[string]string, len(cfg.KnowledgeBases)),
	}
	for name, m := range cfg.Tables {
		e.tables[name] = TableFromMap(m)
	}
	for kb, table := range cfg.KnowledgeBases {
		e.bindings[kb] = table
	}
	return e
}

// Register adds or replaces a table.
func (e *Expander) Register(name string, table SynonymTable) {
	e.tables[name] = table
}

// Bind binds a knowledge base to a registered table.
func (e *Expander) Bind(kbID, table string) {
	e.bindings[kbID] = table
}

// Expand returns the expanded query for kbIDs. Every table key contained in the lowercased
// query contributes up to three synonyms; duplicates are dropped and at most six terms are
// appended. Queries without explicit knowledge bases are never expanded.
func (e *Expander) Expand(query string, kbIDs []string) *models.ExpansionInfo {
	info := &models.ExpansionInfo{OriginalQuery: query, ExpandedQuery: query}
	lower := strings.ToLower(query)

	seen := make(map[string]bool)
	var added []string
	for _, kb := range kbIDs {
		table, ok := e.tables[e.bindings[kb]]
		if !ok {
			continue
		}
		for _, entry := range table {
			if !strings.Contains(lower, entry.Term) {
				continue
			}
			syns := entry.Synonyms
			if len(syns) > maxSynonymsPerTerm {
				syns = syns[:maxSynonymsPerTerm]
			}
			for _, s := range syns {
				if !seen[s] {
					seen[s] = true
					added = append(added, s)
				}
			}
		}
	}
	if len(added) == 0 {
		return info
	}
	if len(added) > maxAddedTerms {
		added = added[:maxAddedTerms]
	}
	info.ExpandedQuery = query + " " + strings.Join(added, " ")
	info.WasExpanded = true
	info.AddedTerms = added
	return info
}
