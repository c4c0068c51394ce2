package retrieval

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/hybridkb/internal/config"
	"github.com/hyperjump/hybridkb/internal/models"
)

const corpusTopK = 5

// corpusTopic is a document with vocabulary no other corpus document shares.
type corpusTopic struct {
	filename string
	query    string
	content  string
}

var corpusTopics = []corpusTopic{
	{"hausrat.txt", "Hausrat Einbruchdiebstahl", "Die Hausratversicherung ersetzt Einbruchdiebstahl, Vandalismus und Raub im Wohnbereich."},
	{"glasbruch.txt", "Glasbruch Ceranfeld", "Glasbruch an Fenstern, Spiegeln und dem Ceranfeld ist über den Zusatzbaustein versichert."},
	{"fahrrad.txt", "Fahrraddiebstahl Nachtzeitklausel", "Fahrraddiebstahl ist ohne Nachtzeitklausel bis zur vereinbarten Summe gedeckt."},
	{"elementar.txt", "Rückstau Überschwemmung", "Elementarschäden wie Rückstau und Überschwemmung erfordern eine separate Vereinbarung."},
	{"haftpflicht.txt", "Gefälligkeitsschäden Mietsachschäden", "Die Privathaftpflicht umfasst Gefälligkeitsschäden und Mietsachschäden an gemieteten Wohnräumen."},
	{"reise.txt", "Reiseabbruch Gepäckverlust", "Die Reiseversicherung zahlt bei Reiseabbruch und Gepäckverlust während der Urlaubsreise."},
	{"zahnzusatz.txt", "Zahnersatz Implantate", "Der Zahnzusatztarif erstattet Zahnersatz und Implantate bis zu neunzig Prozent."},
	{"kfz.txt", "Teilkasko Marderbiss", "Die Teilkasko deckt Marderbiss, Wildunfall und Sturmschäden am Fahrzeug."},
	{"rechtsschutz.txt", "Rechtsschutz Arbeitsgericht", "Rechtsschutz übernimmt Anwaltskosten vor dem Arbeitsgericht nach einer Wartezeit."},
	{"beitrag.txt", "Beitragsanpassung Sonderkündigungsrecht", "Bei einer Beitragsanpassung entsteht ein Sonderkündigungsrecht innerhalb eines Monats."},
	{"schadenmeldung.txt", "Schadenmeldung Schadennummer", "Nach der Schadenmeldung erhält der Kunde eine Schadennummer und einen Ansprechpartner."},
	{"gutachter.txt", "Gutachter Besichtigungstermin", "Ab größeren Schäden beauftragt die Schadenabteilung einen Gutachter für einen Besichtigungstermin."},
	{"obliegenheiten.txt", "Obliegenheitsverletzung Leistungskürzung", "Eine grob fahrlässige Obliegenheitsverletzung führt zu einer quotalen Leistungskürzung."},
	{"widerruf.txt", "Widerrufsbelehrung Textform", "Die Widerrufsbelehrung muss in Textform erfolgen, die Frist beträgt vierzehn Tage."},
	{"datenschutz.txt", "Datenschutzerklärung Einwilligung", "Die Datenschutzerklärung regelt die Einwilligung zur Verarbeitung von Gesundheitsdaten."},
}

// filler documents share only generic insurance vocabulary.
func fillerText(i int) string {
	return fmt.Sprintf("Allgemeine Hinweise %d zur Versicherung: Der Vertrag beginnt mit der Zahlung des ersten Beitrags.", i)
}

func loadCorpus(t *testing.T, svc *Service) map[string]string {
	t.Helper()
	kbs := config.DefaultKnowledgeBases
	kbOf := make(map[string]string, len(corpusTopics))
	for i, topic := range corpusTopics {
		kb := kbs[i%len(kbs)].ID
		addText(t, svc, kb, topic.filename, topic.content)
		kbOf[topic.filename] = kb
	}
	for i := 0; i < 25; i++ {
		addText(t, svc, kbs[i%len(kbs)].ID, fmt.Sprintf("hinweise_%02d.txt", i), fillerText(i))
	}
	return kbOf
}

func filenames(results []*models.SearchResult) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.Metadata.Filename)
	}
	return out
}

func TestCorpus_searchFindsTopicDocument(t *testing.T) {
	svc := openService(t)
	kbOf := loadCorpus(t, svc)
	ctx := context.Background()

	for _, topic := range corpusTopics {
		t.Run(topic.filename, func(t *testing.T) {
			lex, err := svc.LexicalSearch(ctx, topic.query, nil, corpusTopK)
			require.NoError(t, err)
			require.NotEmpty(t, lex)
			assert.Equal(t, topic.filename, lex[0].Metadata.Filename, "lexical top hit")
			assert.Equal(t, kbOf[topic.filename], lex[0].KnowledgeBaseID)

			hybrid, err := svc.HybridSearch(ctx, svc.DefaultHybridQuery(topic.query, nil, corpusTopK))
			require.NoError(t, err)
			assert.Contains(t, filenames(hybrid), topic.filename, "hybrid top %d", corpusTopK)

			full, err := svc.FulltextSearch(ctx, topic.query, []string{kbOf[topic.filename]})
			require.NoError(t, err)
			for _, r := range full {
				assert.Equal(t, kbOf[topic.filename], r.KnowledgeBaseID)
			}
		})
	}
}

func TestCorpus_scopedSearchStaysInKnowledgeBase(t *testing.T) {
	svc := openService(t)
	kbOf := loadCorpus(t, svc)
	ctx := context.Background()

	topic := corpusTopics[0]
	var other string
	for _, kb := range config.DefaultKnowledgeBases {
		if kb.ID != kbOf[topic.filename] {
			other = kb.ID
			break
		}
	}
	results, err := svc.LexicalSearch(ctx, topic.query, []string{other}, corpusTopK)
	require.NoError(t, err)
	assert.NotContains(t, filenames(results), topic.filename)
	for _, r := range results {
		assert.Equal(t, other, r.KnowledgeBaseID)
	}
}
