package lexical

// stopwordList holds German function words plus noise that leaks in from scraped and
// exported sources. Entries are normalised on init, so umlaut spellings are fine here.
var stopwordList = []string{
	// articles
	"der", "die", "das", "den", "dem", "des", "ein", "eine", "einer", "eines", "einem", "einen",
	// conjunctions
	"und", "oder", "aber", "wenn", "weil", "dass", "als", "ob", "falls",
	// adverbs
	"auch", "nur", "noch", "schon", "wieder", "immer", "sehr", "mehr", "viel",
	"hier", "dort", "da", "nun", "dann", "also", "doch", "ja", "nein",
	"gut", "neu", "alt", "gross", "klein", "lang", "kurz", "jetzt", "heute",
	// auxiliaries and modals
	"ist", "sind", "war", "waren", "wird", "werden", "wurde", "wurden", "hat",
	"haben", "hatte", "hatten", "kann", "können", "konnte", "konnten", "muss",
	"müssen", "musste", "mussten", "soll", "sollen", "sollte", "sollten",
	"will", "wollen", "wollte", "wollten", "darf", "dürfen", "durfte", "durften",
	"sein", "seine", "seiner", "seinem", "seinen", "seines",
	// pronouns
	"ich", "du", "er", "sie", "es", "wir", "ihr", "sich", "mich", "dich",
	"ihn", "ihm", "ihnen", "uns", "euch", "mir", "dir", "am", "im", "zum", "zur",
	"mein", "dein", "unser", "euer", "eure", "eurer", "eurem", "euren",
	"dieser", "diese", "dieses", "diesem", "diesen", "jener", "jene", "jenes",
	"welcher", "welche", "welches", "welchem", "welchen",
	// prepositions
	"mit", "bei", "nach", "von", "zu", "aus", "in", "an", "auf", "für", "über",
	"unter", "vor", "hinter", "neben", "zwischen", "durch", "gegen", "ohne",
	"um", "bis", "seit", "während", "wegen", "trotz", "samt", "nebst",
	// negation
	"nicht", "kein", "keine", "keiner", "keines", "keinem", "keinen", "nichts",
	// question words
	"so", "wie", "was", "wer", "wo", "wann", "warum", "weshalb", "woher", "wohin",
	// quantifiers
	"alle", "allem", "allen", "aller", "alles", "andere", "anderem", "anderen",
	"anderer", "anderes", "beide", "beiden", "beider", "beides",
	"etwa", "etwas", "man", "meist", "meisten", "viele", "vielen",
	"wenig", "wenige", "weniger", "wenigsten",
	// url artefacts
	"url", "http", "https", "www", "html", "htm", "php", "asp", "aspx", "jsp",
	"com", "org", "net", "edu", "gov", "info", "ch", "de", "at", "li",
	// inflected forms that only exist after umlaut folding
	"koennten", "muessten", "duerften", "wuerden", "wuerde", "grosse", "grosser", "grossem",
	"aehnlich", "aehnliche", "naechste", "naechsten", "naechster",
	// scraping boilerplate
	"gescrapt", "scraping", "oeffnen", "schliessen", "klicken", "button",
	"navigation", "menu", "footer", "header", "sidebar", "cookie", "cookies",
	"datenschutz", "impressum", "agb", "kontakt", "suche", "suchen",
	"seite", "seiten", "weiter", "zurueck", "home", "startseite",
	// timestamp artefacts
	"januar", "februar", "maerz", "april", "mai", "juni", "juli", "august",
	"september", "oktober", "november", "dezember",
	"montag", "dienstag", "mittwoch", "donnerstag", "freitag", "samstag", "sonntag",
}

var stopwords = func() map[string]struct{} {
	m := make(map[string]struct{}, len(stopwordList))
	for _, w := range stopwordList {
		m[Normalize(w)] = struct{}{}
	}
	return m
}()

// IsStopword reports whether a normalised token is on the stoplist.
func IsStopword(token string) bool {
	_, ok := stopwords[token]
	return ok
}
