package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/hybridkb/internal/models"
	"github.com/hyperjump/hybridkb/internal/registry"
	"github.com/hyperjump/hybridkb/internal/testutil"
)

func newTestIndexer(t *testing.T, opts testutil.Options) (*Indexer, *testutil.Env) {
	t.Helper()
	env := testutil.NewEnv(t, opts)
	reg := registry.New(env.Store, env.Vectors, env.Lexical, env.Gateway, env.Locks, nil)
	if _, err := reg.Create(context.Background(), "rechtliches", "Recht", "", ""); err != nil {
		t.Fatal(err)
	}
	idx := NewIndexer(env.Store, reg, env.Vectors, env.Lexical, env.Gateway, env.Locks, NewChunker(800, 100, 4))
	return idx, env
}

func longText(n int) string {
	words := []string{"Versicherung", "Vertrag", "Haftung", "Leistung", "Frist", "Kunde"}
	var b strings.Builder
	for i := 0; b.Len() < n; i++ {
		b.WriteString(words[i%len(words)])
		b.WriteByte(' ')
	}
	return b.String()[:n]
}

func textDoc(filename, text string) *models.ProcessedDocument {
	return &models.ProcessedDocument{Filename: filename, RawText: text}
}

func TestAddDocument_chunksAndEmbedsBothProviders(t *testing.T) {
	idx, env := newTestIndexer(t, testutil.Options{})
	ctx := context.Background()

	res, err := idx.AddDocument(ctx, "rechtliches", textDoc("vvg.txt", longText(2000)))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Local || !res.Cloud || res.Skipped || res.Chunks != 3 {
		t.Fatalf("result = %+v", res)
	}
	for _, p := range models.Providers {
		n, err := env.Vectors.Count(ctx, "rechtliches", p)
		if err != nil {
			t.Fatal(err)
		}
		if n != 3 {
			t.Errorf("%s vectors = %d, want 3", p, n)
		}
	}
	lex, err := env.Lexical.Get(ctx, "rechtliches")
	if err != nil {
		t.Fatal(err)
	}
	if lex.Len() != 3 {
		t.Errorf("lexical docs = %d, want 3", lex.Len())
	}

	chunks, err := idx.DocumentChunks(ctx, "rechtliches", "vvg.txt")
	if err != nil {
		t.Fatal(err)
	}
	for i, c := range chunks {
		if c.Metadata.ChunkIndex != i || c.Metadata.Filename != "vvg.txt" || c.Metadata.KnowledgeBaseID != "rechtliches" {
			t.Errorf("chunk %d metadata = %+v", i, c.Metadata)
		}
		if !strings.HasSuffix(c.ID, "_chunk_"+string(rune('0'+i))) {
			t.Errorf("chunk id = %q", c.ID)
		}
	}
}

func TestAddDocument_unchangedIsSkipped(t *testing.T) {
	idx, env := newTestIndexer(t, testutil.Options{})
	ctx := context.Background()
	doc := textDoc("vvg.txt", longText(1200))

	if _, err := idx.AddDocument(ctx, "rechtliches", doc); err != nil {
		t.Fatal(err)
	}
	localCalls, cloudCalls := env.Local.Calls(), env.Cloud.Calls()

	res, err := idx.AddDocument(ctx, "rechtliches", doc)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Skipped {
		t.Errorf("second ingest not skipped: %+v", res)
	}
	if env.Local.Calls() != localCalls || env.Cloud.Calls() != cloudCalls {
		t.Error("skipped ingest called an embedding provider")
	}
}

func TestAddDocument_reconcilesMissingProvider(t *testing.T) {
	idx, env := newTestIndexer(t, testutil.Options{})
	ctx := context.Background()
	doc := textDoc("vvg.txt", longText(1200))

	env.Cloud.SetFailing(true)
	res, err := idx.AddDocument(ctx, "rechtliches", doc)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Local || res.Cloud {
		t.Fatalf("result with failing cloud = %+v", res)
	}

	env.Cloud.SetFailing(false)
	env.Gateway.Probe(ctx)
	localCalls := env.Local.Calls()
	res, err = idx.AddDocument(ctx, "rechtliches", doc)
	if err != nil {
		t.Fatal(err)
	}
	if res.Skipped || !res.Local || !res.Cloud {
		t.Fatalf("reconcile result = %+v", res)
	}
	if env.Local.Calls() != localCalls {
		t.Error("reconcile re-embedded the healthy provider")
	}
	n, _ := env.Vectors.Count(ctx, "rechtliches", models.ProviderCloud)
	if n != res.Chunks {
		t.Errorf("cloud vectors = %d, want %d", n, res.Chunks)
	}
}

func TestAddDocument_changedContentReplacesChunks(t *testing.T) {
	idx, env := newTestIndexer(t, testutil.Options{})
	ctx := context.Background()

	if _, err := idx.AddDocument(ctx, "rechtliches", textDoc("vvg.txt", longText(2000))); err != nil {
		t.Fatal(err)
	}
	res, err := idx.AddDocument(ctx, "rechtliches", textDoc("vvg.txt", "Kurzer neuer Text über die Haftung."))
	if err != nil {
		t.Fatal(err)
	}
	if res.Chunks != 1 {
		t.Fatalf("chunks = %d, want 1", res.Chunks)
	}
	chunks, _ := idx.DocumentChunks(ctx, "rechtliches", "vvg.txt")
	if len(chunks) != 1 {
		t.Errorf("stored chunks = %d, want 1", len(chunks))
	}
	for _, p := range models.Providers {
		if n, _ := env.Vectors.Count(ctx, "rechtliches", p); n != 1 {
			t.Errorf("%s vectors = %d, want 1", p, n)
		}
	}
}

func TestAddDocument_bothProvidersFail(t *testing.T) {
	idx, env := newTestIndexer(t, testutil.Options{})
	ctx := context.Background()
	env.Local.SetFailing(true)
	env.Cloud.SetFailing(true)

	_, err := idx.AddDocument(ctx, "rechtliches", textDoc("vvg.txt", "Art. 5 Haftung"))
	if !errors.Is(err, ErrIngestionFailed) {
		t.Fatalf("err = %v, want ErrIngestionFailed", err)
	}
	ok, err := idx.DocumentExists(ctx, "rechtliches", "vvg.txt")
	if err != nil || ok {
		t.Errorf("DocumentExists = %v, %v; want false", ok, err)
	}
}

func TestAddDocument_failedReplacementKeepsStoredVersion(t *testing.T) {
	idx, env := newTestIndexer(t, testutil.Options{})
	ctx := context.Background()

	if _, err := idx.AddDocument(ctx, "rechtliches", textDoc("vvg.txt", longText(2000))); err != nil {
		t.Fatal(err)
	}
	before, _ := idx.DocumentChunks(ctx, "rechtliches", "vvg.txt")
	if len(before) == 0 {
		t.Fatal("no chunks stored")
	}

	env.Local.SetFailing(true)
	env.Cloud.SetFailing(true)
	_, err := idx.AddDocument(ctx, "rechtliches", textDoc("vvg.txt", "Neue Fassung zur Haftung."))
	if !errors.Is(err, ErrIngestionFailed) {
		t.Fatalf("err = %v, want ErrIngestionFailed", err)
	}

	after, err := idx.DocumentChunks(ctx, "rechtliches", "vvg.txt")
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != len(before) || after[0].Content != before[0].Content {
		t.Fatalf("stored version changed: %d chunks, want %d", len(after), len(before))
	}
	for _, p := range models.Providers {
		if n, _ := env.Vectors.Count(ctx, "rechtliches", p); n != len(before) {
			t.Errorf("%s vectors = %d, want %d", p, n, len(before))
		}
	}
	lex, err := env.Lexical.Get(ctx, "rechtliches")
	if err != nil {
		t.Fatal(err)
	}
	if hits, _ := lex.Search(ctx, "haftung", 10); len(hits) == 0 {
		t.Error("lexical index lost the stored version")
	}
}

func TestAddDocument_preChunkedChangeIsIndexed(t *testing.T) {
	idx, _ := newTestIndexer(t, testutil.Options{})
	ctx := context.Background()
	chunked := func(content string) *models.ProcessedDocument {
		return &models.ProcessedDocument{Filename: "avb.pdf", Chunks: []models.ChunkInput{{Content: content}}}
	}

	if _, err := idx.AddDocument(ctx, "rechtliches", chunked("Art. 1 alte Fassung")); err != nil {
		t.Fatal(err)
	}
	res, err := idx.AddDocument(ctx, "rechtliches", chunked("Art. 1 alte Fassung"))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Skipped {
		t.Errorf("unchanged chunks should be skipped: %+v", res)
	}

	res, err = idx.AddDocument(ctx, "rechtliches", chunked("Art. 1 neue Fassung mit Haftung"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Skipped {
		t.Fatalf("changed chunks were skipped: %+v", res)
	}
	chunks, _ := idx.DocumentChunks(ctx, "rechtliches", "avb.pdf")
	if len(chunks) != 1 || chunks[0].Content != "Art. 1 neue Fassung mit Haftung" {
		t.Errorf("chunks = %+v", chunks)
	}
}

func TestDocumentHash_preChunked(t *testing.T) {
	a := &models.ProcessedDocument{Chunks: []models.ChunkInput{{Content: "Art. 1"}, {Content: "Art. 2"}}}
	b := &models.ProcessedDocument{Chunks: []models.ChunkInput{{Content: "Art. 1"}, {Content: "Art. 3"}}}
	if documentHash(a) == documentHash(b) {
		t.Error("different chunk contents should hash differently")
	}
	if documentHash(a) == documentHash(&models.ProcessedDocument{}) {
		t.Error("pre-chunked document should not hash like an empty one")
	}
	raw := &models.ProcessedDocument{RawText: "Art. 1", Chunks: a.Chunks}
	if documentHash(raw) != documentHash(&models.ProcessedDocument{RawText: "Art. 1"}) {
		t.Error("raw text takes precedence over chunks")
	}
}

func TestAddDocument_errors(t *testing.T) {
	idx, _ := newTestIndexer(t, testutil.Options{})
	ctx := context.Background()

	if _, err := idx.AddDocument(ctx, "unbekannt", textDoc("a.txt", "x")); !errors.Is(err, registry.ErrKnowledgeBaseNotFound) {
		t.Errorf("unknown kb err = %v", err)
	}
	if _, err := idx.AddDocument(ctx, "rechtliches", textDoc("", "x")); !errors.Is(err, ErrInvalidDocument) {
		t.Errorf("missing filename err = %v", err)
	}
	if _, err := idx.AddDocument(ctx, "rechtliches", textDoc("leer.txt", " \n\t ")); !errors.Is(err, ErrEmptyDocument) {
		t.Errorf("empty document err = %v", err)
	}
}

func TestAddDocument_preChunked(t *testing.T) {
	idx, _ := newTestIndexer(t, testutil.Options{NoLocal: true})
	ctx := context.Background()
	doc := &models.ProcessedDocument{
		ID:       "doc1",
		Filename: "avb.pdf",
		Chunks: []models.ChunkInput{
			{Content: "Art. 1 Gegenstand der Versicherung"},
			{ID: "custom", Content: "Art. 2 Beginn des Versicherungsschutzes", Metadata: map[string]interface{}{"page": 2}},
		},
		Metadata: models.DocumentMetadata{FileType: "pdf", Uploader: "anna"},
	}
	res, err := idx.AddDocument(ctx, "rechtliches", doc)
	if err != nil {
		t.Fatal(err)
	}
	if res.Local || !res.Cloud || res.Chunks != 2 {
		t.Fatalf("result = %+v", res)
	}
	chunks, _ := idx.DocumentChunks(ctx, "rechtliches", "avb.pdf")
	if len(chunks) != 2 || chunks[0].ID != "doc1_chunk_0" || chunks[1].ID != "custom" {
		t.Fatalf("chunks = %+v", chunks)
	}
	if chunks[1].Metadata.Uploader != "anna" || chunks[1].Metadata.Extra["page"] == nil {
		t.Errorf("metadata = %+v", chunks[1].Metadata)
	}
}

func TestRemoveDocument_exactFilename(t *testing.T) {
	idx, env := newTestIndexer(t, testutil.Options{})
	ctx := context.Background()
	for _, name := range []string{"vvg.txt", "vvg.txt.bak"} {
		if _, err := idx.AddDocument(ctx, "rechtliches", textDoc(name, "Inhalt von "+name)); err != nil {
			t.Fatal(err)
		}
	}

	removed, err := idx.RemoveDocument(ctx, "rechtliches", "vvg.txt")
	if err != nil || !removed {
		t.Fatalf("RemoveDocument = %v, %v", removed, err)
	}
	removed, err = idx.RemoveDocument(ctx, "rechtliches", "vvg.txt")
	if err != nil || removed {
		t.Errorf("second RemoveDocument = %v, %v", removed, err)
	}

	docs, err := idx.ListDocuments(ctx, "rechtliches")
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].Filename != "vvg.txt.bak" {
		t.Errorf("documents = %+v", docs)
	}
	for _, p := range models.Providers {
		if n, _ := env.Vectors.Count(ctx, "rechtliches", p); n != 1 {
			t.Errorf("%s vectors = %d, want 1", p, n)
		}
	}
	lex, _ := env.Lexical.Get(ctx, "rechtliches")
	if lex.Len() != 1 {
		t.Errorf("lexical docs = %d, want 1", lex.Len())
	}
}

func TestNeedsReembedding(t *testing.T) {
	idx, _ := newTestIndexer(t, testutil.Options{})
	ctx := context.Background()
	doc := textDoc("vvg.txt", "Art. 5 Haftung")
	if _, err := idx.AddDocument(ctx, "rechtliches", doc); err != nil {
		t.Fatal(err)
	}
	hash, err := idx.DocumentHash(ctx, "rechtliches", "vvg.txt")
	if err != nil {
		t.Fatal(err)
	}
	if need, _ := idx.NeedsReembedding(ctx, "rechtliches", "vvg.txt", hash); need {
		t.Error("same hash needs re-embedding")
	}
	if need, _ := idx.NeedsReembedding(ctx, "rechtliches", "vvg.txt", "other"); !need {
		t.Error("changed hash does not need re-embedding")
	}
	if need, _ := idx.NeedsReembedding(ctx, "rechtliches", "neu.txt", hash); !need {
		t.Error("new file does not need embedding")
	}
}

func TestIngestDirectory(t *testing.T) {
	idx, _ := newTestIndexer(t, testutil.Options{})
	ctx := context.Background()
	dir := t.TempDir()
	files := map[string]string{
		"a.txt":    "Die Haftung des Versicherers.",
		"b.md":     "# Leistungen\nDer Vertrag regelt die Leistung.",
		"c.go":     "package main",
		"doc.json": `{"filename":"extern.pdf","raw_text":"Extrahierter Text über Fristen.","metadata":{"file_type":"pdf"}}`,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	n, err := idx.IngestDirectory(ctx, "rechtliches", dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("ingested = %d, want 3", n)
	}
	for _, name := range []string{"a.txt", "b.md", "extern.pdf"} {
		if ok, _ := idx.DocumentExists(ctx, "rechtliches", name); !ok {
			t.Errorf("%s not ingested", name)
		}
	}
	n, err = idx.IngestDirectory(ctx, "rechtliches", dir, nil)
	if err != nil || n != 0 {
		t.Errorf("second pass = %d, %v; want 0", n, err)
	}
}

func TestExtensionAllowed(t *testing.T) {
	tests := []struct {
		ext     string
		allowed []string
		want    bool
	}{
		{".txt", []string{".txt", ".md"}, true},
		{".TXT", []string{".txt"}, true},
		{".md", []string{"txt", "md"}, true},
		{".go", []string{".txt"}, false},
		{"", []string{".txt"}, false},
	}
	for _, tt := range tests {
		if got := ExtensionAllowed(tt.ext, tt.allowed); got != tt.want {
			t.Errorf("ExtensionAllowed(%q, %v) = %v, want %v", tt.ext, tt.allowed, got, tt.want)
		}
	}
}
