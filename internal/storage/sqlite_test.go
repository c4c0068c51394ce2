package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/hybridkb/internal/models"
	"github.com/hyperjump/hybridkb/internal/vector"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "nested", "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testChunks(kb, filename, hash string, n int) []*models.Chunk {
	docID := "doc-" + filename
	out := make([]*models.Chunk, n)
	for i := range out {
		out[i] = &models.Chunk{
			ID:              docID + "_chunk_" + string(rune('0'+i)),
			KnowledgeBaseID: kb,
			Content:         "Inhalt " + filename + " Teil " + string(rune('0'+i)),
			Metadata: models.ChunkMetadata{
				Filename:        filename,
				FileType:        "txt",
				Uploader:        "tester",
				ContentHash:     hash,
				ChunkIndex:      i,
				KnowledgeBaseID: kb,
				DocumentID:      docID,
			},
		}
	}
	return out
}

func TestSQLiteStorage_KnowledgeBases(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	kb := &models.KnowledgeBase{ID: "rechtliches", Name: "Rechtliches", Icon: "⚖️"}
	if err := store.UpsertKnowledgeBase(ctx, kb); err != nil {
		t.Fatal(err)
	}
	if kb.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
	created := kb.CreatedAt

	time.Sleep(5 * time.Millisecond)
	kb2 := &models.KnowledgeBase{ID: "rechtliches", Name: "Recht", Description: "Gesetze"}
	if err := store.UpsertKnowledgeBase(ctx, kb2); err != nil {
		t.Fatal(err)
	}
	if !kb2.CreatedAt.Equal(created) {
		t.Errorf("created_at changed on update: %v -> %v", created, kb2.CreatedAt)
	}
	if kb2.Name != "Recht" || kb2.Description != "Gesetze" {
		t.Errorf("metadata not updated: %+v", kb2)
	}

	_ = store.UpsertKnowledgeBase(ctx, &models.KnowledgeBase{ID: "allgemein", Name: "Allgemein"})
	if err := store.InsertChunks(ctx, testChunks("rechtliches", "a.txt", "h1", 2)); err != nil {
		t.Fatal(err)
	}

	list, err := store.ListKnowledgeBases(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != "allgemein" || list[1].ID != "rechtliches" {
		t.Fatalf("list = %+v", list)
	}
	if list[1].ChunkCount != 2 || list[1].DocumentCount != 1 {
		t.Errorf("counts = %d chunks, %d docs", list[1].ChunkCount, list[1].DocumentCount)
	}

	existed, err := store.DeleteKnowledgeBase(ctx, "allgemein")
	if err != nil || !existed {
		t.Fatalf("Delete = %v, %v", existed, err)
	}
	if _, err := store.GetKnowledgeBase(ctx, "allgemein"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	existed, _ = store.DeleteKnowledgeBase(ctx, "allgemein")
	if existed {
		t.Error("second delete should report false")
	}
}

func TestSQLiteStorage_ChunksAndDocuments(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	if err := store.InsertChunks(ctx, testChunks("kb", "a.txt", "h1", 3)); err != nil {
		t.Fatal(err)
	}
	if err := store.InsertChunks(ctx, testChunks("kb", "a.txt.bak", "h2", 1)); err != nil {
		t.Fatal(err)
	}

	hash, err := store.DocumentHash(ctx, "kb", "a.txt")
	if err != nil || hash != "h1" {
		t.Fatalf("DocumentHash = %q, %v", hash, err)
	}
	if _, err := store.DocumentHash(ctx, "kb", "missing.txt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	chunks, err := store.DocumentChunks(ctx, "kb", "a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 3 || chunks[2].Metadata.ChunkIndex != 2 || chunks[0].Metadata.Uploader != "tester" {
		t.Fatalf("DocumentChunks = %+v", chunks)
	}

	ids, texts, err := store.ChunkTexts(ctx, "kb")
	if err != nil || len(ids) != 4 || len(texts) != 4 {
		t.Fatalf("ChunkTexts = %d ids, %d texts, %v", len(ids), len(texts), err)
	}

	got, err := store.GetChunks(ctx, "kb", []string{chunks[1].ID, "nope"})
	if err != nil || len(got) != 1 || got[chunks[1].ID] == nil {
		t.Fatalf("GetChunks = %v, %v", got, err)
	}

	// exact filename match: removing a.txt leaves a.txt.bak
	removed, err := store.DeleteDocumentChunks(ctx, "kb", "a.txt")
	if err != nil || len(removed) != 3 {
		t.Fatalf("DeleteDocumentChunks = %v, %v", removed, err)
	}
	n, _ := store.CountChunks(ctx, "kb")
	if n != 1 {
		t.Errorf("CountChunks = %d, want 1", n)
	}
	removed, _ = store.DeleteDocumentChunks(ctx, "kb", "a.txt")
	if len(removed) != 0 {
		t.Errorf("second delete removed %v", removed)
	}
}

func TestSQLiteStorage_ListDocuments(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	chunks := testChunks("kb", "b.txt", "h1", 2)
	_ = store.InsertChunks(ctx, chunks)
	_ = store.InsertChunks(ctx, testChunks("kb", "a.txt", "h2", 1))
	_ = store.CreatePartition(ctx, &models.Partition{KnowledgeBaseID: "kb", Provider: models.ProviderLocal, Name: "sp_kb_kb_local", Dimensions: 2})
	_ = store.UpsertEmbeddings(ctx, "kb", models.ProviderLocal, []string{chunks[0].ID}, [][]float32{{1, 0}})

	docs, err := store.ListDocuments(ctx, "kb")
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 || docs[0].Filename != "a.txt" || docs[1].Filename != "b.txt" {
		t.Fatalf("docs = %+v", docs)
	}
	b := docs[1]
	if b.ChunkCount != 2 || !b.HasLocal || b.HasCloud || b.FileType != "txt" || b.ContentHash != "h1" {
		t.Errorf("b.txt info = %+v", b)
	}
	if docs[0].HasLocal {
		t.Error("a.txt has no embeddings")
	}
}

func TestSQLiteStorage_Partitions(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	if _, err := store.GetPartition(ctx, "kb", models.ProviderCloud); !errors.Is(err, vector.ErrPartitionNotFound) {
		t.Fatalf("expected ErrPartitionNotFound, got %v", err)
	}
	part := &models.Partition{KnowledgeBaseID: "kb", Provider: models.ProviderCloud, Name: "sp_kb_kb_cloud", Dimensions: 3}
	if err := store.CreatePartition(ctx, part); err != nil {
		t.Fatal(err)
	}
	if err := store.CreatePartition(ctx, part); err != nil {
		t.Fatalf("CreatePartition should be idempotent: %v", err)
	}
	got, err := store.GetPartition(ctx, "kb", models.ProviderCloud)
	if err != nil || got.Dimensions != 3 || got.Name != "sp_kb_kb_cloud" {
		t.Fatalf("GetPartition = %+v, %v", got, err)
	}

	ids := []string{"c1", "c2"}
	if err := store.UpsertEmbeddings(ctx, "kb", models.ProviderCloud, ids, [][]float32{{1, 0, 0}, {0, 1, 0}}); err != nil {
		t.Fatal(err)
	}
	if err := store.UpsertEmbeddings(ctx, "kb", models.ProviderCloud, []string{"c1"}, [][]float32{{0, 0, 1}}); err != nil {
		t.Fatal(err)
	}
	loadedIDs, vecs, err := store.LoadEmbeddings(ctx, "kb", models.ProviderCloud)
	if err != nil || len(loadedIDs) != 2 || loadedIDs[0] != "c1" || vecs[0][2] != 1 {
		t.Fatalf("LoadEmbeddings = %v %v %v", loadedIDs, vecs, err)
	}
	if n, _ := store.CountEmbeddings(ctx, "kb", models.ProviderCloud, nil); n != 2 {
		t.Errorf("count = %d", n)
	}
	if n, _ := store.CountEmbeddings(ctx, "kb", models.ProviderCloud, []string{"c2", "c9"}); n != 1 {
		t.Errorf("count subset = %d", n)
	}

	_ = store.DeleteEmbeddings(ctx, "kb", models.ProviderCloud, []string{"c2"})
	if n, _ := store.CountEmbeddings(ctx, "kb", models.ProviderCloud, nil); n != 1 {
		t.Errorf("count after delete = %d", n)
	}

	existed, err := store.DropPartition(ctx, "kb", models.ProviderCloud)
	if err != nil || !existed {
		t.Fatalf("DropPartition = %v, %v", existed, err)
	}
	if n, _ := store.CountEmbeddings(ctx, "kb", models.ProviderCloud, nil); n != 0 {
		t.Errorf("embeddings survive drop: %d", n)
	}
}

func TestSQLiteStorage_SearchContent(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	_ = store.InsertChunks(ctx, []*models.Chunk{
		{ID: "1", KnowledgeBaseID: "kb", Content: "Die Haftung nach Art. 5", Metadata: models.ChunkMetadata{Filename: "a"}},
		{ID: "2", KnowledgeBaseID: "kb", Content: "100% Deckung", Metadata: models.ChunkMetadata{Filename: "b"}},
		{ID: "3", KnowledgeBaseID: "other", Content: "haftung", Metadata: models.ChunkMetadata{Filename: "c"}},
	})

	got, err := store.SearchContent(ctx, []string{"kb"}, "HAFTUNG", 10)
	if err != nil || len(got) != 1 || got[0].ID != "1" {
		t.Fatalf("SearchContent = %+v, %v", got, err)
	}
	got, _ = store.SearchContent(ctx, []string{"kb"}, "%", 10)
	if len(got) != 1 || got[0].ID != "2" {
		t.Errorf("wildcards must be literal: %+v", got)
	}
	got, _ = store.SearchContent(ctx, []string{"kb", "other"}, "haftung", 1)
	if len(got) != 1 {
		t.Errorf("limit ignored: %d", len(got))
	}
}

func TestSQLiteStorage_Jobs(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	old := time.Now().UTC().Add(-48 * time.Hour)

	running := &models.Job{ID: "j1", Type: "reindex", Status: models.JobRunning, Params: map[string]string{"kb_id": "kb"}, CreatedAt: old, StartedAt: &old}
	done := &models.Job{ID: "j2", Type: "reindex_all", Status: models.JobCompleted, CreatedAt: old, FinishedAt: &old,
		Result: map[string]interface{}{"chunks": 3.0}}
	for _, j := range []*models.Job{running, done} {
		if err := store.SaveJob(ctx, j); err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.GetJob(ctx, "j1")
	if err != nil || got.Params["kb_id"] != "kb" || got.StartedAt == nil || got.FinishedAt != nil {
		t.Fatalf("GetJob = %+v, %v", got, err)
	}
	if _, err := store.GetJob(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	n, err := store.FailUnfinishedJobs(ctx, "server restarted")
	if err != nil || n != 1 {
		t.Fatalf("FailUnfinishedJobs = %d, %v", n, err)
	}
	got, _ = store.GetJob(ctx, "j1")
	if got.Status != models.JobFailed || got.Error != "server restarted" {
		t.Errorf("job after restart = %+v", got)
	}

	n, err = store.DeleteFinishedJobsBefore(ctx, time.Now().Add(-24*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("DeleteFinishedJobsBefore = %d, %v", n, err)
	}
	jobs, _ := store.ListJobs(ctx, 0)
	if len(jobs) != 1 || jobs[0].ID != "j1" {
		t.Errorf("remaining jobs = %+v", jobs)
	}
}
