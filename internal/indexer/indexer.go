package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/hybridkb/internal/embedding"
	"github.com/hyperjump/hybridkb/internal/fileid"
	"github.com/hyperjump/hybridkb/internal/lexical"
	"github.com/hyperjump/hybridkb/internal/models"
	"github.com/hyperjump/hybridkb/internal/storage"
	"github.com/hyperjump/hybridkb/internal/vector"
	"github.com/hyperjump/hybridkb/pkg/utils"
)

var (
	// ErrIngestionFailed means no provider stored embeddings for the document.
	ErrIngestionFailed = errors.New("ingestion failed: no embedding provider succeeded")
	// ErrEmptyDocument means the document produced no chunks.
	ErrEmptyDocument = errors.New("document has no content")
	// ErrInvalidDocument means the document lacks a filename.
	ErrInvalidDocument = errors.New("document has no filename")
)

// ChunkStore is the chunk provenance the indexer reads and writes.
type ChunkStore interface {
	InsertChunks(ctx context.Context, chunks []*models.Chunk) error
	DeleteDocumentChunks(ctx context.Context, kbID, filename string) ([]string, error)
	DocumentChunks(ctx context.Context, kbID, filename string) ([]*models.Chunk, error)
	DocumentHash(ctx context.Context, kbID, filename string) (string, error)
	ListDocuments(ctx context.Context, kbID string) ([]*models.DocumentInfo, error)
}

// KnowledgeBases checks that a knowledge base exists.
type KnowledgeBases interface {
	Require(ctx context.Context, id string) error
}

// Indexer ingests processed documents into a knowledge base.
type Indexer struct {
	store   ChunkStore
	kbs     KnowledgeBases
	vectors *vector.Manager
	lexical *lexical.Manager
	gateway *embedding.Gateway
	locks   *utils.KeyedMutex
	chunker *Chunker
	now     func() time.Time
	logger  *zap.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for ingestion events.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// NewIndexer creates an indexer. locks must be the same KeyedMutex the registry and
// maintenance operations use.
func NewIndexer(
	store ChunkStore,
	kbs KnowledgeBases,
	vectors *vector.Manager,
	lex *lexical.Manager,
	gateway *embedding.Gateway,
	locks *utils.KeyedMutex,
	chunker *Chunker,
	opts ...IndexerOption,
) *Indexer {
	idx := &Indexer{
		store:   store,
		kbs:     kbs,
		vectors: vectors,
		lexical: lex,
		gateway: gateway,
		locks:   locks,
		chunker: chunker,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(idx)
	}
	idx.logger = utils.OrNop(idx.logger)
	return idx
}

// enabledProviders returns the providers documents are embedded with.
func (idx *Indexer) enabledProviders() []models.Provider {
	var out []models.Provider
	for _, p := range models.Providers {
		if idx.gateway.Configured(p) {
			out = append(out, p)
		}
	}
	return out
}

// AddDocument chunks, embeds and indexes doc in kbID. An unchanged document (same
// filename, same content hash) is skipped unless an enabled provider lacks its vectors,
// in which case only that provider is embedded. A changed document replaces the old version.
func (idx *Indexer) AddDocument(ctx context.Context, kbID string, doc *models.ProcessedDocument) (*models.IngestResult, error) {
	if err := idx.kbs.Require(ctx, kbID); err != nil {
		return nil, err
	}
	filename := doc.Filename
	if filename == "" {
		filename = doc.Metadata.Filename
	}
	if filename == "" {
		return nil, ErrInvalidDocument
	}

	unlock := idx.locks.Lock(kbID)
	defer unlock()

	hash := doc.Metadata.ContentHash
	if hash == "" {
		hash = documentHash(doc)
	}

	replacing := false
	prevHash, err := idx.store.DocumentHash(ctx, kbID, filename)
	switch {
	case err == nil && prevHash == hash:
		return idx.reconcile(ctx, kbID, filename)
	case err == nil:
		replacing = true
	case !errors.Is(err, storage.ErrNotFound):
		return nil, err
	}

	chunks := idx.buildChunks(kbID, filename, hash, doc)
	if len(chunks) == 0 {
		return nil, ErrEmptyDocument
	}
	ids, texts := chunkIDsAndTexts(chunks)

	// The stored version stays untouched until the new one has vectors and a partition
	// to hold them.
	dual := idx.gateway.EmbedDual(ctx, texts, idx.enabledProviders()...)
	if !dual.LocalAvailable() && !dual.CloudAvailable() {
		return nil, fmt.Errorf("%w: %v", ErrIngestionFailed, dual.Err())
	}
	localVecs, cloudVecs := dual.Local, dual.Cloud
	if localVecs != nil && !idx.ensurePartition(ctx, kbID, models.ProviderLocal) {
		localVecs = nil
	}
	if cloudVecs != nil && !idx.ensurePartition(ctx, kbID, models.ProviderCloud) {
		cloudVecs = nil
	}
	if localVecs == nil && cloudVecs == nil {
		return nil, fmt.Errorf("%w: no partition could be prepared", ErrIngestionFailed)
	}

	if replacing {
		idx.logger.Info("document changed, replacing", zap.String("kb_id", kbID), zap.String("filename", filename))
		if _, err := idx.removeLocked(ctx, kbID, filename); err != nil {
			return nil, err
		}
	}

	if err := idx.store.InsertChunks(ctx, chunks); err != nil {
		return nil, fmt.Errorf("failed to store chunks: %w", err)
	}
	res := &models.IngestResult{Chunks: len(chunks)}
	res.Local = idx.storeVectors(ctx, kbID, models.ProviderLocal, ids, localVecs)
	res.Cloud = idx.storeVectors(ctx, kbID, models.ProviderCloud, ids, cloudVecs)
	if !res.Local && !res.Cloud {
		_, _ = idx.store.DeleteDocumentChunks(ctx, kbID, filename)
		return nil, fmt.Errorf("%w: vectors could not be stored", ErrIngestionFailed)
	}

	if err := idx.addLexical(ctx, kbID, ids, texts); err != nil {
		return res, err
	}
	idx.logger.Info("document ingested",
		zap.String("kb_id", kbID),
		zap.String("filename", filename),
		zap.Int("chunks", len(chunks)),
		zap.Bool("local", res.Local),
		zap.Bool("cloud", res.Cloud),
	)
	return res, nil
}

// reconcile embeds an unchanged document for the enabled providers that lack its vectors.
func (idx *Indexer) reconcile(ctx context.Context, kbID, filename string) (*models.IngestResult, error) {
	chunks, err := idx.store.DocumentChunks(ctx, kbID, filename)
	if err != nil {
		return nil, err
	}
	ids, texts := chunkIDsAndTexts(chunks)
	res := &models.IngestResult{Chunks: len(chunks)}

	var missing []models.Provider
	for _, p := range idx.enabledProviders() {
		n, err := idx.vectors.Count(ctx, kbID, p, ids...)
		if err != nil {
			return nil, err
		}
		if n < len(ids) {
			missing = append(missing, p)
			continue
		}
		setProvider(res, p, true)
	}
	if len(missing) == 0 {
		res.Skipped = true
		idx.logger.Debug("document unchanged, skipping", zap.String("kb_id", kbID), zap.String("filename", filename))
		return res, nil
	}

	dual := idx.gateway.EmbedDual(ctx, texts, missing...)
	for _, p := range missing {
		setProvider(res, p, idx.storeVectors(ctx, kbID, p, ids, dual.For(p)))
	}
	if err := idx.addLexical(ctx, kbID, ids, texts); err != nil {
		return res, err
	}
	idx.logger.Info("document reconciled",
		zap.String("kb_id", kbID),
		zap.String("filename", filename),
		zap.Bool("local", res.Local),
		zap.Bool("cloud", res.Cloud),
	)
	return res, nil
}

func setProvider(res *models.IngestResult, p models.Provider, ok bool) {
	if p == models.ProviderLocal {
		res.Local = ok
	} else {
		res.Cloud = ok
	}
}

// documentHash hashes the raw text, or the chunk contents of a pre-chunked document.
func documentHash(doc *models.ProcessedDocument) string {
	if doc.RawText != "" || len(doc.Chunks) == 0 {
		return fileid.ContentHash(doc.RawText)
	}
	contents := make([]string, len(doc.Chunks))
	for i, c := range doc.Chunks {
		contents[i] = c.Content
	}
	return fileid.ContentHash(strings.Join(contents, "\n"))
}

func (idx *Indexer) ensurePartition(ctx context.Context, kbID string, p models.Provider) bool {
	if err := idx.vectors.Ensure(ctx, kbID, p, idx.gateway.Dimensions(p)); err != nil {
		idx.logger.Warn("partition unavailable", zap.String("kb_id", kbID), zap.String("provider", string(p)), zap.Error(err))
		return false
	}
	return true
}

// storeVectors writes vecs into the provider's partition, creating it when needed.
func (idx *Indexer) storeVectors(ctx context.Context, kbID string, p models.Provider, ids []string, vecs [][]float32) bool {
	if vecs == nil || !idx.ensurePartition(ctx, kbID, p) {
		return false
	}
	if err := idx.vectors.Upsert(ctx, kbID, p, ids, vecs); err != nil {
		idx.logger.Warn("storing vectors failed", zap.String("kb_id", kbID), zap.String("provider", string(p)), zap.Error(err))
		return false
	}
	return true
}

func (idx *Indexer) addLexical(ctx context.Context, kbID string, ids, texts []string) error {
	lex, err := idx.lexical.Get(ctx, kbID)
	if err != nil {
		return fmt.Errorf("open lexical index: %w", err)
	}
	if err := lex.Add(ctx, ids, texts); err != nil {
		return fmt.Errorf("update lexical index: %w", err)
	}
	return lex.Save()
}

func (idx *Indexer) buildChunks(kbID, filename, hash string, doc *models.ProcessedDocument) []*models.Chunk {
	docID := doc.ID
	if docID == "" {
		docID = fileid.DocumentID(filename, doc.RawText)
	}
	uploaded := doc.Metadata.UploadDate
	if uploaded.IsZero() {
		uploaded = idx.now().UTC()
	}
	base := models.ChunkMetadata{
		Filename:        filename,
		FileType:        doc.Metadata.FileType,
		Uploader:        doc.Metadata.Uploader,
		UploadDate:      uploaded,
		ContentHash:     hash,
		KnowledgeBaseID: kbID,
		DocumentID:      docID,
	}

	var chunks []*models.Chunk
	if len(doc.Chunks) > 0 {
		offset := 0
		for _, in := range doc.Chunks {
			content := Preprocess(in.Content)
			if content == "" {
				continue
			}
			n := len(chunks)
			meta := base
			meta.ChunkIndex = n
			meta.ChunkStart = offset
			meta.ChunkEnd = offset + len([]rune(content))
			meta.EstimatedTokens = len([]rune(content)) / idx.chunker.charsPerToken
			meta.Extra = in.Metadata
			offset = meta.ChunkEnd
			id := in.ID
			if id == "" {
				id = ChunkID(docID, n)
			}
			chunks = append(chunks, &models.Chunk{ID: id, KnowledgeBaseID: kbID, Content: content, Metadata: meta})
		}
		return chunks
	}

	for _, span := range idx.chunker.Split(doc.RawText) {
		meta := base
		meta.ChunkIndex = span.Index
		meta.ChunkStart = span.Start
		meta.ChunkEnd = span.End
		meta.EstimatedTokens = span.EstimatedTokens
		chunks = append(chunks, &models.Chunk{
			ID:              ChunkID(docID, span.Index),
			KnowledgeBaseID: kbID,
			Content:         span.Text,
			Metadata:        meta,
		})
	}
	return chunks
}

// RemoveDocument deletes the document with exactly this filename from the chunk store,
// both partitions and the lexical index. It reports whether the document existed.
func (idx *Indexer) RemoveDocument(ctx context.Context, kbID, filename string) (bool, error) {
	if err := idx.kbs.Require(ctx, kbID); err != nil {
		return false, err
	}
	unlock := idx.locks.Lock(kbID)
	defer unlock()
	return idx.removeLocked(ctx, kbID, filename)
}

func (idx *Indexer) removeLocked(ctx context.Context, kbID, filename string) (bool, error) {
	ids, err := idx.store.DeleteDocumentChunks(ctx, kbID, filename)
	if err != nil {
		return false, fmt.Errorf("failed to delete chunks: %w", err)
	}
	if len(ids) == 0 {
		return false, nil
	}
	for _, p := range models.Providers {
		if err := idx.vectors.Delete(ctx, kbID, p, ids); err != nil {
			return true, fmt.Errorf("failed to delete %s vectors: %w", p, err)
		}
	}
	lex, err := idx.lexical.Get(ctx, kbID)
	if err != nil {
		return true, fmt.Errorf("open lexical index: %w", err)
	}
	if err := lex.Remove(ctx, ids); err != nil {
		return true, fmt.Errorf("failed to delete from lexical index: %w", err)
	}
	if err := lex.Save(); err != nil {
		return true, err
	}
	idx.logger.Info("document removed", zap.String("kb_id", kbID), zap.String("filename", filename), zap.Int("chunks", len(ids)))
	return true, nil
}

// ListDocuments summarises the documents of a knowledge base.
func (idx *Indexer) ListDocuments(ctx context.Context, kbID string) ([]*models.DocumentInfo, error) {
	if err := idx.kbs.Require(ctx, kbID); err != nil {
		return nil, err
	}
	docs, err := idx.store.ListDocuments(ctx, kbID)
	if docs == nil && err == nil {
		docs = []*models.DocumentInfo{}
	}
	return docs, err
}

// DocumentExists reports whether a document with this filename is stored.
func (idx *Indexer) DocumentExists(ctx context.Context, kbID, filename string) (bool, error) {
	_, err := idx.store.DocumentHash(ctx, kbID, filename)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// DocumentHash returns the stored content hash of a document.
func (idx *Indexer) DocumentHash(ctx context.Context, kbID, filename string) (string, error) {
	return idx.store.DocumentHash(ctx, kbID, filename)
}

// NeedsReembedding reports whether ingesting a document with this hash would do any work.
func (idx *Indexer) NeedsReembedding(ctx context.Context, kbID, filename, hash string) (bool, error) {
	prev, err := idx.store.DocumentHash(ctx, kbID, filename)
	if errors.Is(err, storage.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return prev != hash, nil
}

// DocumentChunks returns a document's chunks ordered by chunk index.
func (idx *Indexer) DocumentChunks(ctx context.Context, kbID, filename string) ([]*models.Chunk, error) {
	return idx.store.DocumentChunks(ctx, kbID, filename)
}

func chunkIDsAndTexts(chunks []*models.Chunk) ([]string, []string) {
	ids := make([]string, len(chunks))
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
		texts[i] = c.Content
	}
	return ids, texts
}
