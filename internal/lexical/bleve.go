package lexical

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/whitespace"
)

const (
	bleveTermsField = "terms"
	bleveAnalyzer   = "kb_terms"
)

// BleveIndex implements Index on top of a Bleve index. Text is tokenized with Tokenize
// before indexing so both backends share one term model; Bleve only splits on whitespace.
type BleveIndex struct {
	path  string
	index bleve.Index
}

type bleveDoc struct {
	Terms string `json:"terms"`
}

// OpenBleveIndex opens the index at path, creating it when the path does not exist.
// An existing index that cannot be opened is reported as ErrIndexCorrupt.
func OpenBleveIndex(path string) (*BleveIndex, error) {
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrIndexCorrupt, path, openErr)
		}
		return &BleveIndex{path: path, index: index}, nil
	}
	im := bleve.NewIndexMapping()
	if err := im.AddCustomAnalyzer(bleveAnalyzer, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": whitespace.Name,
	}); err != nil {
		return nil, fmt.Errorf("register analyzer: %w", err)
	}
	docMapping := bleve.NewDocumentMapping()
	termsField := bleve.NewTextFieldMapping()
	termsField.Analyzer = bleveAnalyzer
	termsField.Store = false
	docMapping.AddFieldMappingsAt(bleveTermsField, termsField)
	im.DefaultMapping = docMapping
	im.DefaultAnalyzer = bleveAnalyzer

	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{path: path, index: index}, nil
}

// Add indexes texts by id in one batch; re-indexing an id replaces it.
func (b *BleveIndex) Add(ctx context.Context, ids []string, texts []string) error {
	if len(ids) != len(texts) {
		return fmt.Errorf("ids and texts length mismatch")
	}
	batch := b.index.NewBatch()
	for i, id := range ids {
		if err := batch.Index(id, bleveDoc{Terms: strings.Join(Tokenize(texts[i]), " ")}); err != nil {
			return fmt.Errorf("bleve batch index %s: %w", id, err)
		}
	}
	return b.index.Batch(batch)
}

// Remove deletes ids in one batch.
func (b *BleveIndex) Remove(ctx context.Context, ids []string) error {
	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	return b.index.Batch(batch)
}

// Reset deletes every document.
func (b *BleveIndex) Reset(ctx context.Context) error {
	ids, err := b.allIDs()
	if err != nil {
		return err
	}
	return b.Remove(ctx, ids)
}

func (b *BleveIndex) allIDs() ([]string, error) {
	count, err := b.index.DocCount()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	req := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
	req.Size = int(count)
	res, err := b.index.Search(req)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(res.Hits))
	for i, hit := range res.Hits {
		ids[i] = hit.ID
	}
	return ids, nil
}

// Search runs a match query over the pre-tokenized terms field.
func (b *BleveIndex) Search(ctx context.Context, query string, topK int) ([]Hit, error) {
	terms := Tokenize(query)
	if len(terms) == 0 || topK <= 0 {
		return nil, nil
	}
	q := bleve.NewMatchQuery(strings.Join(terms, " "))
	q.SetField(bleveTermsField)
	q.Analyzer = bleveAnalyzer
	req := bleve.NewSearchRequest(q)
	req.Size = topK
	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	hits := make([]Hit, 0, len(res.Hits))
	for _, hit := range res.Hits {
		if hit.Score > 0 {
			hits = append(hits, Hit{ID: hit.ID, Score: hit.Score})
		}
	}
	return hits, nil
}

// Len returns the document count, or 0 when it cannot be read.
func (b *BleveIndex) Len() int {
	n, err := b.index.DocCount()
	if err != nil {
		return 0
	}
	return int(n)
}

// Save is a no-op; Bleve writes through on every batch.
func (b *BleveIndex) Save() error {
	return nil
}

// Close closes the underlying index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}

func (b *BleveIndex) deleteFile() error {
	if err := os.RemoveAll(b.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
