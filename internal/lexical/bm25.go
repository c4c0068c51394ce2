package lexical

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	bm25SnapshotVersion = "1"

	defaultK1      = 1.5
	defaultB       = 0.75
	defaultEpsilon = 0.25
	// minIDF keeps a matching term from scoring zero or negative in tiny corpora where
	// every term occurs in most documents.
	minIDF = 0.01
)

// BM25Index is an Okapi BM25 index held in memory and persisted as a msgpack snapshot.
type BM25Index struct {
	path    string
	k1      float64
	b       float64
	epsilon float64

	mu       sync.RWMutex
	ids      []string
	position map[string]int
	tokens   [][]string
	freqs    []map[string]int
	idf      map[string]float64
	avgdl    float64
}

type bm25Snapshot struct {
	Version string     `msgpack:"v"`
	IDs     []string   `msgpack:"ids"`
	Tokens  [][]string `msgpack:"tokens"`
}

// NewBM25Index returns an empty index that persists to path. An empty path disables persistence.
func NewBM25Index(path string) *BM25Index {
	return &BM25Index{
		path:     path,
		k1:       defaultK1,
		b:        defaultB,
		epsilon:  defaultEpsilon,
		position: make(map[string]int),
		idf:      make(map[string]float64),
	}
}

// Load replaces the in-memory contents with the persisted snapshot.
// Returns ErrIndexNotFound when no snapshot exists and ErrIndexCorrupt when it cannot be decoded.
func (x *BM25Index) Load() error {
	f, err := os.Open(x.path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrIndexNotFound
		}
		return fmt.Errorf("open lexical index: %w", err)
	}
	defer f.Close()

	var snap bm25Snapshot
	if err := msgpack.NewDecoder(f).Decode(&snap); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrIndexCorrupt, x.path, err)
	}
	if snap.Version != bm25SnapshotVersion || len(snap.IDs) != len(snap.Tokens) {
		return fmt.Errorf("%w: %s: unexpected snapshot layout", ErrIndexCorrupt, x.path)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.ids = x.ids[:0]
	x.tokens = x.tokens[:0]
	x.freqs = x.freqs[:0]
	x.position = make(map[string]int, len(snap.IDs))
	for i, id := range snap.IDs {
		x.appendLocked(id, snap.Tokens[i])
	}
	x.recomputeLocked()
	return nil
}

// Save writes the snapshot atomically (temp file + rename).
func (x *BM25Index) Save() error {
	if x.path == "" {
		return nil
	}
	x.mu.RLock()
	snap := bm25Snapshot{Version: bm25SnapshotVersion, IDs: x.ids, Tokens: x.tokens}
	err := writeMsgpackSnapshot(x.path, &snap)
	x.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("save lexical index: %w", err)
	}
	return nil
}

func writeMsgpackSnapshot(path string, snapshot any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := msgpack.NewEncoder(file).Encode(snapshot); err != nil {
		file.Close()
		os.Remove(tmp)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// Add tokenizes and indexes texts, replacing existing entries with the same id.
func (x *BM25Index) Add(ctx context.Context, ids []string, texts []string) error {
	if len(ids) != len(texts) {
		return fmt.Errorf("ids and texts length mismatch")
	}
	tokenized := make([][]string, len(texts))
	for i, t := range texts {
		tokenized[i] = Tokenize(t)
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	for i, id := range ids {
		if pos, ok := x.position[id]; ok {
			x.tokens[pos] = tokenized[i]
			x.freqs[pos] = termFreqs(tokenized[i])
			continue
		}
		x.appendLocked(id, tokenized[i])
	}
	x.recomputeLocked()
	return nil
}

// Remove drops entries by id; unknown ids are ignored.
func (x *BM25Index) Remove(ctx context.Context, ids []string) error {
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	oldIDs, oldTokens := x.ids, x.tokens
	x.ids, x.tokens, x.freqs = nil, nil, nil
	x.position = make(map[string]int, len(oldIDs))
	for i, id := range oldIDs {
		if !drop[id] {
			x.appendLocked(id, oldTokens[i])
		}
	}
	x.recomputeLocked()
	return nil
}

// Reset empties the index.
func (x *BM25Index) Reset(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.ids, x.tokens, x.freqs = nil, nil, nil
	x.position = make(map[string]int)
	x.recomputeLocked()
	return nil
}

// Search scores every entry against the tokenized query.
func (x *BM25Index) Search(ctx context.Context, query string, topK int) ([]Hit, error) {
	terms := Tokenize(query)
	x.mu.RLock()
	defer x.mu.RUnlock()
	if len(terms) == 0 || len(x.ids) == 0 || topK <= 0 {
		return nil, nil
	}
	hits := make([]Hit, 0)
	for i, freqs := range x.freqs {
		dl := float64(len(x.tokens[i]))
		var score float64
		for _, term := range terms {
			tf := float64(freqs[term])
			if tf == 0 {
				continue
			}
			norm := tf + x.k1*(1-x.b+x.b*dl/x.avgdl)
			score += x.idf[term] * tf * (x.k1 + 1) / norm
		}
		if score > 0 {
			hits = append(hits, Hit{ID: x.ids[i], Score: score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Len returns the number of indexed entries.
func (x *BM25Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.ids)
}

// IDs returns the indexed ids in insertion order.
func (x *BM25Index) IDs() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return append([]string(nil), x.ids...)
}

// Close is a no-op; call Save to persist.
func (x *BM25Index) Close() error {
	return nil
}

// Remove the snapshot file. A missing file is not an error.
func (x *BM25Index) deleteFile() error {
	if x.path == "" {
		return nil
	}
	if err := os.Remove(x.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (x *BM25Index) appendLocked(id string, tokens []string) {
	x.position[id] = len(x.ids)
	x.ids = append(x.ids, id)
	x.tokens = append(x.tokens, tokens)
	x.freqs = append(x.freqs, termFreqs(tokens))
}

// recomputeLocked refreshes document frequencies, IDF and average document length.
// Negative IDF values (terms in more than half the corpus) are replaced by
// epsilon * mean IDF, floored at minIDF.
func (x *BM25Index) recomputeLocked() {
	n := len(x.ids)
	x.idf = make(map[string]float64)
	x.avgdl = 0
	if n == 0 {
		return
	}
	df := make(map[string]int)
	var total int
	for i, freqs := range x.freqs {
		total += len(x.tokens[i])
		for term := range freqs {
			df[term]++
		}
	}
	x.avgdl = float64(total) / float64(n)
	if x.avgdl == 0 {
		x.avgdl = 1
	}
	var idfSum float64
	var negative []string
	for term, freq := range df {
		idf := math.Log(float64(n)-float64(freq)+0.5) - math.Log(float64(freq)+0.5)
		x.idf[term] = idf
		idfSum += idf
		if idf < 0 {
			negative = append(negative, term)
		}
	}
	eps := x.epsilon * idfSum / float64(len(df))
	if eps < minIDF {
		eps = minIDF
	}
	for _, term := range negative {
		x.idf[term] = eps
	}
	for term, idf := range x.idf {
		if idf < minIDF {
			x.idf[term] = minIDF
		}
	}
}

func termFreqs(tokens []string) map[string]int {
	m := make(map[string]int, len(tokens))
	for _, t := range tokens {
		m[t]++
	}
	return m
}
