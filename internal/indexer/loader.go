package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/hyperjump/hybridkb/internal/models"
)

// DefaultExtensions are the file types LoadFile understands.
var DefaultExtensions = []string{".txt", ".md", ".json"}

// LoadFile reads a document from disk. Text and markdown files become RawText; a .json
// file must hold a ProcessedDocument produced by an external extractor.
func LoadFile(path string) (*models.ProcessedDocument, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	base := filepath.Base(path)
	ext := strings.ToLower(filepath.Ext(path))

	if ext == ".json" {
		var doc models.ProcessedDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode processed document %s: %w", base, err)
		}
		if doc.Filename == "" && doc.Metadata.Filename == "" {
			doc.Filename = strings.TrimSuffix(base, ext)
		}
		if doc.Metadata.UploadDate.IsZero() {
			doc.Metadata.UploadDate = info.ModTime().UTC()
		}
		return &doc, nil
	}

	if !utf8.Valid(data) {
		return nil, fmt.Errorf("file %s is not valid UTF-8", base)
	}
	return &models.ProcessedDocument{
		Filename: base,
		RawText:  string(data),
		Metadata: models.DocumentMetadata{
			Filename:   base,
			FileType:   strings.TrimPrefix(ext, "."),
			UploadDate: info.ModTime().UTC(),
		},
	}, nil
}

// IngestFile loads path and adds it to kbID.
func (idx *Indexer) IngestFile(ctx context.Context, kbID, path string) (*models.IngestResult, error) {
	doc, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return idx.AddDocument(ctx, kbID, doc)
}

// IngestDirectory walks dir and ingests every regular file with an allowed extension.
// It returns the number of files that were ingested or reconciled.
func (idx *Indexer) IngestDirectory(ctx context.Context, kbID, dir string, allowedExts []string) (int, error) {
	if len(allowedExts) == 0 {
		allowedExts = DefaultExtensions
	}
	info, err := os.Stat(dir)
	if err != nil {
		return 0, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("not a directory: %s", dir)
	}
	n := 0
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !ExtensionAllowed(filepath.Ext(path), allowedExts) {
			return nil
		}
		res, err := idx.IngestFile(ctx, kbID, path)
		if err != nil {
			idx.logger.Warn("ingest failed", zap.String("path", path), zap.Error(err))
			return nil
		}
		if !res.Skipped {
			n++
		}
		return nil
	})
	return n, err
}

// ExtensionAllowed reports whether ext is in allowed, ignoring case and the leading dot.
func ExtensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	if extNorm == "" {
		return false
	}
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
