// Package keyword provides the Bleve implementation of Index.
package keyword

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
)

// BleveIndex implements Index using Bleve over photo filenames.
type BleveIndex struct {
	index bleve.Index
}

// NewBleveIndex creates or opens a Bleve index at path.
// An existing index directory is opened and reused; remove the directory to
// force a mapping change to take effect.
func NewBleveIndex(path string) (*BleveIndex, error) {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) so "birthday"
	// matches "birthday_party.jpg" without stem surprises.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("filename", textFieldMapping)
	docMapping.AddFieldMappingsAt("path", textFieldMapping)
	im.AddDocumentMapping("photo", docMapping)
	im.DefaultType = "photo"
	im.DefaultMapping = docMapping

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// Index indexes one photo by its path.
func (b *BleveIndex) Index(ctx context.Context, path string) error {
	doc := &PhotoDoc{
		Filename: filepath.Base(path),
		Path:     path,
	}
	return b.index.Index(path, doc)
}

// Search runs a match query over filenames (boosted) and paths.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int) ([]*Result, error) {
	fq := bleve.NewMatchQuery(query)
	fq.SetField("filename")
	fq.SetBoost(3.0)
	pq := bleve.NewMatchQuery(query)
	pq.SetField("path")
	q := bleve.NewDisjunctionQuery(fq, pq)

	req := bleve.NewSearchRequest(q)
	req.Size = limit
	results, err := b.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]*Result, len(results.Hits))
	for i, hit := range results.Hits {
		out[i] = &Result{Path: hit.ID, Score: hit.Score}
	}
	return out, nil
}

// Delete removes one photo from the index.
func (b *BleveIndex) Delete(ctx context.Context, path string) error {
	return b.index.Delete(path)
}

// Reset removes every document. Used before re-populating during a rebuild.
func (b *BleveIndex) Reset(ctx context.Context) error {
	q := bleve.NewMatchAllQuery()
	req := bleve.NewSearchRequest(q)
	req.Size = 1000
	for {
		results, err := b.index.Search(req)
		if err != nil {
			return fmt.Errorf("Bleve reset scan failed: %w", err)
		}
		if len(results.Hits) == 0 {
			return nil
		}
		batch := b.index.NewBatch()
		for _, hit := range results.Hits {
			batch.Delete(hit.ID)
		}
		if err := b.index.Batch(batch); err != nil {
			return fmt.Errorf("Bleve reset batch failed: %w", err)
		}
	}
}

// DocCount returns the number of indexed photos.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the underlying index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
