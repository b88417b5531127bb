// Package searchclient is the out-of-scope consumer the orchestrator never
// calls directly: it composes a MemoryDb, an embedding.Generator, and
// (for Ask) a textgenerator.Generator into the Query API's search/ask/list
// operations (spec §6). Grounded on the teacher's internal/service/cortex.go
// Search — embed the query, delegate to the store, wrap errors with
// "pkg.Func: step: %w" — generalized from cortex's single-tenant recency
// search to kmemory's tag-filtered, multi-index retrieval.
package searchclient

import (
	"context"
	"fmt"
	"sort"

	"github.com/connexus-ai/kmemory/internal/embedding"
	"github.com/connexus-ai/kmemory/internal/kmerr"
	"github.com/connexus-ai/kmemory/internal/memorydb"
	"github.com/connexus-ai/kmemory/internal/model"
	"github.com/connexus-ai/kmemory/internal/textgenerator"
)

// Partition is one retrieved chunk within a source document.
type Partition struct {
	Text       string
	Relevance  float64
	LastUpdate string
	Tags       model.TagCollection
}

// Source groups every retrieved partition belonging to one document/file.
type Source struct {
	SourceName string
	Link       string
	Partitions []Partition
}

// AskResult is the answer produced by Ask plus the sources it was grounded
// in, per spec §6.
type AskResult struct {
	Text            string
	RelevantSources []Source
}

// Searcher is the Query API surface httpapi depends on, satisfied by both
// *Client and *CachingClient so the HTTP layer doesn't care whether result
// caching is enabled.
type Searcher interface {
	Search(ctx context.Context, index, query string, filters []model.MemoryFilter, minRelevance float64, limit int) ([]Source, error)
	Ask(ctx context.Context, index, question string, filters []model.MemoryFilter, minRelevance float64) (AskResult, error)
	List(ctx context.Context, index string, filters []model.MemoryFilter, limit int) ([]Source, error)
}

// Client implements the Query API (spec §6: search, ask, list) on top of a
// MemoryDb. Db, Embedder, and TextGenerator are shared, thread-safe handles;
// Client itself holds no mutable state.
type Client struct {
	Db            memorydb.MemoryDb
	Embedder      embedding.Generator
	TextGenerator textgenerator.Generator // only required for Ask
}

// Search embeds query, runs a similarity search in index, and groups the
// results by source document (spec §6: search returns
// {results:[{sourceName, link, partitions}]}).
func (c *Client) Search(ctx context.Context, index, query string, filters []model.MemoryFilter, minRelevance float64, limit int) ([]Source, error) {
	const op = "searchclient.Client.Search"
	if query == "" {
		return nil, kmerr.New(kmerr.KindInput, op, fmt.Errorf("query must not be empty"))
	}
	if limit <= 0 {
		limit = 10
	}

	vectors, err := c.Embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("%s: embed: %w", op, err)
	}

	scored, err := c.Db.GetSimilarList(ctx, index, vectors[0], filters, minRelevance, limit, false)
	if err != nil {
		return nil, fmt.Errorf("%s: getSimilarList: %w", op, err)
	}

	return groupScored(scored), nil
}

// Ask runs Search and asks TextGenerator to synthesize an answer grounded in
// the retrieved partitions' text (spec §6: ask returns
// {text, relevantSources}).
func (c *Client) Ask(ctx context.Context, index, question string, filters []model.MemoryFilter, minRelevance float64) (AskResult, error) {
	const op = "searchclient.Client.Ask"
	if c.TextGenerator == nil {
		return AskResult{}, kmerr.New(kmerr.KindConfiguration, op, fmt.Errorf("no TextGenerator configured"))
	}

	sources, err := c.Search(ctx, index, question, filters, minRelevance, 0)
	if err != nil {
		return AskResult{}, err
	}

	var passages []string
	for _, s := range sources {
		for _, p := range s.Partitions {
			passages = append(passages, p.Text)
		}
	}

	answer, err := c.TextGenerator.Generate(ctx, question, passages)
	if err != nil {
		return AskResult{}, fmt.Errorf("%s: generate: %w", op, err)
	}

	return AskResult{Text: answer, RelevantSources: sources}, nil
}

// List returns every record matching filters grouped by source, with no
// ranking (spec §6: list has the same shape as search without relevance).
func (c *Client) List(ctx context.Context, index string, filters []model.MemoryFilter, limit int) ([]Source, error) {
	const op = "searchclient.Client.List"
	records, err := c.Db.GetList(ctx, index, filters, limit, false)
	if err != nil {
		return nil, fmt.Errorf("%s: getList: %w", op, err)
	}

	scored := make([]memorydb.Scored, len(records))
	for i, r := range records {
		scored[i] = memorydb.Scored{Record: r, Score: 0}
	}
	return groupScored(scored), nil
}

// groupScored buckets scored records by source_name (falling back to
// document_id) and orders each bucket's partitions by descending relevance,
// then orders sources by their best partition's relevance.
func groupScored(scored []memorydb.Scored) []Source {
	index := map[string]*Source{}
	var order []string

	for _, sc := range scored {
		r := sc.Record
		model.UpgradeSchema(&r)
		name := firstTag(r.Tags, "source_name")
		if name == "" {
			name = r.DocumentID()
		}
		src, ok := index[name]
		if !ok {
			src = &Source{SourceName: name, Link: r.Payload["source_url"]}
			index[name] = src
			order = append(order, name)
		}
		src.Partitions = append(src.Partitions, Partition{
			Text:       r.Payload["text"],
			Relevance:  sc.Score,
			LastUpdate: firstTag(r.Tags, "last_update"),
			Tags:       r.Tags,
		})
	}

	out := make([]Source, 0, len(order))
	for _, name := range order {
		src := index[name]
		sort.SliceStable(src.Partitions, func(i, j int) bool {
			return src.Partitions[i].Relevance > src.Partitions[j].Relevance
		})
		out = append(out, *src)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return bestRelevance(out[i]) > bestRelevance(out[j])
	})
	return out
}

func bestRelevance(s Source) float64 {
	best := 0.0
	for _, p := range s.Partitions {
		if p.Relevance > best {
			best = p.Relevance
		}
	}
	return best
}

func firstTag(tags model.TagCollection, key string) string {
	if len(tags[key]) == 0 {
		return ""
	}
	return tags[key][0]
}
