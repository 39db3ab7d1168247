// Package analytics aggregates logged queries into labeled clusters so
// tenants can see what their users keep asking about. A periodic job embeds,
// groups, and LLM-labels the queries from a trailing window; results are
// served from the query_clusters table.
package analytics

import (
	"math"
	"sort"

	"github.com/anzu-ai/anzu/internal/storage"
)

const (
	// similarityThreshold is the minimum cosine similarity for a query to
	// join an existing cluster.
	similarityThreshold = 0.80

	// minClusterSize filters out singleton clusters: one-off questions are
	// noise, not a trend.
	minClusterSize = 2

	// maxClusters bounds how many clusters are labeled and stored per window.
	maxClusters = 20

	// maxExamples bounds the example queries stored per cluster.
	maxExamples = 5
)

// queryCluster is an in-progress group of similar queries. The centroid is
// the running mean of member embeddings, so later queries compare against
// the group as a whole rather than its first member.
type queryCluster struct {
	sum      []float32 // element-wise sum of member embeddings
	centroid []float32
	queries  []string
	count    int
}

func (c *queryCluster) add(emb []float32, query string) {
	for i, v := range emb {
		c.sum[i] += v
	}
	c.count++
	inv := float32(1) / float32(c.count)
	for i, v := range c.sum {
		c.centroid[i] = v * inv
	}
	c.queries = append(c.queries, query)
}

// cosineSimilarity computes the cosine of the angle between two equal-length
// vectors. Returns 0 for zero vectors.
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// clusterQueries groups query logs by embedding similarity using greedy
// centroid assignment: each query joins the nearest cluster above the
// threshold or starts a new one. Single-pass and order-dependent, which is
// fine for trend reporting — exact cluster boundaries don't need to be
// stable across runs. Returns clusters of at least minClusterSize, largest
// first, truncated to maxClusters.
func clusterQueries(logs []storage.QueryLogRecord) []queryCluster {
	var clusters []*queryCluster

	for _, l := range logs {
		if l.Embedding == nil {
			continue
		}
		emb := l.Embedding.Slice()

		var best *queryCluster
		bestSim := float64(similarityThreshold)
		for _, c := range clusters {
			if len(c.centroid) != len(emb) {
				continue
			}
			if sim := cosineSimilarity(c.centroid, emb); sim >= bestSim {
				best = c
				bestSim = sim
			}
		}

		if best != nil {
			best.add(emb, l.Query)
			continue
		}

		c := &queryCluster{
			sum:      make([]float32, len(emb)),
			centroid: make([]float32, len(emb)),
		}
		c.add(emb, l.Query)
		clusters = append(clusters, c)
	}

	var kept []queryCluster
	for _, c := range clusters {
		if c.count >= minClusterSize {
			kept = append(kept, *c)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].count > kept[j].count
	})
	if len(kept) > maxClusters {
		kept = kept[:maxClusters]
	}
	return kept
}

// examples returns up to maxExamples representative queries, deduplicated.
func (c *queryCluster) examples() []string {
	seen := make(map[string]struct{}, len(c.queries))
	var out []string
	for _, q := range c.queries {
		if _, dup := seen[q]; dup {
			continue
		}
		seen[q] = struct{}{}
		out = append(out, q)
		if len(out) == maxExamples {
			break
		}
	}
	return out
}
