package retrieval

import (
	"sort"
	"time"
)

// rankedItem is one row of an already rank-ordered candidate list (index 0
// is the best match). Similarity is only meaningful for vector-list items;
// fulltext-list items leave it zero.
type rankedItem struct {
	ID         int64
	Content    string
	CreatedAt  time.Time
	Metadata   map[string]any
	Similarity float64
}

// fusionCandidate accumulates per-node state across the fulltext and vector
// ranked lists during RRF fusion.
type fusionCandidate struct {
	result Result
	rrf    float64
}

// reciprocalRankFusion combines two rank-ordered lists (fulltext and vector
// hits, each already limited to K') into a single set of candidates scored
// by rrf_score = sum(1 / (k + rank)) over every list the node appears in,
// rank being 1-indexed position within that list.
func reciprocalRankFusion(fulltext, vector []rankedItem, k int) map[int64]*fusionCandidate {
	candidates := make(map[int64]*fusionCandidate)

	accumulate := func(list []rankedItem, carrySimilarity bool) {
		for i, item := range list {
			rank := i + 1
			c := candidates[item.ID]
			if c == nil {
				c = &fusionCandidate{result: Result{
					ID:        item.ID,
					Content:   item.Content,
					CreatedAt: item.CreatedAt,
					Metadata:  item.Metadata,
				}}
				candidates[item.ID] = c
			}
			c.rrf += 1.0 / float64(k+rank)
			if carrySimilarity {
				c.result.Similarity = item.Similarity
			}
		}
	}

	accumulate(fulltext, false)
	accumulate(vector, true)
	return candidates
}

// applyTagBoost adds tag_boost = alpha * matchedWeight / len(queryTags) to
// every candidate whose node carries at least one of queryTags (or their
// ancestors), where matchedWeight sums (1 + 0.1*depth) per matched tag —
// deeper, more specific tags contribute proportionally more.
func applyTagBoost(candidates map[int64]*fusionCandidate, nodeTagDepths map[int64]map[string]int, queryTags []string, alpha float64) {
	if len(queryTags) == 0 {
		return
	}
	querySet := make(map[string]struct{}, len(queryTags))
	for _, t := range expandWithAncestors(queryTags) {
		querySet[t] = struct{}{}
	}

	for nodeID, c := range candidates {
		depths, ok := nodeTagDepths[nodeID]
		if !ok {
			continue
		}
		matched := 0
		weight := 0.0
		for tag, depth := range depths {
			if _, want := querySet[tag]; !want {
				continue
			}
			matched++
			weight += 1 + 0.1*float64(depth)
		}
		if matched == 0 {
			continue
		}
		c.result.TagBoost = alpha * weight / float64(len(queryTags))
	}
}

// rankResults finalizes combined scores and sorts candidates by the tie-break
// order: combined desc, similarity desc, created_at desc, id asc. Truncates
// to limit.
func rankResults(candidates map[int64]*fusionCandidate, limit int) []Result {
	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		c.result.CombinedScore = c.rrf + c.result.TagBoost
		results = append(results, c.result)
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.CombinedScore != b.CombinedScore {
			return a.CombinedScore > b.CombinedScore
		}
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}
