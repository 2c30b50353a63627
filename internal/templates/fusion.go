package templates

import "sort"

// rrfConstant is the standard reciprocal-rank smoothing parameter.
const rrfConstant = 60

// Ranked is one entry of an ordered result list fed into fusion.
type Ranked struct {
	ID    string
	Score float64
}

// Fused is one result after reciprocal-rank fusion of the keyword and
// semantic lists. Per-source ranks are 1-indexed, 0 when absent.
type Fused struct {
	ID            string
	Score         float64
	KeywordRank   int
	KeywordScore  float64
	SemanticRank  int
	SemanticScore float64
	InBoth        bool
}

// FuseRRF merges a keyword list and a semantic list with reciprocal
// rank fusion: score(d) = Σ 1/(k + rank_i), k = 60. A document missing
// from one list contributes at rank max(len)+1 for that source. Output
// is sorted by fused score, both-lists membership, keyword score, then
// ID, and normalized so the top score is 1.
func FuseRRF(keyword, semantic []Ranked) []Fused {
	if len(keyword) == 0 && len(semantic) == 0 {
		return []Fused{}
	}

	merged := make(map[string]*Fused, len(keyword)+len(semantic))
	get := func(id string) *Fused {
		if f, ok := merged[id]; ok {
			return f
		}
		f := &Fused{ID: id}
		merged[id] = f
		return f
	}

	for i, r := range keyword {
		f := get(r.ID)
		f.KeywordRank = i + 1
		f.KeywordScore = r.Score
		f.Score += 1 / float64(rrfConstant+i+1)
	}
	for i, r := range semantic {
		f := get(r.ID)
		f.SemanticRank = i + 1
		f.SemanticScore = r.Score
		f.Score += 1 / float64(rrfConstant+i+1)
		f.InBoth = f.KeywordRank > 0
	}

	missing := len(keyword)
	if len(semantic) > missing {
		missing = len(semantic)
	}
	missing++
	for _, f := range merged {
		if f.KeywordRank == 0 || f.SemanticRank == 0 {
			f.Score += 1 / float64(rrfConstant+missing)
		}
	}

	out := make([]Fused, 0, len(merged))
	for _, f := range merged {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].InBoth != out[j].InBoth {
			return out[i].InBoth
		}
		if out[i].KeywordScore != out[j].KeywordScore {
			return out[i].KeywordScore > out[j].KeywordScore
		}
		return out[i].ID < out[j].ID
	})

	if top := out[0].Score; top > 0 {
		for i := range out {
			out[i].Score /= top
		}
	}
	return out
}
