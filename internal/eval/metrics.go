package eval

// Score holds the retrieval metrics of one ranked prediction list.
type Score struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	MRR       float64 `json:"mrr"`
}

// MatchFunc reports whether a predicted ID satisfies a ground-truth ID.
type MatchFunc func(predicted, truth string) bool

// Exact matches identical IDs.
func Exact(predicted, truth string) bool { return predicted == truth }

// ScoreIDs compares a ranked prediction list against ground truth.
//
// Duplicate predictions count once, at their first rank. A prediction is
// relevant if it matches any truth ID; a truth ID is recalled if any
// prediction matches it. MRR is the reciprocal rank of the first relevant
// prediction. Empty truth yields a zero score. A nil match uses Exact.
func ScoreIDs(predicted, truth []string, match MatchFunc) Score {
	if match == nil {
		match = Exact
	}
	if len(truth) == 0 {
		return Score{}
	}
	preds := uniq(predicted)

	relevant := 0
	firstRank := 0
	for i, p := range preds {
		for _, t := range truth {
			if match(p, t) {
				relevant++
				if firstRank == 0 {
					firstRank = i + 1
				}
				break
			}
		}
	}

	truths := uniq(truth)
	recalled := 0
	for _, t := range truths {
		for _, p := range preds {
			if match(p, t) {
				recalled++
				break
			}
		}
	}

	var s Score
	if len(preds) > 0 {
		s.Precision = float64(relevant) / float64(len(preds))
	}
	s.Recall = float64(recalled) / float64(len(truths))
	if s.Precision+s.Recall > 0 {
		s.F1 = 2 * s.Precision * s.Recall / (s.Precision + s.Recall)
	}
	if firstRank > 0 {
		s.MRR = 1 / float64(firstRank)
	}
	return s
}

// Mean averages scores field by field. An empty input yields zero.
func Mean(scores []Score) Score {
	if len(scores) == 0 {
		return Score{}
	}
	var m Score
	for _, s := range scores {
		m.Precision += s.Precision
		m.Recall += s.Recall
		m.F1 += s.F1
		m.MRR += s.MRR
	}
	n := float64(len(scores))
	return Score{Precision: m.Precision / n, Recall: m.Recall / n, F1: m.F1 / n, MRR: m.MRR / n}
}

func uniq(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
