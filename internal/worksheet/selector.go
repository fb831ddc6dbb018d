// Package worksheet implements worksheet generation: reducing an
// over-fetched candidate pool to a bounded, optionally topic-balanced
// selection and persisting the result.
package worksheet

import (
	"math/rand/v2"

	"github.com/grademax/grademax/internal/model"
)

// topicQueue holds the candidates assigned to one requested topic, in
// draw order.
type topicQueue struct {
	code  string
	items []model.Question
}

func (q *topicQueue) pop() (model.Question, bool) {
	if len(q.items) == 0 {
		return model.Question{}, false
	}
	head := q.items[0]
	q.items = q.items[1:]
	return head, true
}

// rotation cycles over non-empty topic queues, drawing one question per
// queue per pass. A queue found empty leaves the rotation.
type rotation struct {
	queues []*topicQueue
	next   int
}

func newRotation(queues []*topicQueue) *rotation {
	active := make([]*topicQueue, 0, len(queues))
	for _, q := range queues {
		if len(q.items) > 0 {
			active = append(active, q)
		}
	}
	return &rotation{queues: active}
}

func (r *rotation) draw() (model.Question, bool) {
	for len(r.queues) > 0 {
		if r.next >= len(r.queues) {
			r.next = 0
		}
		q, ok := r.queues[r.next].pop()
		if !ok {
			r.queues = append(r.queues[:r.next], r.queues[r.next+1:]...)
			continue
		}
		r.next++
		return q, true
	}
	return model.Question{}, false
}

// Selector reduces a candidate pool to at most n questions. With Shuffle
// off the output is fully determined by candidate order; with Shuffle on,
// Rand (if set) seeds the permutations, otherwise the global source is
// used.
type Selector struct {
	Shuffle bool
	Rand    *rand.Rand
}

// Select returns min(n, pool size) distinct questions from candidates.
//
// Without a topic filter, or when n does not exceed the number of filter
// topics, it is a plain (optionally shuffled) truncation. Otherwise
// candidates are partitioned into per-topic queues keyed by the earliest
// matching topic in filter order, and drawn round-robin so every
// requested topic is represented as evenly as the pool allows; once all
// queues are exhausted the remainder is topped up from unmatched
// candidates.
func (sel Selector) Select(candidates []model.Question, topicCodes []string, n int) []model.Question {
	if n <= 0 || len(candidates) == 0 {
		return nil
	}
	candidates = dedupe(candidates)

	if len(topicCodes) == 0 || n <= len(topicCodes) {
		pool := append([]model.Question(nil), candidates...)
		if sel.Shuffle {
			sel.shuffle(pool)
		}
		if len(pool) > n {
			pool = pool[:n]
		}
		return pool
	}

	queues := make([]*topicQueue, len(topicCodes))
	rank := make(map[string]int, len(topicCodes))
	for i, code := range topicCodes {
		queues[i] = &topicQueue{code: code}
		rank[code] = i
	}

	// Each question joins exactly one queue, keyed by its earliest
	// matching topic in filter order, so it cannot count toward two
	// topics. Candidates matching no requested topic are kept aside
	// for top-up.
	var spare []model.Question
	for _, q := range candidates {
		best := -1
		for _, code := range q.TopicCodes {
			if i, ok := rank[code]; ok && (best == -1 || i < best) {
				best = i
			}
		}
		if best >= 0 {
			queues[best].items = append(queues[best].items, q)
		} else {
			spare = append(spare, q)
		}
	}

	if sel.Shuffle {
		for _, q := range queues {
			sel.shuffle(q.items)
		}
		sel.shuffle(spare)
	}

	result := make([]model.Question, 0, n)
	rot := newRotation(queues)
	for len(result) < n {
		q, ok := rot.draw()
		if !ok {
			break
		}
		result = append(result, q)
	}
	for _, q := range spare {
		if len(result) >= n {
			break
		}
		result = append(result, q)
	}
	return result
}

func (sel Selector) shuffle(qs []model.Question) {
	swap := func(i, j int) { qs[i], qs[j] = qs[j], qs[i] }
	if sel.Rand != nil {
		sel.Rand.Shuffle(len(qs), swap)
		return
	}
	rand.Shuffle(len(qs), swap)
}

// dedupe drops repeated question IDs, keeping the first occurrence.
func dedupe(qs []model.Question) []model.Question {
	seen := make(map[int64]bool, len(qs))
	out := qs[:0:0]
	for _, q := range qs {
		if seen[q.ID] {
			continue
		}
		seen[q.ID] = true
		out = append(out, q)
	}
	return out
}
