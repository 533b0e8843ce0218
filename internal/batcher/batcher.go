// Package batcher partitions the keyword universe into query groups. Quiet
// keywords are OR-combined into shared queries to save API quota, busy and
// never-searched keywords are queried on their own.
package batcher

import (
	"github.com/sirupsen/logrus"

	"github.com/alvmarrod/cashtag-scraper/internal/config"
	"github.com/alvmarrod/cashtag-scraper/internal/search"
	"github.com/alvmarrod/cashtag-scraper/internal/storage"
)

// Group is a set of keywords searched with a single query
type Group struct {
	Keywords []string
	// SinceID is the smallest max id among the members that have one, 0 when none do.
	SinceID int64
	// Tier is the index of the activity tier the group was built from.
	Tier int
}

// Query renders the group as a search query
func (g Group) Query(pageSize int) search.Query {
	return search.Query{
		Keywords: g.Keywords,
		SinceID:  g.SinceID,
		PageSize: pageSize,
	}
}

// Planner builds query groups
type Planner struct {
	tiers    []config.Tier
	budget   int
	pageSize int
	filter   *Filter
}

type candidate struct {
	keyword string
	scored  bool
}

// NewPlanner creates a planner. tiers must be ascending and end with an
// unbounded tier; budget is the maximum encoded query length.
func NewPlanner(tiers []config.Tier, budget, pageSize int, filter *Filter) *Planner {
	return &Planner{
		tiers:    tiers,
		budget:   budget,
		pageSize: pageSize,
		filter:   filter,
	}
}

// Plan partitions universe into groups covering every non-reserved keyword
// exactly once. scores holds the exponential average of keywords searched
// before; a keyword missing from scores is new and always gets its own group.
func (p *Planner) Plan(universe []string, scores map[string]float64, checkpoints map[string]storage.Checkpoint) []Group {
	keywords := p.filter.Apply(universe)

	buckets := make([][]candidate, len(p.tiers))
	for _, kw := range keywords {
		score, scored := scores[kw]
		tier := len(p.tiers) - 1
		if scored {
			tier = p.tierFor(score)
		}
		buckets[tier] = append(buckets[tier], candidate{keyword: kw, scored: scored})
	}

	var groups []Group
	for tier, bucket := range buckets {
		for len(bucket) > 0 {
			group := p.nextGroup(tier, bucket, checkpoints)
			groups = append(groups, group)
			bucket = bucket[len(group.Keywords):]

			logrus.Debugf("Tier %d: combined %d keywords %v", tier, len(group.Keywords), group.Keywords)
		}
	}

	return groups
}

// tierFor returns the first tier whose ceiling is above score
func (p *Planner) tierFor(score float64) int {
	for i, tier := range p.tiers {
		if tier.MaxScore > 0 && score < tier.MaxScore {
			return i
		}
	}
	return len(p.tiers) - 1
}

// nextGroup takes the largest prefix of bucket that fits the tier size and
// the length budget. A new keyword is never combined with anything.
func (p *Planner) nextGroup(tier int, bucket []candidate, checkpoints map[string]storage.Checkpoint) Group {
	if !bucket[0].scored {
		return p.group(tier, bucket[:1], checkpoints)
	}

	size := p.tiers[tier].Combine
	if size > len(bucket) {
		size = len(bucket)
	}
	for i := 1; i < size; i++ {
		if !bucket[i].scored {
			size = i
			break
		}
	}

	for {
		group := p.group(tier, bucket[:size], checkpoints)
		if size == 1 || p.Fits(group) {
			return group
		}
		size--
	}
}

func (p *Planner) group(tier int, members []candidate, checkpoints map[string]storage.Checkpoint) Group {
	g := Group{
		Keywords: make([]string, len(members)),
		Tier:     tier,
	}

	for i, m := range members {
		g.Keywords[i] = m.keyword

		// Members without a max id have been searched and found nothing; they
		// do not lower the marker.
		cp, ok := checkpoints[m.keyword]
		if !ok || cp.MaxID == nil {
			continue
		}
		if g.SinceID == 0 || *cp.MaxID < g.SinceID {
			g.SinceID = *cp.MaxID
		}
	}

	return g
}

// Fits reports whether the group's encoded query stays under the budget
func (p *Planner) Fits(g Group) bool {
	return len(g.Query(p.pageSize).Encode()) < p.budget
}
