package batcher

import (
	"fmt"
	"strings"
	"testing"

	"github.com/alvmarrod/cashtag-scraper/internal/config"
	"github.com/alvmarrod/cashtag-scraper/internal/storage"
)

func newTestPlanner(budget int) *Planner {
	return NewPlanner(config.DefaultTiers(), budget, 100, NewFilter([]string{"OR", "$OR"}))
}

func ptrInt(v int64) *int64 { return &v }

func keywordSet(groups []Group) map[string]int {
	seen := make(map[string]int)
	for _, g := range groups {
		for _, kw := range g.Keywords {
			seen[kw]++
		}
	}
	return seen
}

func TestPlanCombinesQuietKeywords(t *testing.T) {
	p := newTestPlanner(450)
	scores := map[string]float64{"$AAA": 1, "$BBB": 2}
	checkpoints := map[string]storage.Checkpoint{
		"$AAA": {Keyword: "$AAA", MaxID: ptrInt(120)},
		"$BBB": {Keyword: "$BBB", MaxID: ptrInt(100)},
	}

	groups := p.Plan([]string{"$AAA", "$BBB"}, scores, checkpoints)

	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1: %+v", len(groups), groups)
	}
	g := groups[0]
	if strings.Join(g.Keywords, ",") != "$AAA,$BBB" {
		t.Errorf("keywords = %v", g.Keywords)
	}
	if g.SinceID != 100 {
		t.Errorf("since id = %d, want the smallest member max id 100", g.SinceID)
	}
	if g.Tier != 0 {
		t.Errorf("tier = %d, want 0", g.Tier)
	}
}

func TestPlanTierSizes(t *testing.T) {
	p := newTestPlanner(100000)

	var universe []string
	scores := make(map[string]float64)
	add := func(prefix string, n int, score float64) {
		for i := 0; i < n; i++ {
			kw := fmt.Sprintf("$%s%d", prefix, i)
			universe = append(universe, kw)
			scores[kw] = score
		}
	}
	add("Q", 120, 0.5) // tier 0, combine 50
	add("L", 25, 5)    // tier 1, combine 10
	add("M", 9, 15)    // tier 2, combine 4
	add("H", 3, 30)    // tier 3, combine 2
	add("X", 2, 400)   // unbounded, combine 1

	groups := p.Plan(universe, scores, nil)

	var sizes []int
	for _, g := range groups {
		sizes = append(sizes, len(g.Keywords))
	}
	want := []int{50, 50, 20, 10, 10, 5, 4, 4, 1, 2, 1, 1, 1}
	if fmt.Sprint(sizes) != fmt.Sprint(want) {
		t.Errorf("group sizes = %v, want %v", sizes, want)
	}
}

func TestPlanRespectsLengthBudget(t *testing.T) {
	const budget = 450
	p := newTestPlanner(budget)

	var universe []string
	scores := make(map[string]float64)
	checkpoints := make(map[string]storage.Checkpoint)
	for i := 0; i < 200; i++ {
		kw := fmt.Sprintf("$TICKER%03d", i)
		universe = append(universe, kw)
		scores[kw] = 0
		checkpoints[kw] = storage.Checkpoint{Keyword: kw, MaxID: ptrInt(int64(900000000000000000 + i))}
	}
	long := "$" + strings.Repeat("X", 600)
	universe = append(universe, long)
	scores[long] = 0

	groups := p.Plan(universe, scores, checkpoints)

	for _, g := range groups {
		encoded := len(g.Query(100).Encode())
		if len(g.Keywords) > 1 && encoded >= budget {
			t.Errorf("group of %d encodes to %d chars, budget %d", len(g.Keywords), encoded, budget)
		}
		if len(g.Keywords) > 1 && !p.Fits(g) {
			t.Errorf("Fits() false for planned group %v", g.Keywords)
		}
	}

	last := groups[len(groups)-1]
	if len(last.Keywords) != 1 || last.Keywords[0] != long {
		t.Errorf("oversized keyword should be issued alone, got %v", last.Keywords)
	}

	seen := keywordSet(groups)
	if len(seen) != len(universe) {
		t.Errorf("covered %d keywords, want %d", len(seen), len(universe))
	}
	for kw, n := range seen {
		if n != 1 {
			t.Errorf("keyword %s planned %d times", kw, n)
		}
	}
}

func TestPlanNewKeywordsAreAlone(t *testing.T) {
	p := NewPlanner([]config.Tier{{MaxScore: 3, Combine: 50}, {MaxScore: 0, Combine: 5}}, 450, 100, NewFilter(nil))

	universe := []string{"$OLD1", "$NEW1", "$OLD2", "$OLD3", "$NEW2", "$BUSY1", "$NEW3", "$BUSY2"}
	scores := map[string]float64{"$OLD1": 1, "$OLD2": 1, "$OLD3": 2, "$BUSY1": 90, "$BUSY2": 80}

	groups := p.Plan(universe, scores, nil)

	for _, g := range groups {
		for _, kw := range g.Keywords {
			if strings.HasPrefix(kw, "$NEW") && len(g.Keywords) != 1 {
				t.Errorf("new keyword %s grouped with %v", kw, g.Keywords)
			}
		}
		if g.SinceID != 0 {
			t.Errorf("group %v has since id %d without checkpoints", g.Keywords, g.SinceID)
		}
	}

	var got []string
	for _, g := range groups {
		got = append(got, strings.Join(g.Keywords, "+"))
	}
	want := "$OLD1+$OLD2+$OLD3 $NEW1 $NEW2 $BUSY1 $NEW3 $BUSY2"
	if strings.Join(got, " ") != want {
		t.Errorf("groups = %v, want %s", got, want)
	}
}

func TestPlanExcludesReservedAndDuplicates(t *testing.T) {
	p := newTestPlanner(450)
	universe := []string{"$AAA", "OR", "$OR", "$or", " $AAA ", "", "$BBB"}
	scores := map[string]float64{"$AAA": 0, "$BBB": 0, "OR": 0, "$OR": 0}

	groups := p.Plan(universe, scores, nil)

	seen := keywordSet(groups)
	for _, reserved := range []string{"OR", "$OR", "$or"} {
		if seen[reserved] > 0 {
			t.Errorf("reserved keyword %q planned", reserved)
		}
	}
	if seen["$AAA"] != 1 || seen["$BBB"] != 1 || len(seen) != 2 {
		t.Errorf("planned = %v", seen)
	}
}

func TestPlanSinceIDIgnoresMembersWithoutMaxID(t *testing.T) {
	p := newTestPlanner(450)
	scores := map[string]float64{"$A": 1, "$B": 1, "$Q": 0}
	checkpoints := map[string]storage.Checkpoint{
		"$A": {Keyword: "$A", MaxID: ptrInt(500)},
		"$B": {Keyword: "$B", MaxID: ptrInt(900)},
		"$Q": {Keyword: "$Q"},
	}

	groups := p.Plan([]string{"$A", "$B", "$Q"}, scores, checkpoints)
	if len(groups) != 1 || len(groups[0].Keywords) != 3 || groups[0].SinceID != 500 {
		t.Errorf("groups = %+v, want one group of 3 with since id 500", groups)
	}
}

func TestPlanSinceIDUnsetWhenNoMemberHasMaxID(t *testing.T) {
	p := newTestPlanner(450)
	scores := map[string]float64{"$A": 1, "$B": 1}
	checkpoints := map[string]storage.Checkpoint{
		"$A": {Keyword: "$A"},
	}

	groups := p.Plan([]string{"$A", "$B"}, scores, checkpoints)
	if len(groups) != 1 || groups[0].SinceID != 0 {
		t.Errorf("groups = %+v, want one group with no since id", groups)
	}
}

func TestPlanEmptyUniverse(t *testing.T) {
	if groups := newTestPlanner(450).Plan(nil, nil, nil); len(groups) != 0 {
		t.Errorf("Plan(nil) = %v, want no groups", groups)
	}
}
