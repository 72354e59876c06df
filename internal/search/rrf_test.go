package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type RRFSuite struct {
	suite.Suite
}

func TestRRFSuite(t *testing.T) {
	suite.Run(t, new(RRFSuite))
}

func expectedRRFContribution(listIndex int, rank int) float64 {
	weight := 1.0
	if listIndex < 2 {
		weight = 2.0
	}

	rankBonus := 0.0
	if rank == 0 {
		rankBonus = 0.05
	} else if rank <= 2 {
		rankBonus = 0.02
	}

	return weight/(60.0+float64(rank)+1.0) + rankBonus
}

func findResultScore(result []ScoredID, id string) (float64, bool) {
	for _, item := range result {
		if item.ID == id {
			return item.Score, true
		}
	}
	return 0, false
}

func ids(items ...string) []ScoredID {
	out := make([]ScoredID, 0, len(items))
	for _, id := range items {
		out = append(out, ScoredID{ID: id})
	}
	return out
}

func (s *RRFSuite) TestRRF_EmptyInput_ReturnsEmptyResult() {
	assert.Empty(s.T(), RRF())
}

func (s *RRFSuite) TestRRF_SingleList_ContributionsAndSorting() {
	result := RRF(ids("a", "b"))

	assert.Len(s.T(), result, 2)
	assert.Greater(s.T(), result[0].Score, result[1].Score)

	rank0Score, ok := findResultScore(result, "a")
	assert.True(s.T(), ok)
	assert.InDelta(s.T(), expectedRRFContribution(0, 0), rank0Score, 1e-12)

	rank1Score, ok := findResultScore(result, "b")
	assert.True(s.T(), ok)
	assert.InDelta(s.T(), expectedRRFContribution(0, 1), rank1Score, 1e-12)
}

func (s *RRFSuite) TestRRF_TwoLists_DeduplicateAndAccumulateScore() {
	result := RRF(ids("a", "b"), ids("a", "c"))

	assert.Len(s.T(), result, 3)
	assert.Equal(s.T(), "a", result[0].ID)

	score1, ok := findResultScore(result, "a")
	assert.True(s.T(), ok)
	assert.InDelta(s.T(), expectedRRFContribution(0, 0)+expectedRRFContribution(1, 0), score1, 1e-12)

	score2, ok := findResultScore(result, "b")
	assert.True(s.T(), ok)
	assert.InDelta(s.T(), expectedRRFContribution(0, 1), score2, 1e-12)

	score3, ok := findResultScore(result, "c")
	assert.True(s.T(), ok)
	assert.InDelta(s.T(), expectedRRFContribution(1, 1), score3, 1e-12)
}

func (s *RRFSuite) TestRRF_ThirdList_UsesSingleWeight() {
	result := RRF(ids("a"), ids("b"), ids("a"))

	assert.Len(s.T(), result, 2)

	weight3, ok := findResultScore(result, "a")
	assert.True(s.T(), ok)
	assert.InDelta(s.T(), expectedRRFContribution(0, 0)+expectedRRFContribution(2, 0), weight3, 1e-12)
}

func (s *RRFSuite) TestRRF_TiesKeepFirstSeenOrder() {
	result := RRF(ids("x"), ids("y"))
	assert.Equal(s.T(), []string{"x", "y"}, []string{result[0].ID, result[1].ID})
}

func (s *RRFSuite) TestRRF_RankBonusByRank() {
	result := RRF(ids("r0", "r1", "r2", "r3"))

	tests := []struct {
		name string
		id   string
		rank int
	}{
		{name: "rank 0", id: "r0", rank: 0},
		{name: "rank 1", id: "r1", rank: 1},
		{name: "rank 2", id: "r2", rank: 2},
		{name: "rank 3", id: "r3", rank: 3},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			score, found := findResultScore(result, tt.id)
			assert.True(s.T(), found)
			assert.InDelta(s.T(), expectedRRFContribution(0, tt.rank), score, 1e-12)
		})
	}

	for i := 0; i < len(result)-1; i++ {
		assert.Greater(s.T(), result[i].Score, result[i+1].Score)
	}
}
