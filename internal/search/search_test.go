package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/thebtf/promptshelf/pkg/models"
)

// SearchSuite is a test suite for template filtering and ordering.
type SearchSuite struct {
	suite.Suite
	templates []models.Template
}

func (s *SearchSuite) SetupTest() {
	s.templates = []models.Template{
		{ID: "1", Title: "Sunset Photo", Category: models.CategoryImage, Content: "A sunset over [PLACE]", Tags: []string{"landscape"}, UsageCount: 1, UpdatedAt: "2024-01-03T00:00:00.000Z"},
		{ID: "2", Title: "Product Video", Category: models.CategoryVideo, Content: "Show the product, then a sunset", Tags: []string{"marketing"}, UsageCount: 9, UpdatedAt: "2024-01-01T00:00:00.000Z"},
		{ID: "3", Title: "email reply", Category: models.CategoryAll, Content: "Reply politely to [NAME]", Tags: []string{"Sunset-Team"}, UsageCount: 4, IsFavorite: true, UpdatedAt: "2024-01-02T00:00:00.000Z"},
		{ID: "4", Title: "Custom thing", Category: models.CategoryCustom, Content: "nothing relevant", UpdatedAt: "2024-01-04T00:00:00.000Z"},
	}
}

func TestSearchSuite(t *testing.T) {
	suite.Run(t, new(SearchSuite))
}

func idsOf(templates []models.Template) []string {
	out := make([]string, 0, len(templates))
	for _, t := range templates {
		out = append(out, t.ID)
	}
	return out
}

// TestFilter_TableDriven tests the popup filter semantics.
func (s *SearchSuite) TestFilter_TableDriven() {
	tests := []struct {
		name     string
		params   Params
		expected []string
	}{
		{name: "no filter keeps stored order", params: Params{}, expected: []string{"1", "2", "3", "4"}},
		{name: "all category matches everything", params: Params{Category: models.CategoryAll}, expected: []string{"1", "2", "3", "4"}},
		{name: "category filter", params: Params{Category: models.CategoryVideo}, expected: []string{"2"}},
		{name: "query matches title content and tags", params: Params{Query: "SUNSET"}, expected: []string{"1", "2", "3"}},
		{name: "query and category", params: Params{Query: "sunset", Category: models.CategoryImage}, expected: []string{"1"}},
		{name: "favorites only", params: Params{FavoritesOnly: true}, expected: []string{"3"}},
		{name: "no match", params: Params{Query: "zebra"}, expected: []string{}},
		{name: "limit", params: Params{Limit: 2}, expected: []string{"1", "2"}},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.Equal(tt.expected, idsOf(Search(s.templates, tt.params)))
		})
	}
}

// TestSortOrders tests the non-relevance orders.
func (s *SearchSuite) TestSortOrders() {
	s.Equal([]string{"4", "1", "3", "2"}, idsOf(Search(s.templates, Params{Sort: SortRecent})))
	s.Equal([]string{"2", "3", "1", "4"}, idsOf(Search(s.templates, Params{Sort: SortUsage})))
	s.Equal([]string{"4", "3", "2", "1"}, idsOf(Search(s.templates, Params{Sort: SortTitle})))
}

// TestRelevance tests that title hits outrank content-only hits.
func (s *SearchSuite) TestRelevance() {
	got := idsOf(Search(s.templates, Params{Query: "sunset", Sort: SortRelevance}))
	s.Len(got, 3)
	s.Equal("1", got[0], "title and content hit beats the rest")
}

// TestRelevanceWithoutQuery tests that relevance without a query is stored order.
func (s *SearchSuite) TestRelevanceWithoutQuery() {
	s.Equal([]string{"1", "2", "3", "4"}, idsOf(Search(s.templates, Params{Sort: SortRelevance})))
}

// TestSearchDoesNotMutateInput tests that ordering works on a copy.
func (s *SearchSuite) TestSearchDoesNotMutateInput() {
	Search(s.templates, Params{Sort: SortUsage})
	s.Equal([]string{"1", "2", "3", "4"}, idsOf(s.templates))
}

func TestParseSort(t *testing.T) {
	assert.Equal(t, SortRelevance, ParseSort("relevance"))
	assert.Equal(t, SortUsage, ParseSort("USAGE"))
	assert.Equal(t, SortStored, ParseSort(""))
	assert.Equal(t, SortStored, ParseSort("bogus"))
}
