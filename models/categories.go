package models

import (
	"sort"

	"github.com/samber/lo"
)

// Category keys. These are the exact JSON keys the classifier must return
const (
	SolutionRequests = "solutionRequests"
	PainAndAnger     = "painAndAnger"
	AdviceRequests   = "adviceRequests"
	MoneyTalk        = "moneyTalk"
)

type Category struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Categories is the fixed, ordered category set. The classifier prompt, the
// classifier schema, the store columns and the theme grouping all read from it.
var Categories = []Category{
	{Key: SolutionRequests, Name: "Solution Requests", Description: "Posts where people are seeking solutions for problems"},
	{Key: PainAndAnger, Name: "Pain and Anger", Description: "Posts where people are expressing their pain and anger"},
	{Key: AdviceRequests, Name: "Advice Requests", Description: "Posts where people are seeking advice"},
	{Key: MoneyTalk, Name: "Money Talk", Description: "Posts where people are talking about spending money"},
}

// CategoryKeys returns the keys of Categories in order
func CategoryKeys() []string {
	return lo.Map(Categories, func(c Category, _ int) string { return c.Key })
}

// Classification holds one boolean per category
type Classification struct {
	SolutionRequests bool `json:"solutionRequests"`
	PainAndAnger     bool `json:"painAndAnger"`
	AdviceRequests   bool `json:"adviceRequests"`
	MoneyTalk        bool `json:"moneyTalk"`
}

// Has reports whether the classification is flagged for the category key.
// Unknown keys are never flagged.
func (c Classification) Has(key string) bool {
	switch key {
	case SolutionRequests:
		return c.SolutionRequests
	case PainAndAnger:
		return c.PainAndAnger
	case AdviceRequests:
		return c.AdviceRequests
	case MoneyTalk:
		return c.MoneyTalk
	}
	return false
}

// ClassificationFromMap builds a Classification from a complete key -> bool map.
// The second return value is false if any category key is missing.
func ClassificationFromMap(values map[string]bool) (Classification, bool) {
	for _, key := range CategoryKeys() {
		if _, ok := values[key]; !ok {
			return Classification{}, false
		}
	}
	return Classification{
		SolutionRequests: values[SolutionRequests],
		PainAndAnger:     values[PainAndAnger],
		AdviceRequests:   values[AdviceRequests],
		MoneyTalk:        values[MoneyTalk],
	}, true
}

// Theme is a category together with the posts flagged for it
type Theme struct {
	Category
	Posts []ClassifiedItem `json:"posts"`
}

// GroupByCategory returns one Theme per category in Categories order. A post
// appears under every category it is flagged for.
func GroupByCategory(items []ClassifiedItem) []Theme {
	return lo.Map(Categories, func(c Category, _ int) Theme {
		posts := lo.Filter(items, func(item ClassifiedItem, _ int) bool {
			return item.Classification.Has(c.Key)
		})
		return Theme{Category: c, Posts: posts}
	})
}

// SortItems orders items by score, highest first. Ties fall back to newest first.
func SortItems(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
}

// SortClassifiedItems orders classified items newest first
func SortClassifiedItems(items []ClassifiedItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ExternalId < items[j].ExternalId
	})
}
