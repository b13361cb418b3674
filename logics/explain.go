// Copyright 2025 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logics

import (
	"fmt"
	"math"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/shopdash/dataset"
	"github.com/samber/lo"
)

const (
	// PriceTolerance is the relative distance from the customer's average
	// spend within which an item counts as similarly priced.
	PriceTolerance = 0.3
	// WellRatedThreshold is the minimum average rating of a well rated item.
	WellRatedThreshold = 4.0
)

// Explainer produces human-readable reasons for recommending an item to a
// customer.
type Explainer struct {
	categories mapset.Set[string]
	avgSpent   float64
	hasHistory bool
	stats      map[string]ItemStats
}

func NewExplainer(transactions []dataset.Transaction, stats map[string]ItemStats) *Explainer {
	e := &Explainer{
		categories: mapset.NewThreadUnsafeSet[string](),
		stats:      stats,
		hasHistory: len(transactions) > 0,
	}
	for _, t := range transactions {
		e.categories.Add(t.Category)
	}
	if e.hasHistory {
		e.avgSpent = lo.SumBy(transactions, func(t dataset.Transaction) float64 {
			return t.Amount
		}) / float64(len(transactions))
	}
	return e
}

// Explain returns reasons in a fixed order: a category the customer already
// buys, a price close to the customer's average spend, a good rating.
func (e *Explainer) Explain(itemId string) []string {
	reasons := make([]string, 0, 3)
	item, known := e.stats[itemId]
	if known && e.categories.Contains(item.Category) {
		reasons = append(reasons, fmt.Sprintf("you like the %s category", item.Category))
	}
	if known && e.hasHistory && math.Abs(item.AvgPrice-e.avgSpent) < e.avgSpent*PriceTolerance {
		reasons = append(reasons, "price similar to your previous purchases")
	}
	if known && item.AvgRating >= WellRatedThreshold {
		reasons = append(reasons, "well rated by other customers")
	}
	return reasons
}
