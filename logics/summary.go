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
	"sort"

	"github.com/gorse-io/shopdash/dataset"
	"github.com/samber/lo"
)

type Summary struct {
	TotalCustomers      int     `json:"total_customers"`
	TotalProducts       int     `json:"total_products"`
	TotalTransactions   int     `json:"total_transactions"`
	TotalRevenue        float64 `json:"total_revenue"`
	AvgTransactionValue float64 `json:"avg_transaction_value"`
	AvgRating           float64 `json:"avg_rating"`
	Categories          int     `json:"categories"`
	Sparsity            float64 `json:"sparsity"`
}

// Summarize computes dataset-wide statistics. Averages of an empty dataset are 0.
func Summarize(d *dataset.Dataset, m *InteractionMatrix) Summary {
	transactions := d.Transactions()
	summary := Summary{
		TotalCustomers:    int(d.CustomerDict().Count()),
		TotalProducts:     int(d.ItemDict().Count()),
		TotalTransactions: len(transactions),
		TotalRevenue:      lo.SumBy(transactions, func(t dataset.Transaction) float64 { return t.Amount }),
		Categories:        len(d.Categories()),
		Sparsity:          m.Sparsity(),
	}
	if len(transactions) > 0 {
		summary.AvgTransactionValue = summary.TotalRevenue / float64(len(transactions))
		summary.AvgRating = lo.SumBy(transactions, func(t dataset.Transaction) float64 {
			return t.Rating
		}) / float64(len(transactions))
	}
	return summary
}

// Insights are the headline findings of the overview page. Empty fields
// mean there is nothing to report.
type Insights struct {
	TopCategory        string `json:"top_category"`
	TopSpendingSegment string `json:"top_spending_segment"`
	TopSpendingGender  string `json:"top_spending_gender,omitempty"`
	TopSeason          string `json:"top_season"`
}

// ComputeInsights finds the most purchased category, the age segment and
// gender with the highest average spend and the season with the highest
// revenue. The gender insight needs at least two genders. Ties go to the
// smaller key.
func ComputeInsights(d *dataset.Dataset) Insights {
	var (
		categoryCount = make(map[string]float64)
		segmentSpend  = make(map[string][]float64)
		genderSpend   = make(map[string][]float64)
		seasonRevenue = make(map[string]float64)
	)
	for _, t := range d.Transactions() {
		if t.Category != "" {
			categoryCount[t.Category]++
		}
		if segment := t.Segment(); segment != "" {
			segmentSpend[segment] = append(segmentSpend[segment], t.Amount)
		}
		if t.Gender != "" {
			genderSpend[t.Gender] = append(genderSpend[t.Gender], t.Amount)
		}
		if t.Season != "" {
			seasonRevenue[t.Season] += t.Amount
		}
	}
	insights := Insights{
		TopCategory:        argMax(categoryCount),
		TopSpendingSegment: argMax(lo.MapValues(segmentSpend, mean)),
		TopSeason:          argMax(seasonRevenue),
	}
	if len(genderSpend) > 1 {
		insights.TopSpendingGender = argMax(lo.MapValues(genderSpend, mean))
	}
	return insights
}

func mean(values []float64, _ string) float64 {
	if len(values) == 0 {
		return 0
	}
	return lo.Sum(values) / float64(len(values))
}

func argMax(values map[string]float64) string {
	keys := lo.Keys(values)
	sort.Strings(keys)
	var best string
	for i, key := range keys {
		if i == 0 || values[key] > values[best] {
			best = key
		}
	}
	return best
}
