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
	"math"

	"github.com/gorse-io/shopdash/dataset"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

type CustomerProfile struct {
	CustomerId       string   `json:"customer_id"`
	Age              int      `json:"age"`
	Gender           string   `json:"gender"`
	Location         string   `json:"location"`
	Segment          string   `json:"segment"`
	TotalPurchases   int      `json:"total_purchases"`
	UniqueItems      int      `json:"unique_items"`
	TotalSpent       float64  `json:"total_spent"`
	AvgSpent         float64  `json:"avg_spent"`
	AvgRating        float64  `json:"avg_rating"`
	FavoriteCategory string   `json:"favorite_category"`
	PurchaseHistory  []string `json:"purchase_history"`
	LifetimeValue    float64  `json:"lifetime_value"`
}

// BuildProfile aggregates the transactions of a customer. Demographics come
// from the first transaction. The purchase history keeps the first
// historySize distinct items in row order.
func BuildProfile(d *dataset.Dataset, customerId string, historySize int) (*CustomerProfile, error) {
	transactions := d.CustomerTransactions(customerId)
	if len(transactions) == 0 {
		return nil, errors.NotFoundf("customer %s", customerId)
	}
	first := transactions[0]
	items := lo.Uniq(lo.Map(transactions, func(t dataset.Transaction, _ int) string {
		return t.ItemId
	}))
	totalSpent := lo.SumBy(transactions, func(t dataset.Transaction) float64 {
		return t.Amount
	})
	avgRating := lo.SumBy(transactions, func(t dataset.Transaction) float64 {
		return t.Rating
	}) / float64(len(transactions))
	return &CustomerProfile{
		CustomerId:       customerId,
		Age:              first.Age,
		Gender:           first.Gender,
		Location:         first.Location,
		Segment:          first.Segment(),
		TotalPurchases:   len(transactions),
		UniqueItems:      len(items),
		TotalSpent:       totalSpent,
		AvgSpent:         totalSpent / float64(len(transactions)),
		AvgRating:        avgRating,
		FavoriteCategory: FavoriteCategory(transactions),
		PurchaseHistory:  items[:min(len(items), max(historySize, 0))],
		LifetimeValue:    LifetimeValue(totalSpent, avgRating, len(transactions)),
	}, nil
}

// FavoriteCategory returns the most frequent category. Ties go to the
// category encountered first.
func FavoriteCategory(transactions []dataset.Transaction) string {
	categories := lo.Map(transactions, func(t dataset.Transaction, _ int) string {
		return t.Category
	})
	counts := lo.CountValues(categories)
	var (
		favorite string
		best     int
	)
	for _, category := range lo.Uniq(categories) {
		if counts[category] > best {
			favorite, best = category, counts[category]
		}
	}
	return favorite
}

// LifetimeValue estimates the value of a customer as
// totalSpent * (1 + avgRating/5) * ln(1 + purchases).
func LifetimeValue(totalSpent, avgRating float64, purchases int) float64 {
	return totalSpent * (1 + avgRating/5) * math.Log1p(float64(purchases))
}
