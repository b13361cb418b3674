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

// InteractionMatrix is a dense customer × item table of mean interaction
// scores. Rows and columns follow ascending identifier order; absent pairs
// are 0. Storage is O(customers × items).
type InteractionMatrix struct {
	customers *dataset.FreqDict
	items     *dataset.FreqDict
	values    [][]float64
	nonZero   int
}

// BuildInteractionMatrix aggregates the interaction scores of a dataset.
// The result does not depend on the order of transactions.
func BuildInteractionMatrix(d *dataset.Dataset, scorer InteractionScorer) *InteractionMatrix {
	customers, items := d.CustomerDict(), d.ItemDict()
	maxAmount, maxPriors := d.MaxAmount(), d.MaxPriorPurchases()
	scores := make(map[lo.Tuple2[int32, int32]][]float64)
	for _, t := range d.Transactions() {
		cell := lo.T2(customers.Id(t.CustomerId), items.Id(t.ItemId))
		scores[cell] = append(scores[cell], scorer.Score(t, maxAmount, maxPriors))
	}
	m := &InteractionMatrix{
		customers: customers,
		items:     items,
		values:    make([][]float64, customers.Count()),
	}
	for row := range m.values {
		m.values[row] = make([]float64, items.Count())
	}
	for cell, values := range scores {
		// sum in sorted order so that floating point rounding does not depend on row order
		sort.Float64s(values)
		m.values[cell.A][cell.B] = lo.Sum(values) / float64(len(values))
		if m.values[cell.A][cell.B] > 0 {
			m.nonZero++
		}
	}
	return m
}

func (m *InteractionMatrix) Customers() []string {
	return m.customers.Keys()
}

func (m *InteractionMatrix) Items() []string {
	return m.items.Keys()
}

// Shape returns the number of customers and items.
func (m *InteractionMatrix) Shape() (int, int) {
	return int(m.customers.Count()), int(m.items.Count())
}

// Get returns the mean interaction score of a pair, 0 if the pair never interacted.
func (m *InteractionMatrix) Get(customerId, itemId string) float64 {
	row, col := m.customers.Id(customerId), m.items.Id(itemId)
	if row < 0 || col < 0 {
		return 0
	}
	return m.values[row][col]
}

// Column returns a copy of the scores of an item in customer order, nil if unknown.
func (m *InteractionMatrix) Column(itemId string) []float64 {
	col := m.items.Id(itemId)
	if col < 0 {
		return nil
	}
	values := make([]float64, len(m.values))
	for row := range m.values {
		values[row] = m.values[row][col]
	}
	return values
}

// Sparsity returns the percentage of cells without a positive score.
func (m *InteractionMatrix) Sparsity() float64 {
	rows, cols := m.Shape()
	total := rows * cols
	if total == 0 {
		return 0
	}
	return (1 - float64(m.nonZero)/float64(total)) * 100
}
