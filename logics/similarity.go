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
	"sort"

	"github.com/gorse-io/shopdash/common/parallel"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

// Neighbor is an item similar to the queried one.
type Neighbor struct {
	ItemId     string  `json:"item_id"`
	Similarity float64 `json:"similarity"`
}

// SimilarityPair is one stored similarity between two distinct items.
type SimilarityPair struct {
	ItemA      string
	ItemB      string
	Similarity float64
}

// ItemSimilarity is a read-only symmetric item-item similarity table with
// neighbor lists sorted once at construction.
type ItemSimilarity struct {
	neighbors map[string][]Neighbor
}

// NewItemSimilarity builds a table from pairs. Each pair is mirrored; a
// later pair overrides an earlier one for the same two items. Self pairs
// and NaN similarities are ignored.
func NewItemSimilarity(pairs []SimilarityPair) *ItemSimilarity {
	table := make(map[string]map[string]float64)
	put := func(a, b string, sim float64) {
		if _, exist := table[a]; !exist {
			table[a] = make(map[string]float64)
		}
		table[a][b] = sim
	}
	for _, pair := range pairs {
		if pair.ItemA == pair.ItemB || math.IsNaN(pair.Similarity) {
			continue
		}
		put(pair.ItemA, pair.ItemB, pair.Similarity)
		put(pair.ItemB, pair.ItemA, pair.Similarity)
	}
	s := &ItemSimilarity{neighbors: make(map[string][]Neighbor, len(table))}
	for itemId, row := range table {
		neighbors := lo.MapToSlice(row, func(other string, sim float64) Neighbor {
			return Neighbor{ItemId: other, Similarity: sim}
		})
		sortNeighbors(neighbors)
		s.neighbors[itemId] = neighbors
	}
	return s
}

// NewItemSimilarityFromTable builds a table from a square item × item
// matrix whose rows and columns are both keyed by keys.
func NewItemSimilarityFromTable(keys []string, table [][]float64) (*ItemSimilarity, error) {
	if len(table) != len(keys) {
		return nil, errors.NotValidf("similarity table with %d rows and %d keys", len(table), len(keys))
	}
	var pairs []SimilarityPair
	for i, row := range table {
		if len(row) != len(keys) {
			return nil, errors.NotValidf("row %s with %d columns (expect %d)", keys[i], len(row), len(keys))
		}
		for j := i + 1; j < len(row); j++ {
			pairs = append(pairs, SimilarityPair{ItemA: keys[i], ItemB: keys[j], Similarity: row[j]})
		}
	}
	return NewItemSimilarity(pairs), nil
}

// ComputeItemSimilarity derives cosine similarity between the item columns
// of an interaction matrix using nJobs goroutines. Items without any
// interaction have similarity 0 with every other item.
func ComputeItemSimilarity(m *InteractionMatrix, nJobs int) *ItemSimilarity {
	items := m.Items()
	columns := lo.Map(items, func(itemId string, _ int) []float64 {
		return m.Column(itemId)
	})
	norms := lo.Map(columns, func(column []float64, _ int) float64 {
		return math.Sqrt(dot(column, column))
	})
	rows := make([][]SimilarityPair, len(items))
	parallel.For(len(items), nJobs, func(i int) {
		for j := i + 1; j < len(items); j++ {
			var sim float64
			if norms[i] > 0 && norms[j] > 0 {
				sim = dot(columns[i], columns[j]) / (norms[i] * norms[j])
			}
			rows[i] = append(rows[i], SimilarityPair{ItemA: items[i], ItemB: items[j], Similarity: sim})
		}
	})
	return NewItemSimilarity(lo.Flatten(rows))
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// sortNeighbors orders by similarity descending, then item id ascending.
func sortNeighbors(neighbors []Neighbor) {
	sort.Slice(neighbors, func(i, j int) bool {
		if neighbors[i].Similarity != neighbors[j].Similarity {
			return neighbors[i].Similarity > neighbors[j].Similarity
		}
		return neighbors[i].ItemId < neighbors[j].ItemId
	})
}

// Neighbors returns the items similar to itemId, most similar first,
// excluding itemId itself. An unknown item has no neighbors.
func (s *ItemSimilarity) Neighbors(itemId string) []Neighbor {
	if s == nil {
		return nil
	}
	neighbors := s.neighbors[itemId]
	result := make([]Neighbor, len(neighbors))
	copy(result, neighbors)
	return result
}

// Len returns the number of items with at least one neighbor.
func (s *ItemSimilarity) Len() int {
	if s == nil {
		return 0
	}
	return len(s.neighbors)
}

// Pairs returns each stored similarity once, with ItemA < ItemB, ordered by
// ItemA then ItemB.
func (s *ItemSimilarity) Pairs() []SimilarityPair {
	if s == nil {
		return nil
	}
	var pairs []SimilarityPair
	for a, neighbors := range s.neighbors {
		for _, neighbor := range neighbors {
			if a < neighbor.ItemId {
				pairs = append(pairs, SimilarityPair{ItemA: a, ItemB: neighbor.ItemId, Similarity: neighbor.Similarity})
			}
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].ItemA != pairs[j].ItemA {
			return pairs[i].ItemA < pairs[j].ItemA
		}
		return pairs[i].ItemB < pairs[j].ItemB
	})
	return pairs
}
