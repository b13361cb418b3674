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
	"testing"

	"github.com/gorse-io/shopdash/config"
	"github.com/gorse-io/shopdash/dataset"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSimilarity(t *testing.T) *ItemSimilarity {
	similarity, err := NewItemSimilarityFromTable([]string{"A", "B", "C", "D"}, [][]float64{
		{1, 0.2, 0.9, 0.7},
		{0.2, 1, 0.1, 0.3},
		{0.9, 0.1, 1, 0.5},
		{0.7, 0.3, 0.5, 1},
	})
	require.NoError(t, err)
	return similarity
}

func TestItemSimilarityFromTable(t *testing.T) {
	similarity := newTestSimilarity(t)
	assert.Equal(t, 4, similarity.Len())
	assert.Equal(t, []Neighbor{{"C", 0.9}, {"D", 0.7}, {"B", 0.2}}, similarity.Neighbors("A"))
	assert.Equal(t, []Neighbor{{"D", 0.3}, {"A", 0.2}, {"C", 0.1}}, similarity.Neighbors("B"))
	assert.Empty(t, similarity.Neighbors("Z"))
	assert.Contains(t, similarity.Neighbors("D"), Neighbor{"A", 0.7})
	assert.NotContains(t, lo.Map(similarity.Neighbors("A"), func(n Neighbor, _ int) string { return n.ItemId }), "A")

	// returned slices are copies
	neighbors := similarity.Neighbors("A")
	neighbors[0].ItemId = "Z"
	assert.Equal(t, "C", similarity.Neighbors("A")[0].ItemId)

	_, err := NewItemSimilarityFromTable([]string{"A", "B"}, [][]float64{{1, 0}})
	assert.Error(t, err)
	_, err = NewItemSimilarityFromTable([]string{"A", "B"}, [][]float64{{1, 0}, {0}})
	assert.Error(t, err)
}

func TestItemSimilarityFromPairs(t *testing.T) {
	similarity := NewItemSimilarity([]SimilarityPair{
		{"A", "B", 0.5},
		{"C", "A", 0.5},
		{"A", "D", 0.8},
		{"A", "A", 1},
		{"B", "C", 0.1},
		{"B", "C", 0.4},
	})
	// ties by item id
	assert.Equal(t, []Neighbor{{"D", 0.8}, {"B", 0.5}, {"C", 0.5}}, similarity.Neighbors("A"))
	assert.Equal(t, []Neighbor{{"A", 0.5}, {"C", 0.4}}, similarity.Neighbors("B"))

	assert.Equal(t, []SimilarityPair{
		{"A", "B", 0.5},
		{"A", "C", 0.5},
		{"A", "D", 0.8},
		{"B", "C", 0.4},
	}, similarity.Pairs())

	var nilSimilarity *ItemSimilarity
	assert.Empty(t, nilSimilarity.Neighbors("A"))
	assert.Zero(t, nilSimilarity.Len())
	assert.Empty(t, nilSimilarity.Pairs())
}

func TestComputeItemSimilarity(t *testing.T) {
	txns := []dataset.Transaction{
		{CustomerId: "1", ItemId: "A", Amount: 10, Rating: 5, PriorPurchases: 1},
		{CustomerId: "1", ItemId: "B", Amount: 10, Rating: 5, PriorPurchases: 1},
		{CustomerId: "2", ItemId: "A", Amount: 10, Rating: 5, PriorPurchases: 1},
		{CustomerId: "2", ItemId: "B", Amount: 10, Rating: 5, PriorPurchases: 1},
		{CustomerId: "3", ItemId: "C", Amount: 10, Rating: 5, PriorPurchases: 1},
	}
	m := BuildInteractionMatrix(dataset.NewDataset(txns), NewInteractionScorer(config.GetDefaultConfig().Interaction))
	similarity := ComputeItemSimilarity(m, 1)
	neighbors := similarity.Neighbors("A")
	require.Len(t, neighbors, 2)
	assert.Equal(t, "B", neighbors[0].ItemId)
	assert.InDelta(t, 1, neighbors[0].Similarity, 1e-9)
	assert.Equal(t, Neighbor{"C", 0}, neighbors[1])
	// same table with several workers
	assert.Equal(t, similarity.Pairs(), ComputeItemSimilarity(m, 4).Pairs())
}
