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
	"github.com/stretchr/testify/assert"
)

func newTestTransactions() []dataset.Transaction {
	return []dataset.Transaction{
		{CustomerId: "C001", ItemId: "A", Category: "X", Amount: 50, Rating: 4, PriorPurchases: 5, Age: 22, Gender: "Female", Location: "Lima", Season: "Summer"},
		{CustomerId: "C001", ItemId: "B", Category: "Y", Amount: 30, Rating: 3, PriorPurchases: 5, Age: 22, Gender: "Female", Location: "Lima", Season: "Summer"},
		{CustomerId: "C002", ItemId: "A", Category: "X", Amount: 100, Rating: 5, PriorPurchases: 10, Age: 45, Gender: "Male", Location: "Cusco", Season: "Winter"},
		{CustomerId: "C002", ItemId: "C", Category: "Y", Amount: 80, Rating: 4, PriorPurchases: 10, Age: 45, Gender: "Male", Location: "Cusco", Season: "Winter"},
		{CustomerId: "C002", ItemId: "D", Category: "X", Amount: 20, Rating: 2, PriorPurchases: 10, Age: 45, Gender: "Male", Location: "Cusco", Season: "Winter"},
		{CustomerId: "C003", ItemId: "D", Category: "X", Amount: 40, Rating: 4.5, PriorPurchases: 0, Age: 65, Gender: "Female", Location: "Piura", Season: "Winter"},
		{CustomerId: "C003", ItemId: "E", Category: "X", Amount: 60, Rating: 4, PriorPurchases: 0, Age: 65, Gender: "Female", Location: "Piura", Season: "Winter"},
	}
}

func TestInteractionScore(t *testing.T) {
	scorer := NewInteractionScorer(config.GetDefaultConfig().Interaction)
	txn := dataset.Transaction{Rating: 4, Amount: 50, PriorPurchases: 5}
	assert.InDelta(t, 3.1, scorer.Score(txn, 100, 10), 1e-9)
	// degenerate maxima
	assert.InDelta(t, 1.6, scorer.Score(txn, 0, 0), 1e-9)
	// ratings are not clamped
	txn.Rating = 10
	assert.InDelta(t, 5.5, scorer.Score(txn, 100, 10), 1e-9)
}

func TestInteractionMatrix(t *testing.T) {
	txns := newTestTransactions()
	txns = append(txns, dataset.Transaction{CustomerId: "C001", ItemId: "A", Category: "X", Amount: 10, Rating: 1, PriorPurchases: 5})
	scorer := NewInteractionScorer(config.GetDefaultConfig().Interaction)
	m := BuildInteractionMatrix(dataset.NewDataset(txns), scorer)

	rows, cols := m.Shape()
	assert.Equal(t, 3, rows)
	assert.Equal(t, 5, cols)
	assert.Equal(t, []string{"C001", "C002", "C003"}, m.Customers())
	assert.Equal(t, []string{"A", "B", "C", "D", "E"}, m.Items())
	// mean of 3.1 and 0.4*1 + 0.3*0.5 + 0.3*2.5
	assert.InDelta(t, (3.1+1.3)/2, m.Get("C001", "A"), 1e-9)
	assert.Zero(t, m.Get("C001", "C"))
	assert.Zero(t, m.Get("C404", "A"))
	assert.Len(t, m.Column("E"), 3)
	assert.Nil(t, m.Column("Z"))
	assert.InDelta(t, (1-7.0/15)*100, m.Sparsity(), 1e-9)

	empty := BuildInteractionMatrix(dataset.NewDataset(nil), scorer)
	assert.Zero(t, empty.Sparsity())
}

func TestInteractionMatrixOrderIndependent(t *testing.T) {
	txns := newTestTransactions()
	txns = append(txns,
		dataset.Transaction{CustomerId: "C001", ItemId: "A", Category: "X", Amount: 13.7, Rating: 2.2, PriorPurchases: 3},
		dataset.Transaction{CustomerId: "C001", ItemId: "A", Category: "X", Amount: 71.3, Rating: 4.9, PriorPurchases: 7})
	scorer := NewInteractionScorer(config.GetDefaultConfig().Interaction)
	expected := BuildInteractionMatrix(dataset.NewDataset(txns), scorer)
	for _, permuted := range [][]dataset.Transaction{reversed(txns), rotate(txns, 3), rotate(txns, 7)} {
		actual := BuildInteractionMatrix(dataset.NewDataset(permuted), scorer)
		assert.Equal(t, expected.Customers(), actual.Customers())
		assert.Equal(t, expected.Items(), actual.Items())
		for _, itemId := range expected.Items() {
			assert.Equal(t, expected.Column(itemId), actual.Column(itemId))
		}
	}
}

func rotate(txns []dataset.Transaction, k int) []dataset.Transaction {
	return append(append([]dataset.Transaction{}, txns[k:]...), txns[:k]...)
}

func reversed(txns []dataset.Transaction) []dataset.Transaction {
	result := make([]dataset.Transaction, len(txns))
	for i, txn := range txns {
		result[len(txns)-1-i] = txn
	}
	return result
}
