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
	"github.com/gorse-io/shopdash/config"
	"github.com/gorse-io/shopdash/dataset"
)

// InteractionScorer turns a transaction into an interaction weight from its
// rating, its spend relative to the largest purchase and the customer's
// loyalty relative to the most loyal customer.
type InteractionScorer struct {
	RatingWeight  float64
	AmountWeight  float64
	LoyaltyWeight float64
}

func NewInteractionScorer(cfg config.InteractionConfig) InteractionScorer {
	return InteractionScorer{
		RatingWeight:  cfg.RatingWeight,
		AmountWeight:  cfg.AmountWeight,
		LoyaltyWeight: cfg.LoyaltyWeight,
	}
}

// Score computes
//
//	w_r*rating + w_a*(amount/maxAmount)*5 + w_l*(priors/maxPriors)*5
//
// A zero maximum makes its term contribute nothing. Ratings are not clamped.
func (s InteractionScorer) Score(t dataset.Transaction, maxAmount float64, maxPriors int) float64 {
	var normalizedAmount, normalizedLoyalty float64
	if maxAmount > 0 {
		normalizedAmount = t.Amount / maxAmount * 5
	}
	if maxPriors > 0 {
		normalizedLoyalty = float64(t.PriorPurchases) / float64(maxPriors) * 5
	}
	return s.RatingWeight*t.Rating +
		s.AmountWeight*normalizedAmount +
		s.LoyaltyWeight*normalizedLoyalty
}
