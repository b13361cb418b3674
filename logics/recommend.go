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

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/shopdash/base/log"
	"github.com/gorse-io/shopdash/common/heap"
	"github.com/gorse-io/shopdash/config"
	"github.com/gorse-io/shopdash/dataset"
	"github.com/gorse-io/shopdash/model"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// ErrDataUnavailable is returned when the engine was built without a transaction set.
var ErrDataUnavailable = errors.NotAssignedf("transaction data")

type Status string

const (
	StatusOK                Status = "ok"
	StatusNoPurchaseHistory Status = "no_purchase_history"
	StatusUnknownEntity     Status = "unknown_entity"
	StatusEmptyCandidateSet Status = "empty_candidate_set"
	StatusModelUnavailable  Status = "model_unavailable"
	StatusDataUnavailable   Status = "data_unavailable"
)

type Recommendation struct {
	ItemId      string   `json:"item_id"`
	Score       float64  `json:"score"`
	Strategy    string   `json:"strategy"`
	Explanation []string `json:"explanation"`
}

// Result is the outcome of a recommendation request. Items is empty unless
// Status is ok, and Reason describes any other status. Scores are only
// comparable within one strategy.
type Result struct {
	Items  []Recommendation `json:"items"`
	Status Status           `json:"status"`
	Reason string           `json:"reason,omitempty"`
}

func failed(status Status, format string, args ...any) *Result {
	return &Result{Items: []Recommendation{}, Status: status, Reason: fmt.Sprintf(format, args...)}
}

// Engine holds everything derived from one transaction set. It is fully
// built by NewEngine and never modified afterwards, so it is safe for
// concurrent use.
type Engine struct {
	config     config.RecommendConfig
	dataset    *dataset.Dataset
	matrix     *InteractionMatrix
	similarity *ItemSimilarity
	predictor  model.Predictor
	stats      map[string]ItemStats
	popularity *Popularity
}

// NewEngine derives the interaction matrix, item statistics and popularity
// ranking of a dataset. A nil dataset yields an engine that reports
// data_unavailable. A nil predictor means no factor model is loaded. A nil
// similarity table is computed from the interaction matrix when the
// configuration asks for it.
func NewEngine(cfg *config.Config, d *dataset.Dataset, similarity *ItemSimilarity, predictor model.Predictor) (*Engine, error) {
	if predictor == nil {
		predictor = model.Unavailable{}
	}
	e := &Engine{
		config:     cfg.Recommend,
		dataset:    d,
		similarity: similarity,
		predictor:  predictor,
	}
	if d == nil {
		log.Logger().Warn("engine created without transaction data")
		return e, nil
	}
	e.matrix = BuildInteractionMatrix(d, NewInteractionScorer(cfg.Interaction))
	if e.similarity == nil && cfg.Database.ComputeSimilarity {
		e.similarity = ComputeItemSimilarity(e.matrix, cfg.Database.SimilarityJobs)
	}
	e.stats = ComputeItemStats(d)
	var err error
	if e.popularity, err = NewPopularity(cfg.Popular, d, e.stats); err != nil {
		return nil, errors.Trace(err)
	}
	rows, cols := e.matrix.Shape()
	log.Logger().Info("engine created",
		zap.Int("transactions", d.Count()),
		zap.Int("customers", rows),
		zap.Int("items", cols),
		zap.Int("similar_items", e.similarity.Len()),
		zap.Uint64("fingerprint", d.Fingerprint()))
	return e, nil
}

// Fingerprint identifies the transaction set, 0 without data.
func (e *Engine) Fingerprint() uint64 {
	if e.dataset == nil {
		return 0
	}
	return e.dataset.Fingerprint()
}

func (e *Engine) Dataset() *dataset.Dataset {
	return e.dataset
}

func (e *Engine) Matrix() *InteractionMatrix {
	return e.matrix
}

// Recommend ranks at most topN items for a customer with the given
// strategy. Failures are reported through Result.Status; the error is only
// set for an unknown strategy.
func (e *Engine) Recommend(strategy, customerId string, topN int) (*Result, error) {
	if !lo.Contains(config.Strategies, strategy) {
		return nil, errors.NotValidf("strategy %s", strategy)
	}
	if e.dataset == nil {
		return failed(StatusDataUnavailable, "transaction data is not loaded"), nil
	}
	if topN <= 0 {
		return &Result{Items: []Recommendation{}, Status: StatusOK}, nil
	}
	// no strategy returns more than every item, and candidate pools scale with topN
	topN = min(topN, max(int(e.dataset.ItemDict().Count()), 1))
	var result *Result
	switch strategy {
	case config.StrategyCollaborative:
		result = e.collaborative(customerId, topN)
	case config.StrategyItemBased:
		result = e.itemBased(customerId, topN)
	case config.StrategyHybrid:
		result = e.hybrid(customerId, topN)
	case config.StrategyPopular:
		result = e.popular(customerId, topN)
	}
	if result.Status == StatusOK {
		explainer := NewExplainer(e.dataset.CustomerTransactions(customerId), e.stats)
		for i := range result.Items {
			result.Items[i].Strategy = strategy
			result.Items[i].Explanation = explainer.Explain(result.Items[i].ItemId)
		}
	}
	log.Logger().Debug("recommend",
		zap.String("strategy", strategy),
		zap.String("customer_id", customerId),
		zap.Int("n", topN),
		zap.String("status", string(result.Status)),
		zap.Int("items", len(result.Items)))
	return result, nil
}

// predictions scores every item the customer has not purchased and keeps
// the best n. Items without a valid prediction are skipped; an unavailable
// model aborts.
func (e *Engine) predictions(customerId string, n int) *Result {
	purchased := e.dataset.PurchasedItems(customerId)
	filter := heap.NewTopKFilter[string, float64](n)
	var (
		candidates int
		lastErr    error
		unknown    int
	)
	for _, itemId := range e.dataset.Items() {
		if purchased.Contains(itemId) {
			continue
		}
		candidates++
		score, err := e.predictor.Predict(customerId, itemId)
		if err != nil {
			if errors.Is(err, model.ErrModelUnavailable) {
				log.Logger().Warn("factor model unavailable", zap.Error(err))
				return failed(StatusModelUnavailable, "%v", err)
			}
			if errors.Is(err, errors.NotFound) {
				unknown++
			}
			lastErr = err
			continue
		}
		filter.Push(itemId, float64(score))
	}
	if candidates == 0 {
		return failed(StatusEmptyCandidateSet, "customer %s has purchased every item", customerId)
	}
	if filter.Len() == 0 {
		if unknown == candidates {
			return failed(StatusUnknownEntity, "%v", lastErr)
		}
		return failed(StatusEmptyCandidateSet, "no valid prediction for customer %s: %v", customerId, lastErr)
	}
	return &Result{
		Status: StatusOK,
		Items: lo.Map(filter.PopAll(), func(elem heap.Elem[string, float64], _ int) Recommendation {
			return Recommendation{ItemId: elem.Value, Score: elem.Weight}
		}),
	}
}

func (e *Engine) collaborative(customerId string, topN int) *Result {
	return e.predictions(customerId, topN)
}

// itemBased recommends the neighbors of the first item the customer purchased.
func (e *Engine) itemBased(customerId string, topN int) *Result {
	transactions := e.dataset.CustomerTransactions(customerId)
	if len(transactions) == 0 {
		return failed(StatusNoPurchaseHistory, "customer %s has no purchase history", customerId)
	}
	if e.similarity == nil {
		return failed(StatusModelUnavailable, "item similarity table is not loaded")
	}
	anchor := transactions[0].ItemId
	neighbors := e.similarity.Neighbors(anchor)
	if len(neighbors) == 0 {
		return failed(StatusEmptyCandidateSet, "no similar items found for %s", anchor)
	}
	return &Result{
		Status: StatusOK,
		Items: lo.Map(neighbors[:min(topN, len(neighbors))], func(neighbor Neighbor, _ int) Recommendation {
			return Recommendation{ItemId: neighbor.ItemId, Score: neighbor.Similarity}
		}),
	}
}

// hybrid blends collaborative scores of CandidateFactor×topN candidates with
// a category match score.
func (e *Engine) hybrid(customerId string, topN int) *Result {
	transactions := e.dataset.CustomerTransactions(customerId)
	if len(transactions) == 0 {
		return failed(StatusNoPurchaseHistory, "customer %s has no purchase history", customerId)
	}
	candidates := e.predictions(customerId, topN*e.config.CandidateFactor)
	if candidates.Status != StatusOK {
		return candidates
	}
	favorite := FavoriteCategory(transactions)
	filter := heap.NewTopKFilter[string, float64](topN)
	for _, candidate := range candidates.Items {
		category, _ := e.dataset.ItemCategory(candidate.ItemId)
		filter.Push(candidate.ItemId, e.Blend(candidate.Score, e.ContentScore(category, favorite)))
	}
	return &Result{
		Status: StatusOK,
		Items: lo.Map(filter.PopAll(), func(elem heap.Elem[string, float64], _ int) Recommendation {
			return Recommendation{ItemId: elem.Value, Score: elem.Weight}
		}),
	}
}

// ContentScore rates how well a category matches the customer's favorite.
func (e *Engine) ContentScore(category, favorite string) float64 {
	if category == favorite {
		return e.config.MatchContentScore
	}
	return e.config.MismatchContentScore
}

// Blend computes α·collaborative + (1-α)·content.
func (e *Engine) Blend(collaborative, content float64) float64 {
	return e.config.Alpha*collaborative + (1-e.config.Alpha)*content
}

// popular recommends the most popular items the customer has not purchased.
func (e *Engine) popular(customerId string, topN int) *Result {
	items := e.popularity.Top("", topN, e.dataset.PurchasedItems(customerId))
	if len(items) == 0 {
		return failed(StatusEmptyCandidateSet, "no popular item left for customer %s", customerId)
	}
	return &Result{
		Status: StatusOK,
		Items: lo.Map(items, func(item PopularItem, _ int) Recommendation {
			return Recommendation{ItemId: item.ItemId, Score: item.Score}
		}),
	}
}

// Profile aggregates a customer's transactions. It returns errors.NotFound
// for a customer without transactions.
func (e *Engine) Profile(customerId string) (*CustomerProfile, error) {
	if e.dataset == nil {
		return nil, ErrDataUnavailable
	}
	return BuildProfile(e.dataset, customerId, e.config.HistorySize)
}

// PopularItems returns the n most popular items of a category, or of all
// categories when category is empty.
func (e *Engine) PopularItems(category string, n int) ([]PopularItem, error) {
	if e.dataset == nil {
		return nil, ErrDataUnavailable
	}
	return e.popularity.Top(category, n, mapset.NewThreadUnsafeSet[string]()), nil
}

// Neighbors returns at most n items similar to itemId. An unknown item has
// no neighbors.
func (e *Engine) Neighbors(itemId string, n int) ([]Neighbor, error) {
	if e.similarity == nil {
		return nil, errors.Annotate(model.ErrModelUnavailable, "item similarity table is not loaded")
	}
	neighbors := e.similarity.Neighbors(itemId)
	return neighbors[:min(max(n, 0), len(neighbors))], nil
}

func (e *Engine) Summary() (Summary, error) {
	if e.dataset == nil {
		return Summary{}, ErrDataUnavailable
	}
	return Summarize(e.dataset, e.matrix), nil
}

func (e *Engine) Insights() (Insights, error) {
	if e.dataset == nil {
		return Insights{}, ErrDataUnavailable
	}
	return ComputeInsights(e.dataset), nil
}
