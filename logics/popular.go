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
	"reflect"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/gorse-io/shopdash/base/log"
	"github.com/gorse-io/shopdash/common/heap"
	"github.com/gorse-io/shopdash/config"
	"github.com/gorse-io/shopdash/dataset"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// ItemStats aggregates the transactions of an item. It is the `item`
// variable of popularity expressions.
type ItemStats struct {
	ItemId    string  `json:"item"`
	Category  string  `json:"category"`
	Purchases int     `json:"purchases"`
	Revenue   float64 `json:"revenue"`
	AvgPrice  float64 `json:"avg_price"`
	AvgRating float64 `json:"avg_rating"`
}

// ComputeItemStats aggregates every item of a dataset.
func ComputeItemStats(d *dataset.Dataset) map[string]ItemStats {
	stats := make(map[string]ItemStats, d.ItemDict().Count())
	for _, itemId := range d.Items() {
		transactions := d.ItemTransactions(itemId)
		category, _ := d.ItemCategory(itemId)
		revenue := lo.SumBy(transactions, func(t dataset.Transaction) float64 { return t.Amount })
		rating := lo.SumBy(transactions, func(t dataset.Transaction) float64 { return t.Rating })
		stats[itemId] = ItemStats{
			ItemId:    itemId,
			Category:  category,
			Purchases: len(transactions),
			Revenue:   revenue,
			AvgPrice:  revenue / float64(len(transactions)),
			AvgRating: rating / float64(len(transactions)),
		}
	}
	return stats
}

type PopularItem struct {
	ItemStats
	Score float64 `json:"score"`
}

// Popularity ranks items by a score expression evaluated once per item.
// Expressions see `item` (ItemStats) and `transactions` (the item's
// transactions). Items rejected by the filter expression or whose score
// cannot be evaluated are never ranked.
type Popularity struct {
	items []PopularItem
}

func popularityEnv() expr.Option {
	return expr.Env(map[string]any{
		"item":         ItemStats{},
		"transactions": []dataset.Transaction{},
	})
}

func NewPopularity(cfg config.PopularConfig, d *dataset.Dataset, stats map[string]ItemStats) (*Popularity, error) {
	// Compile score expression
	scoreFunc, err := expr.Compile(cfg.Score, popularityEnv())
	if err != nil {
		return nil, errors.Annotate(err, "compile popularity score")
	}
	switch scoreFunc.Node().Type().Kind() {
	case reflect.Float64, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
	default:
		return nil, errors.NotValidf("popularity score %q (must return a number)", cfg.Score)
	}
	// Compile filter expression
	var filterFunc *vm.Program
	if cfg.Filter != "" {
		filterFunc, err = expr.Compile(cfg.Filter, popularityEnv())
		if err != nil {
			return nil, errors.Annotate(err, "compile popularity filter")
		}
		if filterFunc.Node().Type().Kind() != reflect.Bool {
			return nil, errors.NotValidf("popularity filter %q (must return bool)", cfg.Filter)
		}
	}
	p := &Popularity{}
	for _, itemId := range d.Items() {
		env := map[string]any{
			"item":         stats[itemId],
			"transactions": d.ItemTransactions(itemId),
		}
		if filterFunc != nil {
			result, err := expr.Run(filterFunc, env)
			if err != nil {
				log.Logger().Error("evaluate popularity filter", zap.String("item_id", itemId), zap.Error(err))
				continue
			}
			if !result.(bool) {
				continue
			}
		}
		result, err := expr.Run(scoreFunc, env)
		if err != nil {
			log.Logger().Error("evaluate popularity score", zap.String("item_id", itemId), zap.Error(err))
			continue
		}
		score, ok := toFloat(result)
		if !ok {
			log.Logger().Error("popularity score must return a number", zap.Any("result", result))
			continue
		}
		p.items = append(p.items, PopularItem{ItemStats: stats[itemId], Score: score})
	}
	return p, nil
}

func toFloat(v any) (float64, bool) {
	switch typed := v.(type) {
	case float64:
		return typed, true
	case int:
		return float64(typed), true
	case int8:
		return float64(typed), true
	case int16:
		return float64(typed), true
	case int32:
		return float64(typed), true
	case int64:
		return float64(typed), true
	default:
		return 0, false
	}
}

// Top returns the n highest scoring items of a category, all categories if
// category is empty, skipping excluded items. Ties go to the smaller item id.
func (p *Popularity) Top(category string, n int, exclude mapset.Set[string]) []PopularItem {
	filter := heap.NewTopKFilter[int, float64](n)
	for i, item := range p.items {
		if category != "" && item.Category != category {
			continue
		}
		if exclude != nil && exclude.Contains(item.ItemId) {
			continue
		}
		// items are in ascending id order, so the index breaks ties like the id
		filter.Push(i, item.Score)
	}
	return lo.Map(filter.PopAll(), func(elem heap.Elem[int, float64], _ int) PopularItem {
		return p.items[elem.Value]
	})
}
