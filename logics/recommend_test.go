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
	"testing"

	"github.com/gorse-io/shopdash/config"
	"github.com/gorse-io/shopdash/dataset"
	"github.com/gorse-io/shopdash/model"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/stretchr/testify/suite"
)

type EngineTestSuite struct {
	suite.Suite
	config  *config.Config
	dataset *dataset.Dataset
	model   *model.FactorModel
	engine  *Engine
}

func (suite *EngineTestSuite) SetupTest() {
	suite.config = config.GetDefaultConfig()
	suite.dataset = dataset.NewDataset(newTestTransactions())
	// predict(customer, item) = 3 + item factor
	suite.model = model.NewFactorModel(1, 3)
	for _, customerId := range []string{"C001", "C002", "C003"} {
		suite.NoError(suite.model.SetUser(customerId, []float32{1}, 0))
	}
	for itemId, factor := range map[string]float32{"A": 0.1, "B": 0.2, "C": 0.5, "D": 0.25, "E": 0.5} {
		suite.NoError(suite.model.SetItem(itemId, []float32{factor}, 0))
	}
	var err error
	suite.engine, err = NewEngine(suite.config, suite.dataset, newTestSimilarity(suite.T()), suite.model)
	suite.NoError(err)
}

func itemIds(result *Result) []string {
	return lo.Map(result.Items, func(item Recommendation, _ int) string {
		return item.ItemId
	})
}

func (suite *EngineTestSuite) TestCollaborative() {
	result, err := suite.engine.Recommend(config.StrategyCollaborative, "C001", 10)
	suite.NoError(err)
	suite.Equal(StatusOK, result.Status)
	// C and E tie, purchased A and B are excluded
	suite.Equal([]string{"C", "E", "D"}, itemIds(result))
	suite.InDelta(3.5, result.Items[0].Score, 1e-6)
	suite.InDelta(3.25, result.Items[2].Score, 1e-6)
	suite.Equal(config.StrategyCollaborative, result.Items[0].Strategy)
	suite.Equal([]string{"you like the Y category", "well rated by other customers"}, result.Items[0].Explanation)

	result, err = suite.engine.Recommend(config.StrategyCollaborative, "C001", 1)
	suite.NoError(err)
	suite.Equal([]string{"C"}, itemIds(result))
}

func (suite *EngineTestSuite) TestCollaborativeNeverRecommendsPurchased() {
	for _, customerId := range suite.dataset.Customers() {
		result, err := suite.engine.Recommend(config.StrategyCollaborative, customerId, 10)
		suite.NoError(err)
		purchased := suite.dataset.PurchasedItems(customerId)
		for _, item := range result.Items {
			suite.False(purchased.Contains(item.ItemId), "%s bought %s", customerId, item.ItemId)
		}
	}
}

func (suite *EngineTestSuite) TestCollaborativeSkipsUnknownItems() {
	m := model.NewFactorModel(1, 3)
	suite.NoError(m.SetUser("C001", []float32{1}, 0))
	suite.NoError(m.SetItem("C", []float32{0.5}, 0))
	suite.NoError(m.SetItem("D", nil, 0))
	engine, err := NewEngine(suite.config, suite.dataset, nil, m)
	suite.NoError(err)
	result, err := engine.Recommend(config.StrategyCollaborative, "C001", 10)
	suite.NoError(err)
	suite.Equal(StatusOK, result.Status)
	suite.Equal([]string{"C"}, itemIds(result))
}

func (suite *EngineTestSuite) TestItemBased() {
	result, err := suite.engine.Recommend(config.StrategyItemBased, "C001", 2)
	suite.NoError(err)
	suite.Equal(StatusOK, result.Status)
	suite.Equal([]Recommendation{
		{ItemId: "C", Score: 0.9, Strategy: config.StrategyItemBased, Explanation: []string{"you like the Y category", "well rated by other customers"}},
		{ItemId: "D", Score: 0.7, Strategy: config.StrategyItemBased, Explanation: []string{"you like the X category", "price similar to your previous purchases"}},
	}, result.Items)

	// the anchor of C003 is D
	result, err = suite.engine.Recommend(config.StrategyItemBased, "C003", 10)
	suite.NoError(err)
	suite.Equal([]string{"A", "C", "B"}, itemIds(result))

	// E has no similarity data
	txns := append(newTestTransactions(), dataset.Transaction{CustomerId: "C004", ItemId: "E", Category: "X", Amount: 10, Rating: 3})
	engine, err := NewEngine(suite.config, dataset.NewDataset(txns), newTestSimilarity(suite.T()), suite.model)
	suite.NoError(err)
	result, err = engine.Recommend(config.StrategyItemBased, "C004", 10)
	suite.NoError(err)
	suite.Equal(StatusEmptyCandidateSet, result.Status)
	suite.Empty(result.Items)
	suite.NotEmpty(result.Reason)

	// no similarity table
	engine, err = NewEngine(suite.config, suite.dataset, nil, suite.model)
	suite.NoError(err)
	result, err = engine.Recommend(config.StrategyItemBased, "C001", 10)
	suite.NoError(err)
	suite.Equal(StatusModelUnavailable, result.Status)

	// computed similarity table
	suite.config.Database.ComputeSimilarity = true
	engine, err = NewEngine(suite.config, suite.dataset, nil, suite.model)
	suite.NoError(err)
	result, err = engine.Recommend(config.StrategyItemBased, "C001", 10)
	suite.NoError(err)
	suite.Equal(StatusOK, result.Status)
	suite.Len(result.Items, 4)
}

func (suite *EngineTestSuite) TestHybrid() {
	// candidates are C and E (3.5 each); E matches the favorite category X
	result, err := suite.engine.Recommend(config.StrategyHybrid, "C001", 1)
	suite.NoError(err)
	suite.Equal(StatusOK, result.Status)
	suite.Equal([]string{"E"}, itemIds(result))
	suite.InDelta(0.6*3.5+0.4*5, result.Items[0].Score, 1e-6)

	result, err = suite.engine.Recommend(config.StrategyHybrid, "C001", 2)
	suite.NoError(err)
	suite.Equal([]string{"E", "D"}, itemIds(result))
}

func (suite *EngineTestSuite) TestHugeTopN() {
	for _, strategy := range config.Strategies {
		expected, err := suite.engine.Recommend(strategy, "C001", 5)
		suite.NoError(err)
		result, err := suite.engine.Recommend(strategy, "C001", math.MaxInt)
		suite.NoError(err)
		suite.Equal(expected.Status, result.Status, strategy)
		suite.Equal(itemIds(expected), itemIds(result), strategy)
	}
	result, err := suite.engine.Recommend(config.StrategyHybrid, "C001", math.MaxInt)
	suite.NoError(err)
	suite.Equal(StatusOK, result.Status)
	suite.Equal([]string{"E", "D", "C"}, itemIds(result))
}

func (suite *EngineTestSuite) TestHybridMonotonic() {
	for _, collaborative := range []float64{-1, 0, 2.5, 4.9} {
		for _, content := range []float64{0, 2.5, 5} {
			suite.GreaterOrEqual(suite.engine.Blend(collaborative, content+0.5), suite.engine.Blend(collaborative, content))
			suite.GreaterOrEqual(suite.engine.Blend(collaborative+0.5, content), suite.engine.Blend(collaborative, content))
		}
	}
	suite.Equal(5.0, suite.engine.ContentScore("X", "X"))
	suite.Equal(2.5, suite.engine.ContentScore("Y", "X"))
}

func (suite *EngineTestSuite) TestPopular() {
	result, err := suite.engine.Recommend(config.StrategyPopular, "C001", 2)
	suite.NoError(err)
	suite.Equal(StatusOK, result.Status)
	suite.Equal([]string{"D", "C"}, itemIds(result))

	items, err := suite.engine.PopularItems("X", 2)
	suite.NoError(err)
	suite.Equal([]string{"A", "D"}, popularIds(items))
}

func (suite *EngineTestSuite) TestNoPurchaseHistory() {
	_, err := suite.engine.Profile("C999")
	suite.True(errors.Is(err, errors.NotFound))

	for _, strategy := range []string{config.StrategyItemBased, config.StrategyHybrid} {
		result, err := suite.engine.Recommend(strategy, "C999", 5)
		suite.NoError(err)
		suite.Equal(StatusNoPurchaseHistory, result.Status)
		suite.Empty(result.Items)
	}

	// unknown to the factor model as well
	result, err := suite.engine.Recommend(config.StrategyCollaborative, "C999", 5)
	suite.NoError(err)
	suite.Equal(StatusUnknownEntity, result.Status)

	// collaborative runs over all items when the model knows the customer
	suite.NoError(suite.model.SetUser("C999", []float32{1}, 0))
	result, err = suite.engine.Recommend(config.StrategyCollaborative, "C999", 10)
	suite.NoError(err)
	suite.Equal(StatusOK, result.Status)
	suite.Equal([]string{"C", "E", "D", "B", "A"}, itemIds(result))

	result, err = suite.engine.Recommend(config.StrategyPopular, "C999", 1)
	suite.NoError(err)
	suite.Equal([]string{"A"}, itemIds(result))
}

func (suite *EngineTestSuite) TestModelUnavailable() {
	engine, err := NewEngine(suite.config, suite.dataset, newTestSimilarity(suite.T()), nil)
	suite.NoError(err)
	for _, strategy := range []string{config.StrategyCollaborative, config.StrategyHybrid} {
		result, err := engine.Recommend(strategy, "C001", 5)
		suite.NoError(err)
		suite.Equal(StatusModelUnavailable, result.Status)
		suite.Empty(result.Items)
	}
	// strategies without the factor model still work
	result, err := engine.Recommend(config.StrategyItemBased, "C001", 2)
	suite.NoError(err)
	suite.Equal(StatusOK, result.Status)

	engine, err = NewEngine(suite.config, suite.dataset, nil, model.Unavailable{Cause: errors.New("open models/factors.bin")})
	suite.NoError(err)
	result, err = engine.Recommend(config.StrategyCollaborative, "C001", 5)
	suite.NoError(err)
	suite.Equal(StatusModelUnavailable, result.Status)
	suite.Contains(result.Reason, "factors.bin")
}

func (suite *EngineTestSuite) TestEmptyCandidateSet() {
	// C005 bought everything
	txns := newTestTransactions()
	for _, itemId := range []string{"A", "B", "C", "D", "E"} {
		txns = append(txns, dataset.Transaction{CustomerId: "C005", ItemId: itemId, Category: "X", Amount: 10, Rating: 3})
	}
	suite.NoError(suite.model.SetUser("C005", []float32{1}, 0))
	engine, err := NewEngine(suite.config, dataset.NewDataset(txns), nil, suite.model)
	suite.NoError(err)
	for _, strategy := range []string{config.StrategyCollaborative, config.StrategyHybrid, config.StrategyPopular} {
		result, err := engine.Recommend(strategy, "C005", 5)
		suite.NoError(err)
		suite.Equal(StatusEmptyCandidateSet, result.Status, strategy)
		suite.NotEmpty(result.Reason)
	}
}

func (suite *EngineTestSuite) TestTopN() {
	for _, strategy := range config.Strategies {
		for _, customerId := range []string{"C001", "C002", "C003", "C999"} {
			for n := -1; n <= 6; n++ {
				result, err := suite.engine.Recommend(strategy, customerId, n)
				suite.NoError(err)
				suite.LessOrEqual(len(result.Items), max(n, 0))
				if n <= 0 {
					suite.Equal(StatusOK, result.Status)
				}
			}
		}
	}
	_, err := suite.engine.Recommend("random", "C001", 5)
	suite.True(errors.Is(err, errors.NotValid))
}

func (suite *EngineTestSuite) TestNeighbors() {
	neighbors, err := suite.engine.Neighbors("A", 2)
	suite.NoError(err)
	suite.Equal([]Neighbor{{"C", 0.9}, {"D", 0.7}}, neighbors)
	neighbors, err = suite.engine.Neighbors("Z", 2)
	suite.NoError(err)
	suite.Empty(neighbors)

	engine, err := NewEngine(suite.config, suite.dataset, nil, nil)
	suite.NoError(err)
	_, err = engine.Neighbors("A", 2)
	suite.True(errors.Is(err, model.ErrModelUnavailable))
}

func (suite *EngineTestSuite) TestDataUnavailable() {
	engine, err := NewEngine(suite.config, nil, nil, nil)
	suite.NoError(err)
	suite.Zero(engine.Fingerprint())
	result, err := engine.Recommend(config.StrategyHybrid, "C001", 5)
	suite.NoError(err)
	suite.Equal(StatusDataUnavailable, result.Status)
	_, err = engine.Profile("C001")
	suite.True(errors.Is(err, ErrDataUnavailable))
	_, err = engine.PopularItems("", 5)
	suite.True(errors.Is(err, ErrDataUnavailable))
	_, err = engine.Summary()
	suite.True(errors.Is(err, ErrDataUnavailable))
	_, err = engine.Insights()
	suite.True(errors.Is(err, ErrDataUnavailable))
}

func (suite *EngineTestSuite) TestSummary() {
	suite.Equal(suite.dataset.Fingerprint(), suite.engine.Fingerprint())
	summary, err := suite.engine.Summary()
	suite.NoError(err)
	suite.Equal(7, summary.TotalTransactions)
	insights, err := suite.engine.Insights()
	suite.NoError(err)
	suite.Equal("X", insights.TopCategory)
	profile, err := suite.engine.Profile("C003")
	suite.NoError(err)
	suite.Equal(dataset.SegmentSenior, profile.Segment)
}

func (suite *EngineTestSuite) TestInvalidPopularity() {
	suite.config.Popular.Score = "item.Category"
	_, err := NewEngine(suite.config, suite.dataset, nil, nil)
	suite.True(errors.Is(err, errors.NotValid))
}

func TestEngine(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}
