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

package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gorse-io/shopdash/logics"
	"github.com/juju/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var tableOutput = map[string]string{"output": "table"}

var recommendCommand = &cobra.Command{
	Use:         "recommend <customer-id>",
	Short:       "Recommend items to a customer",
	Args:        cobra.ExactArgs(1),
	Annotations: tableOutput,
	RunE: func(cmd *cobra.Command, args []string) error {
		conf := loadConfig(cmd)
		strategy, _ := cmd.Flags().GetString("strategy")
		if strategy == "" {
			strategy = conf.Recommend.Strategy
		}
		n, _ := cmd.Flags().GetInt("n")
		if !cmd.Flags().Changed("n") {
			n = conf.Recommend.DefaultN
		}
		engine, err := loadEngine(cmd.Context(), conf)
		if err != nil {
			return errors.Trace(err)
		}
		result, err := engine.Recommend(strategy, args[0], n)
		if err != nil {
			return errors.Trace(err)
		}
		return printResult(cmd.OutOrStdout(), result)
	},
}

var profileCommand = &cobra.Command{
	Use:         "profile <customer-id>",
	Short:       "Show the profile of a customer",
	Args:        cobra.ExactArgs(1),
	Annotations: tableOutput,
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := loadEngine(cmd.Context(), loadConfig(cmd))
		if err != nil {
			return errors.Trace(err)
		}
		profile, err := engine.Profile(args[0])
		if err != nil {
			return errors.Trace(err)
		}
		return printProfile(cmd.OutOrStdout(), profile)
	},
}

var popularCommand = &cobra.Command{
	Use:         "popular",
	Short:       "List popular items",
	Args:        cobra.NoArgs,
	Annotations: tableOutput,
	RunE: func(cmd *cobra.Command, args []string) error {
		conf := loadConfig(cmd)
		category, _ := cmd.Flags().GetString("category")
		n, _ := cmd.Flags().GetInt("n")
		if !cmd.Flags().Changed("n") {
			n = conf.Recommend.DefaultN
		}
		engine, err := loadEngine(cmd.Context(), conf)
		if err != nil {
			return errors.Trace(err)
		}
		items, err := engine.PopularItems(category, n)
		if err != nil {
			return errors.Trace(err)
		}
		return renderTable(cmd.OutOrStdout(),
			[]string{"rank", "item", "category", "purchases", "revenue", "avg_rating", "score"},
			lo.Map(items, func(item logics.PopularItem, i int) []string {
				return []string{
					strconv.Itoa(i + 1),
					item.ItemId,
					item.Category,
					strconv.Itoa(item.Purchases),
					formatFloat(item.Revenue),
					formatFloat(item.AvgRating),
					formatFloat(item.Score),
				}
			}))
	},
}

var neighborsCommand = &cobra.Command{
	Use:         "neighbors <item-id>",
	Short:       "List items similar to an item",
	Args:        cobra.ExactArgs(1),
	Annotations: tableOutput,
	RunE: func(cmd *cobra.Command, args []string) error {
		conf := loadConfig(cmd)
		n, _ := cmd.Flags().GetInt("n")
		if !cmd.Flags().Changed("n") {
			n = conf.Recommend.DefaultN
		}
		engine, err := loadEngine(cmd.Context(), conf)
		if err != nil {
			return errors.Trace(err)
		}
		neighbors, err := engine.Neighbors(args[0], n)
		if err != nil {
			return errors.Trace(err)
		}
		return renderTable(cmd.OutOrStdout(), []string{"rank", "item", "similarity"},
			lo.Map(neighbors, func(neighbor logics.Neighbor, i int) []string {
				return []string{strconv.Itoa(i + 1), neighbor.ItemId, formatFloat(neighbor.Similarity)}
			}))
	},
}

var summaryCommand = &cobra.Command{
	Use:         "summary",
	Short:       "Show dataset statistics and insights",
	Args:        cobra.NoArgs,
	Annotations: tableOutput,
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := loadEngine(cmd.Context(), loadConfig(cmd))
		if err != nil {
			return errors.Trace(err)
		}
		summary, err := engine.Summary()
		if err != nil {
			return errors.Trace(err)
		}
		insights, err := engine.Insights()
		if err != nil {
			return errors.Trace(err)
		}
		return printSummary(cmd.OutOrStdout(), summary, insights)
	},
}

func init() {
	recommendCommand.Flags().StringP("strategy", "s", "", "collaborative, item_based, hybrid or popular")
	recommendCommand.Flags().IntP("n", "n", 10, "number of recommended items")
	popularCommand.Flags().String("category", "", "category of popular items")
	popularCommand.Flags().IntP("n", "n", 10, "number of popular items")
	neighborsCommand.Flags().IntP("n", "n", 10, "number of similar items")
	rootCommand.AddCommand(recommendCommand, profileCommand, popularCommand, neighborsCommand, summaryCommand)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

func renderTable(w io.Writer, header []string, rows [][]string) error {
	table := tablewriter.NewWriter(w)
	table.Header(lo.ToAnySlice(header)...)
	if err := table.Bulk(rows); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(table.Render())
}

func printResult(w io.Writer, result *logics.Result) error {
	if result.Status != logics.StatusOK {
		_, err := fmt.Fprintf(w, "%s: %s\n", result.Status, result.Reason)
		return errors.Trace(err)
	}
	return renderTable(w, []string{"rank", "item", "score", "strategy", "explanation"},
		lo.Map(result.Items, func(item logics.Recommendation, i int) []string {
			return []string{
				strconv.Itoa(i + 1),
				item.ItemId,
				formatFloat(item.Score),
				item.Strategy,
				strings.Join(item.Explanation, "; "),
			}
		}))
}

func printProfile(w io.Writer, profile *logics.CustomerProfile) error {
	err := renderTable(w, []string{"field", "value"}, [][]string{
		{"customer_id", profile.CustomerId},
		{"age", strconv.Itoa(profile.Age)},
		{"gender", profile.Gender},
		{"location", profile.Location},
		{"segment", profile.Segment},
		{"total_purchases", strconv.Itoa(profile.TotalPurchases)},
		{"unique_items", strconv.Itoa(profile.UniqueItems)},
		{"total_spent", formatFloat(profile.TotalSpent)},
		{"avg_spent", formatFloat(profile.AvgSpent)},
		{"avg_rating", formatFloat(profile.AvgRating)},
		{"favorite_category", profile.FavoriteCategory},
		{"lifetime_value", formatFloat(profile.LifetimeValue)},
	})
	if err != nil {
		return errors.Trace(err)
	}
	return renderTable(w, []string{"#", "purchased item"},
		lo.Map(profile.PurchaseHistory, func(itemId string, i int) []string {
			return []string{strconv.Itoa(i + 1), itemId}
		}))
}

func printSummary(w io.Writer, summary logics.Summary, insights logics.Insights) error {
	return renderTable(w, []string{"metric", "value"}, [][]string{
		{"total_customers", strconv.Itoa(summary.TotalCustomers)},
		{"total_products", strconv.Itoa(summary.TotalProducts)},
		{"total_transactions", strconv.Itoa(summary.TotalTransactions)},
		{"total_revenue", formatFloat(summary.TotalRevenue)},
		{"avg_transaction_value", formatFloat(summary.AvgTransactionValue)},
		{"avg_rating", formatFloat(summary.AvgRating)},
		{"categories", strconv.Itoa(summary.Categories)},
		{"sparsity", formatFloat(summary.Sparsity)},
		{"top_category", insights.TopCategory},
		{"top_spending_segment", insights.TopSpendingSegment},
		{"top_spending_gender", insights.TopSpendingGender},
		{"top_season", insights.TopSeason},
	})
}
