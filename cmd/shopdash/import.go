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
	"context"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/gorse-io/shopdash/base/log"
	"github.com/gorse-io/shopdash/dataset"
	"github.com/gorse-io/shopdash/logics"
	"github.com/gorse-io/shopdash/storage"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const importBatchSize = 1000

var importCommand = &cobra.Command{
	Use:   "import <csv-file>",
	Short: "Import transactions from a CSV file into the data store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conf := loadConfig(cmd)
		db := openDatabase(conf)
		defer db.Close()
		if purge, _ := cmd.Flags().GetBool("purge"); purge {
			if err := db.Purge(); err != nil {
				return errors.Trace(err)
			}
		}
		f, err := os.Open(args[0])
		if err != nil {
			return errors.Trace(err)
		}
		defer f.Close()
		stat, err := f.Stat()
		if err != nil {
			return errors.Trace(err)
		}
		pbReader := progressbar.NewReader(f, progressbar.DefaultBytes(stat.Size(), "Importing transactions"))
		n, err := importTransactions(cmd.Context(), db, &pbReader)
		if err != nil {
			return errors.Trace(err)
		}
		log.Logger().Info("import transactions", zap.String("file", args[0]), zap.Int("rows", n))
		return nil
	},
}

var similarityCommand = &cobra.Command{
	Use:   "similarity",
	Short: "Compute item similarity from the interaction matrix (or read a square CSV table) and store it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		conf := loadConfig(cmd)
		db := openDatabase(conf)
		defer db.Close()
		var (
			n   int
			err error
		)
		if path, _ := cmd.Flags().GetString("table"); path != "" {
			f, openErr := os.Open(path)
			if openErr != nil {
				return errors.Trace(openErr)
			}
			defer f.Close()
			n, err = importSimilarityTable(cmd.Context(), db, f)
		} else {
			n, err = storeSimilarity(cmd.Context(), db, logics.NewInteractionScorer(conf.Interaction), conf.Database.SimilarityJobs)
		}
		if err != nil {
			return errors.Trace(err)
		}
		log.Logger().Info("store item similarity", zap.Int("pairs", n))
		return nil
	},
}

func init() {
	importCommand.Flags().Bool("purge", false, "delete existing data before import")
	similarityCommand.Flags().String("table", "", "square item similarity table in CSV")
	rootCommand.AddCommand(importCommand, similarityCommand)
}

// importTransactions reads CSV rows keyed by the header line and appends
// them to the feature table. Values are stored as text; cleaning happens
// when the dataset is loaded.
func importTransactions(ctx context.Context, db *storage.Database, r io.Reader) (int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return 0, errors.Annotate(err, "read header")
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}
	var (
		batch []dataset.Record
		count int
	)
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, errors.Annotatef(err, "read row %d", count+1)
		}
		record := make(dataset.Record, len(header))
		for i, column := range header {
			if i < len(row) {
				record[column] = row[i]
			}
		}
		batch = append(batch, record)
		if len(batch) == importBatchSize {
			if err = db.InsertTransactions(ctx, batch); err != nil {
				return count, errors.Trace(err)
			}
			count += len(batch)
			batch = batch[:0]
		}
	}
	if err = db.InsertTransactions(ctx, batch); err != nil {
		return count, errors.Trace(err)
	}
	return count + len(batch), nil
}

func storeSimilarity(ctx context.Context, db *storage.Database, scorer logics.InteractionScorer, nJobs int) (int, error) {
	d, err := db.LoadDataset(ctx)
	if err != nil {
		return 0, errors.Trace(err)
	}
	similarity := logics.ComputeItemSimilarity(logics.BuildInteractionMatrix(d, scorer), nJobs)
	pairs := similarity.Pairs()
	if err = db.InsertSimilarity(ctx, pairs); err != nil {
		return 0, errors.Trace(err)
	}
	return len(pairs), nil
}

// importSimilarityTable reads a square similarity table whose header line
// and first column list the same items in the same order, and stores it.
func importSimilarityTable(ctx context.Context, db *storage.Database, r io.Reader) (int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return 0, errors.Trace(err)
	}
	if len(rows) == 0 {
		return 0, errors.NotValidf("empty similarity table")
	}
	keys := lo.Map(rows[0][1:], func(key string, _ int) string {
		return strings.TrimSpace(key)
	})
	table := make([][]float64, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if i < len(keys) && strings.TrimSpace(row[0]) != keys[i] {
			return 0, errors.NotValidf("row %d labeled %s (expect %s)", i+1, row[0], keys[i])
		}
		values := make([]float64, 0, len(row)-1)
		for _, cell := range row[1:] {
			value, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil {
				return 0, errors.Annotatef(err, "row %d", i+1)
			}
			values = append(values, value)
		}
		table = append(table, values)
	}
	similarity, err := logics.NewItemSimilarityFromTable(keys, table)
	if err != nil {
		return 0, errors.Trace(err)
	}
	pairs := similarity.Pairs()
	if err = db.InsertSimilarity(ctx, pairs); err != nil {
		return 0, errors.Trace(err)
	}
	return len(pairs), nil
}
