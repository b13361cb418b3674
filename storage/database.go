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

package storage

import (
	"context"
	"database/sql"
	"strings"

	"github.com/XSAM/otelsql"
	"github.com/gorse-io/shopdash/base/log"
	"github.com/gorse-io/shopdash/dataset"
	"github.com/gorse-io/shopdash/logics"
	"github.com/juju/errors"
	_ "github.com/lib/pq"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	_ "modernc.org/sqlite"
)

const batchSize = 1000

// SQLTransaction is a row of the feature table. Values are kept as text so
// that cleaning happens in one place when the table is loaded.
type SQLTransaction struct {
	Id                uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	CustomerId        string `gorm:"column:customer_id;type:varchar(256);index"`
	ItemPurchased     string `gorm:"column:item_purchased;type:varchar(256)"`
	Category          string `gorm:"column:category;type:varchar(256)"`
	PurchaseAmount    string `gorm:"column:purchase_amount;type:varchar(64)"`
	ReviewRating      string `gorm:"column:review_rating;type:varchar(64)"`
	PreviousPurchases string `gorm:"column:previous_purchases;type:varchar(64)"`
	Age               string `gorm:"column:age;type:varchar(64)"`
	Gender            string `gorm:"column:gender;type:varchar(64)"`
	Location          string `gorm:"column:location;type:varchar(256)"`
	Season            string `gorm:"column:season;type:varchar(64)"`
	Timestamp         string `gorm:"column:timestamp;type:varchar(64)"`
}

func NewSQLTransaction(record dataset.Record) SQLTransaction {
	return SQLTransaction{
		CustomerId:        record[dataset.ColumnCustomerId],
		ItemPurchased:     record[dataset.ColumnItem],
		Category:          record[dataset.ColumnCategory],
		PurchaseAmount:    record[dataset.ColumnAmount],
		ReviewRating:      record[dataset.ColumnRating],
		PreviousPurchases: record[dataset.ColumnPriorPurchases],
		Age:               record[dataset.ColumnAge],
		Gender:            record[dataset.ColumnGender],
		Location:          record[dataset.ColumnLocation],
		Season:            record[dataset.ColumnSeason],
		Timestamp:         record[dataset.ColumnTimestamp],
	}
}

func (t SQLTransaction) Record() dataset.Record {
	return dataset.Record{
		dataset.ColumnCustomerId:     t.CustomerId,
		dataset.ColumnItem:           t.ItemPurchased,
		dataset.ColumnCategory:       t.Category,
		dataset.ColumnAmount:         t.PurchaseAmount,
		dataset.ColumnRating:         t.ReviewRating,
		dataset.ColumnPriorPurchases: t.PreviousPurchases,
		dataset.ColumnAge:            t.Age,
		dataset.ColumnGender:         t.Gender,
		dataset.ColumnLocation:       t.Location,
		dataset.ColumnSeason:         t.Season,
		dataset.ColumnTimestamp:      t.Timestamp,
	}
}

type SQLItemSimilarity struct {
	ItemA      string  `gorm:"column:item_a;type:varchar(256);primaryKey"`
	ItemB      string  `gorm:"column:item_b;type:varchar(256);primaryKey"`
	Similarity float64 `gorm:"column:similarity"`
}

type SQLDriver int

const (
	MySQL SQLDriver = iota
	Postgres
	SQLite
)

// Database stores the feature table and the item similarity artifact.
type Database struct {
	TablePrefix
	driver SQLDriver
	client *sql.DB
	gormDB *gorm.DB
}

// Open a connection to a database.
func Open(path, tablePrefix string) (*Database, error) {
	var err error
	database := &Database{TablePrefix: TablePrefix(tablePrefix)}
	if strings.HasPrefix(path, MySQLPrefix) {
		name := path[len(MySQLPrefix):]
		if name, err = AppendMySQLParams(name, map[string]string{"charset": "utf8mb4"}); err != nil {
			return nil, errors.Trace(err)
		}
		database.driver = MySQL
		if database.client, err = otelsql.Open("mysql", name,
			otelsql.WithAttributes(attribute.String("db.system", "mysql")),
			otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}),
		); err != nil {
			return nil, errors.Trace(err)
		}
		if database.gormDB, err = gorm.Open(mysql.New(mysql.Config{Conn: database.client}), NewGORMConfig(tablePrefix)); err != nil {
			return nil, errors.Trace(err)
		}
		return database, nil
	} else if strings.HasPrefix(path, PostgresPrefix) || strings.HasPrefix(path, PostgreSQLPrefix) {
		database.driver = Postgres
		if database.client, err = otelsql.Open("postgres", path,
			otelsql.WithAttributes(attribute.String("db.system", "postgresql")),
			otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}),
		); err != nil {
			return nil, errors.Trace(err)
		}
		if database.gormDB, err = gorm.Open(postgres.New(postgres.Config{Conn: database.client}), NewGORMConfig(tablePrefix)); err != nil {
			return nil, errors.Trace(err)
		}
		return database, nil
	} else if strings.HasPrefix(path, SQLitePrefix) {
		name := path[len(SQLitePrefix):]
		// append parameters
		if name, err = AppendURLParams(name, []lo.Tuple2[string, string]{
			{"_pragma", "busy_timeout(10000)"},
			{"_pragma", "journal_mode(wal)"},
		}); err != nil {
			return nil, errors.Trace(err)
		}
		database.driver = SQLite
		if database.client, err = otelsql.Open("sqlite", name,
			otelsql.WithAttributes(attribute.String("db.system", "sqlite")),
			otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}),
		); err != nil {
			return nil, errors.Trace(err)
		}
		if database.gormDB, err = gorm.Open(sqlite.Dialector{Conn: database.client}, NewGORMConfig(tablePrefix)); err != nil {
			return nil, errors.Trace(err)
		}
		return database, nil
	}
	return nil, errors.Errorf("Unknown database: %s", log.RedactDBURL(path))
}

// Init creates the tables if they do not exist.
func (d *Database) Init() error {
	return errors.Trace(d.gormDB.AutoMigrate(&SQLTransaction{}, &SQLItemSimilarity{}))
}

func (d *Database) Close() error {
	return d.client.Close()
}

// Purge deletes all rows.
func (d *Database) Purge() error {
	statement := "TRUNCATE TABLE "
	if d.driver == SQLite {
		statement = "DELETE FROM "
	}
	for _, table := range []string{d.TransactionsTable(), d.ItemSimilarityTable()} {
		if err := d.gormDB.Exec(statement + table).Error; err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// InsertTransactions appends records to the feature table. Row order is preserved.
func (d *Database) InsertTransactions(ctx context.Context, records []dataset.Record) error {
	if len(records) == 0 {
		return nil
	}
	rows := lo.Map(records, func(record dataset.Record, _ int) SQLTransaction {
		return NewSQLTransaction(record)
	})
	return errors.Trace(d.gormDB.WithContext(ctx).CreateInBatches(rows, batchSize).Error)
}

// LoadRecords reads the feature table in row order.
func (d *Database) LoadRecords(ctx context.Context) ([]dataset.Record, error) {
	var (
		records []dataset.Record
		batch   []SQLTransaction
	)
	result := d.gormDB.WithContext(ctx).Order("id").FindInBatches(&batch, batchSize, func(tx *gorm.DB, _ int) error {
		for _, row := range batch {
			records = append(records, row.Record())
		}
		return nil
	})
	if result.Error != nil {
		return nil, errors.Trace(result.Error)
	}
	return records, nil
}

// LoadDataset reads and normalizes the feature table.
func (d *Database) LoadDataset(ctx context.Context) (*dataset.Dataset, error) {
	records, err := d.LoadRecords(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	transactions, dropped := dataset.Normalize(records)
	if dropped > 0 {
		log.Logger().Warn("drop malformed transactions", zap.Int("dropped", dropped), zap.Int("total", len(records)))
	}
	return dataset.NewDataset(transactions), nil
}

// InsertSimilarity writes item pairs, replacing existing pairs.
func (d *Database) InsertSimilarity(ctx context.Context, pairs []logics.SimilarityPair) error {
	if len(pairs) == 0 {
		return nil
	}
	rows := lo.Map(pairs, func(pair logics.SimilarityPair, _ int) SQLItemSimilarity {
		return SQLItemSimilarity{ItemA: pair.ItemA, ItemB: pair.ItemB, Similarity: pair.Similarity}
	})
	return errors.Trace(d.gormDB.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		CreateInBatches(rows, batchSize).Error)
}

// LoadSimilarity reads all item pairs ordered by key.
func (d *Database) LoadSimilarity(ctx context.Context) ([]logics.SimilarityPair, error) {
	var rows []SQLItemSimilarity
	if err := d.gormDB.WithContext(ctx).Order("item_a, item_b").Find(&rows).Error; err != nil {
		return nil, errors.Trace(err)
	}
	return lo.Map(rows, func(row SQLItemSimilarity, _ int) logics.SimilarityPair {
		return logics.SimilarityPair{ItemA: row.ItemA, ItemB: row.ItemB, Similarity: row.Similarity}
	}), nil
}
