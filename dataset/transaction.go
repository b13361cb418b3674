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

package dataset

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// Column names of the feature table.
const (
	ColumnCustomerId     = "Customer ID"
	ColumnItem           = "Item Purchased"
	ColumnCategory       = "Category"
	ColumnAmount         = "Purchase Amount (USD)"
	ColumnRating         = "Review Rating"
	ColumnPriorPurchases = "Previous Purchases"
	ColumnAge            = "Age"
	ColumnGender         = "Gender"
	ColumnLocation       = "Location"
	ColumnSeason         = "Season"
	ColumnTimestamp      = "Timestamp"
)

// Age segments.
const (
	SegmentJoven  = "Joven"
	SegmentAdulto = "Adulto"
	SegmentMaduro = "Maduro"
	SegmentSenior = "Senior"
)

// Transaction is one purchase from the feature table.
type Transaction struct {
	CustomerId     string
	ItemId         string
	Category       string
	Amount         float64
	Rating         float64
	PriorPurchases int
	Age            int
	Gender         string
	Location       string
	Season         string
	Timestamp      time.Time
}

// Segment returns the age segment of the customer.
func (t Transaction) Segment() string {
	return AgeSegment(t.Age)
}

// AgeSegment returns the segment of an age, or an empty string when the
// age is unknown.
func AgeSegment(age int) string {
	switch {
	case age <= 0:
		return ""
	case age <= 25:
		return SegmentJoven
	case age <= 40:
		return SegmentAdulto
	case age <= 60:
		return SegmentMaduro
	default:
		return SegmentSenior
	}
}

// Record is a raw row of the feature table keyed by column name.
type Record map[string]string

// Normalize converts raw records into transactions. Malformed numbers are
// treated as missing. Rows missing the customer, item, amount or rating are
// dropped, as are rows with a negative amount. A missing previous purchase
// count or age becomes 0. It returns the transactions in row order and the
// number of dropped rows.
func Normalize(records []Record) ([]Transaction, int) {
	transactions := make([]Transaction, 0, len(records))
	dropped := 0
	for _, record := range records {
		customerId := strings.TrimSpace(record[ColumnCustomerId])
		itemId := strings.TrimSpace(record[ColumnItem])
		amount, amountOk := parseFloat(record[ColumnAmount])
		rating, ratingOk := parseFloat(record[ColumnRating])
		if customerId == "" || itemId == "" || !amountOk || !ratingOk || amount < 0 {
			dropped++
			continue
		}
		transaction := Transaction{
			CustomerId: customerId,
			ItemId:     itemId,
			Category:   strings.TrimSpace(record[ColumnCategory]),
			Amount:     amount,
			Rating:     rating,
			Gender:     strings.TrimSpace(record[ColumnGender]),
			Location:   strings.TrimSpace(record[ColumnLocation]),
			Season:     strings.TrimSpace(record[ColumnSeason]),
		}
		if priors, ok := parseFloat(record[ColumnPriorPurchases]); ok && priors > 0 {
			transaction.PriorPurchases = int(priors)
		}
		if age, ok := parseFloat(record[ColumnAge]); ok && age > 0 {
			transaction.Age = int(age)
		}
		if s := strings.TrimSpace(record[ColumnTimestamp]); s != "" {
			if timestamp, err := dateparse.ParseAny(s); err == nil {
				transaction.Timestamp = timestamp
			}
		}
		transactions = append(transactions, transaction)
	}
	return transactions, dropped
}

func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
