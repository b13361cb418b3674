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
	"encoding/binary"
	"math"
	"sort"

	"github.com/cespare/xxhash/v2"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/samber/lo"
)

// Dataset is an immutable transaction set with the indices every derivation
// needs. It must not be modified after NewDataset returns.
type Dataset struct {
	transactions []Transaction
	customerDict *FreqDict
	itemDict     *FreqDict
	byCustomer   map[string][]int
	byItem       map[string][]int
	itemCategory map[string]string
	categories   mapset.Set[string]
	maxAmount    float64
	maxPriors    int
	fingerprint  uint64
}

// NewDataset indexes transactions. The slice is copied.
func NewDataset(transactions []Transaction) *Dataset {
	d := &Dataset{
		transactions: make([]Transaction, len(transactions)),
		byCustomer:   make(map[string][]int),
		byItem:       make(map[string][]int),
		itemCategory: make(map[string]string),
		categories:   mapset.NewThreadUnsafeSet[string](),
	}
	copy(d.transactions, transactions)
	customerDict, itemDict := NewFreqDict(), NewFreqDict()
	digest := xxhash.New()
	for i, t := range d.transactions {
		customerDict.Add(t.CustomerId)
		itemDict.Add(t.ItemId)
		d.byCustomer[t.CustomerId] = append(d.byCustomer[t.CustomerId], i)
		d.byItem[t.ItemId] = append(d.byItem[t.ItemId], i)
		if _, exist := d.itemCategory[t.ItemId]; !exist {
			d.itemCategory[t.ItemId] = t.Category
		}
		if t.Category != "" {
			d.categories.Add(t.Category)
		}
		d.maxAmount = math.Max(d.maxAmount, t.Amount)
		d.maxPriors = max(d.maxPriors, t.PriorPurchases)
		writeTransaction(digest, t)
	}
	d.customerDict = customerDict.Sorted()
	d.itemDict = itemDict.Sorted()
	d.fingerprint = digest.Sum64()
	return d
}

func writeTransaction(digest *xxhash.Digest, t Transaction) {
	var buf [8]byte
	for _, s := range []string{t.CustomerId, t.ItemId, t.Category, t.Gender, t.Location, t.Season} {
		_, _ = digest.WriteString(s)
		_, _ = digest.Write([]byte{0})
	}
	for _, v := range []uint64{
		math.Float64bits(t.Amount),
		math.Float64bits(t.Rating),
		uint64(t.PriorPurchases),
		uint64(t.Age),
		uint64(t.Timestamp.Unix()),
		uint64(t.Timestamp.Nanosecond()),
	} {
		binary.LittleEndian.PutUint64(buf[:], v)
		_, _ = digest.Write(buf[:])
	}
}

// Fingerprint identifies the content of the transaction set, including row order.
func (d *Dataset) Fingerprint() uint64 {
	return d.fingerprint
}

func (d *Dataset) Count() int {
	return len(d.transactions)
}

// Transactions returns all transactions in row order. Callers must not modify it.
func (d *Dataset) Transactions() []Transaction {
	return d.transactions
}

// CustomerDict indexes customers in ascending identifier order.
func (d *Dataset) CustomerDict() *FreqDict {
	return d.customerDict
}

// ItemDict indexes items in ascending identifier order. Frequencies are purchase counts.
func (d *Dataset) ItemDict() *FreqDict {
	return d.itemDict
}

func (d *Dataset) Customers() []string {
	return d.customerDict.Keys()
}

func (d *Dataset) Items() []string {
	return d.itemDict.Keys()
}

func (d *Dataset) Categories() []string {
	categories := d.categories.ToSlice()
	sort.Strings(categories)
	return categories
}

// CustomerTransactions returns the transactions of a customer in row order.
func (d *Dataset) CustomerTransactions(customerId string) []Transaction {
	return lo.Map(d.byCustomer[customerId], func(i int, _ int) Transaction {
		return d.transactions[i]
	})
}

// ItemTransactions returns the transactions of an item in row order.
func (d *Dataset) ItemTransactions(itemId string) []Transaction {
	return lo.Map(d.byItem[itemId], func(i int, _ int) Transaction {
		return d.transactions[i]
	})
}

// ItemCategory returns the category of the first transaction of an item.
func (d *Dataset) ItemCategory(itemId string) (string, bool) {
	category, ok := d.itemCategory[itemId]
	return category, ok
}

// PurchasedItems returns the set of items bought by a customer.
func (d *Dataset) PurchasedItems(customerId string) mapset.Set[string] {
	items := mapset.NewThreadUnsafeSet[string]()
	for _, i := range d.byCustomer[customerId] {
		items.Add(d.transactions[i].ItemId)
	}
	return items
}

func (d *Dataset) MaxAmount() float64 {
	return d.maxAmount
}

func (d *Dataset) MaxPriorPurchases() int {
	return d.maxPriors
}
