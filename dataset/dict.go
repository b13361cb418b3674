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

import "sort"

// FreqDict maps string identifiers to dense indices and counts how often
// each identifier was added.
type FreqDict struct {
	si  map[string]int32
	is  []string
	cnt []int
}

func NewFreqDict() *FreqDict {
	return &FreqDict{si: map[string]int32{}}
}

func (d *FreqDict) Count() int32 {
	return int32(len(d.is))
}

// Add returns the index of s, registering it if needed, and increments its frequency.
func (d *FreqDict) Add(s string) int32 {
	if y, ok := d.si[s]; ok {
		d.cnt[y]++
		return y
	}
	y := int32(len(d.is))
	d.si[s] = y
	d.is = append(d.is, s)
	d.cnt = append(d.cnt, 1)
	return y
}

// Id returns the index of s or -1 if s is unknown.
func (d *FreqDict) Id(s string) int32 {
	if y, ok := d.si[s]; ok {
		return y
	}
	return -1
}

func (d *FreqDict) String(id int32) (string, bool) {
	if id < 0 || int(id) >= len(d.is) {
		return "", false
	}
	return d.is[id], true
}

func (d *FreqDict) Freq(id int32) int {
	if id < 0 || int(id) >= len(d.cnt) {
		return 0
	}
	return d.cnt[id]
}

// Keys returns identifiers ordered by index.
func (d *FreqDict) Keys() []string {
	keys := make([]string, len(d.is))
	copy(keys, d.is)
	return keys
}

// Sorted returns a copy whose indices follow ascending identifier order,
// so that indices do not depend on insertion order.
func (d *FreqDict) Sorted() *FreqDict {
	keys := d.Keys()
	sort.Strings(keys)
	sorted := &FreqDict{
		si:  make(map[string]int32, len(keys)),
		is:  keys,
		cnt: make([]int, len(keys)),
	}
	for i, key := range keys {
		sorted.si[key] = int32(i)
		sorted.cnt[i] = d.cnt[d.si[key]]
	}
	return sorted
}
