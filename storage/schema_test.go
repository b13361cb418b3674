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
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
)

func TestAppendURLParams(t *testing.T) {
	// test windows path
	url, err := AppendURLParams(`c:\\shopdash.db`, []lo.Tuple2[string, string]{{"a", "b"}})
	assert.NoError(t, err)
	assert.Equal(t, `c:\\shopdash.db?a=b`, url)
	// test no scheme
	url, err = AppendURLParams(`shopdash.db`, []lo.Tuple2[string, string]{{"a", "b"}})
	assert.NoError(t, err)
	assert.Equal(t, `shopdash.db?a=b`, url)
}

func TestAppendMySQLParams(t *testing.T) {
	dsn, err := AppendMySQLParams("root@tcp(localhost:3306)/shop?autocommit=false", map[string]string{
		"autocommit": "true",
		"sql_notes":  "0",
	})
	assert.NoError(t, err)
	assert.Contains(t, dsn, "autocommit=false")
	assert.Contains(t, dsn, "sql_notes=0")

	_, err = AppendMySQLParams("root@tcp(localhost:3306", nil)
	assert.Error(t, err)
}

func TestTablePrefix(t *testing.T) {
	assert.Equal(t, "shop_transactions", TablePrefix("shop_").TransactionsTable())
	assert.Equal(t, "item_similarity", TablePrefix("").ItemSimilarityTable())
}
