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
	"testing"

	"github.com/gorse-io/shopdash/dataset"
	"github.com/stretchr/testify/assert"
)

func TestExplainer(t *testing.T) {
	d := dataset.NewDataset(newTestTransactions())
	explainer := NewExplainer(d.CustomerTransactions("C001"), ComputeItemStats(d))
	assert.Equal(t, []string{"you like the Y category", "well rated by other customers"}, explainer.Explain("C"))
	assert.Equal(t, []string{"you like the X category", "price similar to your previous purchases"}, explainer.Explain("D"))
	assert.Empty(t, explainer.Explain("Z"))

	// without history only the rating applies
	explainer = NewExplainer(nil, ComputeItemStats(d))
	assert.Equal(t, []string{"well rated by other customers"}, explainer.Explain("E"))
	assert.Empty(t, explainer.Explain("B"))
}
