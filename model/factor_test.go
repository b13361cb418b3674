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

package model

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/gorse-io/shopdash/base/encoding"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestModel(t *testing.T) *FactorModel {
	m := NewFactorModel(2, 3)
	require.NoError(t, m.SetUser("C1", []float32{1, 0}, 0.5))
	require.NoError(t, m.SetUser("C2", []float32{0, 1}, -0.5))
	require.NoError(t, m.SetUser("C3", nil, 0))
	require.NoError(t, m.SetItem("A", []float32{1, 2}, 0.1))
	require.NoError(t, m.SetItem("B", []float32{2, 1}, 0.2))
	require.NoError(t, m.SetItem("C", nil, 0))
	return m
}

func TestFactorModelPredict(t *testing.T) {
	m := newTestModel(t)
	score, err := m.Predict("C1", "A")
	assert.NoError(t, err)
	assert.InDelta(t, 3+0.5+0.1+1, score, 1e-6)
	score, err = m.Predict("C2", "B")
	assert.NoError(t, err)
	assert.InDelta(t, 3-0.5+0.2+1, score, 1e-6)

	_, err = m.Predict("C9", "A")
	assert.True(t, errors.Is(err, errors.NotFound))
	_, err = m.Predict("C1", "Z")
	assert.True(t, errors.Is(err, errors.NotFound))
	_, err = m.Predict("C3", "A")
	assert.True(t, errors.Is(err, errors.NotValid))
	_, err = m.Predict("C1", "C")
	assert.True(t, errors.Is(err, errors.NotValid))

	assert.Error(t, m.SetItem("D", []float32{1}, 0))
	assert.True(t, m.IsUserPredictable(0))
	assert.False(t, m.IsUserPredictable(2))
	assert.False(t, m.IsUserPredictable(100))

	// overwrite an item
	require.NoError(t, m.SetItem("C", []float32{0, 0}, 1))
	score, err = m.Predict("C1", "C")
	assert.NoError(t, err)
	assert.InDelta(t, 4.5, score, 1e-6)
}

func TestFactorModelMarshal(t *testing.T) {
	m := newTestModel(t)
	buf := bytes.NewBuffer(nil)
	require.NoError(t, m.Marshal(buf))
	var copied FactorModel
	require.NoError(t, copied.Unmarshal(buf))
	assert.Equal(t, 2, copied.NFactors())
	assert.Equal(t, float32(3), copied.GlobalMean())
	assert.Equal(t, m.UserIndex.Keys(), copied.UserIndex.Keys())
	assert.Equal(t, m.ItemIndex.Keys(), copied.ItemIndex.Keys())
	for _, userId := range []string{"C1", "C2", "C3"} {
		for _, itemId := range []string{"A", "B", "C"} {
			expect, expectErr := m.Predict(userId, itemId)
			actual, actualErr := copied.Predict(userId, itemId)
			assert.Equal(t, expect, actual)
			assert.Equal(t, expectErr == nil, actualErr == nil)
		}
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "factors.bin")
	require.NoError(t, Save(path, newTestModel(t)))
	m, err := Load(path)
	require.NoError(t, err)
	score, err := m.Predict("C1", "A")
	assert.NoError(t, err)
	assert.InDelta(t, 4.6, score, 1e-6)

	_, err = Load(filepath.Join(t.TempDir(), "missing.bin"))
	assert.True(t, errors.Is(err, ErrModelUnavailable))
}

func TestLoadCorrupted(t *testing.T) {
	for _, nFactors := range []int{-1, maxFactors + 1} {
		buf := bytes.NewBuffer(nil)
		require.NoError(t, encoding.WriteGob(buf, factorParams{NFactors: nFactors, GlobalMean: 3}))
		require.NoError(t, binary.Write(buf, binary.LittleEndian, int64(1)))
		require.NoError(t, encoding.WriteString(buf, "C1"))
		require.NoError(t, binary.Write(buf, binary.LittleEndian, true))
		require.NoError(t, binary.Write(buf, binary.LittleEndian, float32(0.5)))
		path := filepath.Join(t.TempDir(), "factors.bin")
		require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))

		var err error
		assert.NotPanics(t, func() {
			_, err = Load(path)
		})
		assert.True(t, errors.Is(err, ErrModelUnavailable))
		assert.Contains(t, err.Error(), "n_factors")
	}

	// truncated artifact
	path := filepath.Join(t.TempDir(), "factors.bin")
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3}, 0644))
	_, err := Load(path)
	assert.True(t, errors.Is(err, ErrModelUnavailable))
}

func TestUnavailable(t *testing.T) {
	_, err := Unavailable{}.Predict("C1", "A")
	assert.True(t, errors.Is(err, ErrModelUnavailable))
	_, err = Unavailable{Cause: errors.New("no such file")}.Predict("C1", "A")
	assert.True(t, errors.Is(err, ErrModelUnavailable))
	assert.Contains(t, err.Error(), "no such file")
}
