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
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/bits-and-blooms/bitset"
	"github.com/chewxy/math32"
	"github.com/gorse-io/shopdash/base/encoding"
	"github.com/gorse-io/shopdash/base/log"
	"github.com/gorse-io/shopdash/dataset"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// ErrModelUnavailable is returned by every prediction when no factor model is loaded.
var ErrModelUnavailable = errors.NotAssignedf("latent factor model")

// Predictor estimates the affinity of a customer for an item. Estimates
// are unscaled and only comparable between items for the same customer.
//
// Errors distinguish three cases: ErrModelUnavailable (systematic, every
// call fails), errors.NotFound (unknown customer or item) and
// errors.NotValid (the model has no usable estimate for the pair).
type Predictor interface {
	Predict(customerId, itemId string) (float32, error)
}

// Unavailable is the predictor used when the factor artifact is missing.
type Unavailable struct {
	Cause error
}

func (u Unavailable) Predict(string, string) (float32, error) {
	if u.Cause != nil {
		if errors.Is(u.Cause, ErrModelUnavailable) {
			return 0, u.Cause
		}
		return 0, errors.Annotate(ErrModelUnavailable, u.Cause.Error())
	}
	return 0, ErrModelUnavailable
}

// maxFactors bounds the dimension accepted from an artifact.
const maxFactors = 1 << 12

type factorParams struct {
	NFactors   int
	GlobalMean float32
}

// FactorModel is a biased matrix factorization model trained offline:
//
//	r̂(u,i) = μ + b_u + b_i + p_u·q_i
type FactorModel struct {
	params          factorParams
	UserIndex       *dataset.FreqDict
	ItemIndex       *dataset.FreqDict
	UserPredictable *bitset.BitSet
	ItemPredictable *bitset.BitSet
	UserFactor      [][]float32 // p_u
	ItemFactor      [][]float32 // q_i
	UserBias        []float32   // b_u
	ItemBias        []float32   // b_i
}

func NewFactorModel(nFactors int, globalMean float32) *FactorModel {
	return &FactorModel{
		params: factorParams{
			NFactors:   nFactors,
			GlobalMean: globalMean,
		},
		UserIndex:       dataset.NewFreqDict(),
		ItemIndex:       dataset.NewFreqDict(),
		UserPredictable: bitset.New(0),
		ItemPredictable: bitset.New(0),
	}
}

func (m *FactorModel) NFactors() int {
	return m.params.NFactors
}

func (m *FactorModel) GlobalMean() float32 {
	return m.params.GlobalMean
}

// SetUser registers the latent factor of a customer. A nil factor registers
// the customer without a trained vector.
func (m *FactorModel) SetUser(userId string, factor []float32, bias float32) error {
	if _, err := set(m.UserIndex, m.UserPredictable, &m.UserFactor, &m.UserBias, m.NFactors(), userId, factor, bias); err != nil {
		return errors.Annotatef(err, "user %s", userId)
	}
	return nil
}

// SetItem registers the latent factor of an item. A nil factor registers
// the item without a trained vector.
func (m *FactorModel) SetItem(itemId string, factor []float32, bias float32) error {
	if _, err := set(m.ItemIndex, m.ItemPredictable, &m.ItemFactor, &m.ItemBias, m.NFactors(), itemId, factor, bias); err != nil {
		return errors.Annotatef(err, "item %s", itemId)
	}
	return nil
}

func set(index *dataset.FreqDict, predictable *bitset.BitSet, factors *[][]float32, biases *[]float32,
	nFactors int, id string, factor []float32, bias float32) (int32, error) {
	if factor != nil && len(factor) != nFactors {
		return -1, errors.NotValidf("dimension %d (expect %d)", len(factor), nFactors)
	}
	i := index.Id(id)
	if i < 0 {
		i = index.Add(id)
		*factors = append(*factors, nil)
		*biases = append(*biases, 0)
	}
	(*factors)[i] = factor
	(*biases)[i] = bias
	if factor != nil {
		predictable.Set(uint(i))
	} else {
		predictable.Clear(uint(i))
	}
	return i, nil
}

// IsUserPredictable returns false if user has no trained vector.
func (m *FactorModel) IsUserPredictable(userIndex int32) bool {
	if userIndex >= m.UserIndex.Count() || userIndex < 0 {
		return false
	}
	return m.UserPredictable.Test(uint(userIndex))
}

// IsItemPredictable returns false if item has no trained vector.
func (m *FactorModel) IsItemPredictable(itemIndex int32) bool {
	if itemIndex >= m.ItemIndex.Count() || itemIndex < 0 {
		return false
	}
	return m.ItemPredictable.Test(uint(itemIndex))
}

func (m *FactorModel) Predict(userId, itemId string) (float32, error) {
	userIndex := m.UserIndex.Id(userId)
	if userIndex < 0 {
		return 0, errors.NotFoundf("customer %s", userId)
	}
	itemIndex := m.ItemIndex.Id(itemId)
	if itemIndex < 0 {
		return 0, errors.NotFoundf("item %s", itemId)
	}
	if !m.IsUserPredictable(userIndex) || !m.IsItemPredictable(itemIndex) {
		return 0, errors.NotValidf("untrained factor for (%s, %s)", userId, itemId)
	}
	ret := m.GlobalMean() + m.UserBias[userIndex] + m.ItemBias[itemIndex] +
		dot(m.UserFactor[userIndex], m.ItemFactor[itemIndex])
	if math32.IsNaN(ret) || math32.IsInf(ret, 0) {
		return 0, errors.NotValidf("estimate for (%s, %s)", userId, itemId)
	}
	return ret, nil
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// Marshal model into byte stream.
func (m *FactorModel) Marshal(w io.Writer) error {
	if err := encoding.WriteGob(w, m.params); err != nil {
		return errors.Trace(err)
	}
	if err := marshalFactors(w, m.UserIndex, m.UserPredictable, m.UserFactor, m.UserBias); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(marshalFactors(w, m.ItemIndex, m.ItemPredictable, m.ItemFactor, m.ItemBias))
}

func marshalFactors(w io.Writer, index *dataset.FreqDict, predictable *bitset.BitSet, factors [][]float32, biases []float32) error {
	if err := binary.Write(w, binary.LittleEndian, int64(index.Count())); err != nil {
		return errors.Trace(err)
	}
	for i, id := range index.Keys() {
		if err := encoding.WriteString(w, id); err != nil {
			return errors.Trace(err)
		}
		trained := predictable.Test(uint(i))
		if err := binary.Write(w, binary.LittleEndian, trained); err != nil {
			return errors.Trace(err)
		}
		if err := binary.Write(w, binary.LittleEndian, biases[i]); err != nil {
			return errors.Trace(err)
		}
		if trained {
			if err := encoding.WriteMatrix(w, [][]float32{factors[i]}); err != nil {
				return errors.Trace(err)
			}
		}
	}
	return nil
}

// Unmarshal model from byte stream.
func (m *FactorModel) Unmarshal(r io.Reader) error {
	if err := encoding.ReadGob(r, &m.params); err != nil {
		return errors.Trace(err)
	}
	if m.params.NFactors < 0 || m.params.NFactors > maxFactors {
		return errors.NotValidf("n_factors %d", m.params.NFactors)
	}
	m.UserIndex, m.ItemIndex = dataset.NewFreqDict(), dataset.NewFreqDict()
	m.UserPredictable, m.ItemPredictable = bitset.New(0), bitset.New(0)
	m.UserFactor, m.ItemFactor, m.UserBias, m.ItemBias = nil, nil, nil, nil
	if err := m.unmarshalFactors(r, m.SetUser); err != nil {
		return errors.Annotate(err, "read user factors")
	}
	if err := m.unmarshalFactors(r, m.SetItem); err != nil {
		return errors.Annotate(err, "read item factors")
	}
	return nil
}

func (m *FactorModel) unmarshalFactors(r io.Reader, add func(string, []float32, float32) error) error {
	var count int64
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return errors.Trace(err)
	}
	for j := int64(0); j < count; j++ {
		id, err := encoding.ReadString(r)
		if err != nil {
			return errors.Trace(err)
		}
		var (
			trained bool
			bias    float32
			factor  []float32
		)
		if err = binary.Read(r, binary.LittleEndian, &trained); err != nil {
			return errors.Trace(err)
		}
		if err = binary.Read(r, binary.LittleEndian, &bias); err != nil {
			return errors.Trace(err)
		}
		if trained {
			factor = make([]float32, m.NFactors())
			if err = encoding.ReadMatrix(r, [][]float32{factor}); err != nil {
				return errors.Trace(err)
			}
		}
		if err = add(id, factor, bias); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// Load reads a factor model artifact. Any failure is reported as
// ErrModelUnavailable so that callers can fall back to Unavailable.
func Load(path string) (*FactorModel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Annotatef(ErrModelUnavailable, "open %s: %v", path, err)
	}
	defer f.Close()
	m := new(FactorModel)
	if err = m.Unmarshal(bufio.NewReader(f)); err != nil {
		return nil, errors.Annotatef(ErrModelUnavailable, "read %s: %v", path, err)
	}
	log.Logger().Info("load factor model",
		zap.String("path", path),
		zap.Int("n_factors", m.NFactors()),
		zap.Int32("n_users", m.UserIndex.Count()),
		zap.Int32("n_items", m.ItemIndex.Count()))
	return m, nil
}

// Save writes a factor model artifact.
func Save(path string, m *FactorModel) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Trace(err)
	}
	w := bufio.NewWriter(f)
	if err = m.Marshal(w); err != nil {
		_ = f.Close()
		return errors.Trace(err)
	}
	if err = w.Flush(); err != nil {
		_ = f.Close()
		return errors.Trace(err)
	}
	return errors.Trace(f.Close())
}
