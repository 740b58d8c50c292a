// Licensed to Elasticsearch B.V. under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. Elasticsearch B.V. licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package beatclienttest

import (
	"slices"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// AssertOTelMetrics calls assertMetric for each of ms, in name order.
func AssertOTelMetrics(t testing.TB, ms []metricdata.Metrics, assertMetric func(m metricdata.Metrics)) {
	t.Helper()
	ms = slices.Clone(ms)
	slices.SortFunc(ms, func(a, b metricdata.Metrics) int {
		return strings.Compare(a.Name, b.Name)
	})
	for _, m := range ms {
		assertMetric(m)
	}
}

// NewAssertCounter returns a function which asserts that an int64 counter
// holds a single data point with the given value and attributes. Each call
// increments asserted.
func NewAssertCounter(t testing.TB, asserted *atomic.Int64) func(metricdata.Metrics, int64, attribute.Set) {
	return func(m metricdata.Metrics, value int64, attrs attribute.Set) {
		t.Helper()
		asserted.Add(1)
		counter, ok := m.Data.(metricdata.Sum[int64])
		require.True(t, ok, "%s is not an int64 sum", m.Name)
		require.Len(t, counter.DataPoints, 1, m.Name)
		assert.Equal(t, value, counter.DataPoints[0].Value, m.Name)
		assert.Equal(t, attrs, counter.DataPoints[0].Attributes, m.Name)
	}
}
