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

package beatclient_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elastic/go-beatclient"
	"github.com/elastic/go-beatclient/beatclienttest"
)

func TestResolveIndexName(t *testing.T) {
	const doc = `{"@timestamp":"2017-06-03T16:45:40.000Z","beat":{"name":"ubuntu"}}`
	for _, tc := range []struct {
		indexType beatclient.IndexType
		expected  string
	}{
		{indexType: beatclient.Daily, expected: "wifibeat-2017-06-03"},
		{indexType: beatclient.Monthly, expected: "wifibeat-2017-06"},
		{indexType: beatclient.Yearly, expected: "wifibeat-2017"},
		{indexType: beatclient.NoTime, expected: "wifibeat"},
	} {
		t.Run(tc.indexType.String(), func(t *testing.T) {
			name, err := beatclient.ResolveIndexName([]byte(doc), "wifibeat", tc.indexType)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, name)
		})
	}
}

func TestResolveIndexNameTimestamps(t *testing.T) {
	ts := time.Date(2024, time.February, 29, 23, 59, 59, 999e6, time.UTC)
	for i := 0; i < 50; i++ {
		formatted := ts.Format(beatclienttest.TimestampFormat)
		require.Len(t, formatted, 24)
		doc := []byte(fmt.Sprintf(`{"message":"m","@timestamp":%q}`, formatted))

		daily, err := beatclient.ResolveIndexName(doc, "base", beatclient.Daily)
		require.NoError(t, err)
		assert.Equal(t, "base-"+formatted[:10], daily)

		monthly, err := beatclient.ResolveIndexName(doc, "base", beatclient.Monthly)
		require.NoError(t, err)
		assert.Equal(t, "base-"+formatted[:7], monthly)

		yearly, err := beatclient.ResolveIndexName(doc, "base", beatclient.Yearly)
		require.NoError(t, err)
		assert.Equal(t, "base-"+formatted[:4], yearly)

		ts = ts.Add(-37 * 24 * time.Hour)
	}
}

func TestResolveIndexNameInvalid(t *testing.T) {
	for name, doc := range map[string]string{
		"no_trailing_z":  `{"@timestamp":"2017-06-03T16:45:40.000"}`,
		"too_long":       `{"@timestamp":"2017-06-03T16:45:40.0000Z"}`,
		"no_t":           `{"@timestamp":"2017-06-03 16:45:40.000Z"}`,
		"offset":         `{"@timestamp":"2017-06-03T16:45:40+02:00"}`,
		"not_a_string":   `{"@timestamp":1496508340000}`,
		"missing":        `{"timestamp":"2017-06-03T16:45:40.000Z"}`,
		"nested":         `{"event":{"@timestamp":"2017-06-03T16:45:40.000Z"}}`,
		"not_an_object":  `["2017-06-03T16:45:40.000Z"]`,
		"invalid_json":   `{"@timestamp":`,
		"empty_document": ``,
	} {
		t.Run(name, func(t *testing.T) {
			index, err := beatclient.ResolveIndexName([]byte(doc), "wifibeat", beatclient.Daily)
			assert.ErrorIs(t, err, beatclient.ErrInvalidTimestamp)
			assert.Empty(t, index)
		})
	}
}

func TestResolveIndexNameNoTimeIgnoresDocument(t *testing.T) {
	index, err := beatclient.ResolveIndexName([]byte(`not json`), "wifibeat", beatclient.NoTime)
	require.NoError(t, err)
	assert.Equal(t, "wifibeat", index)
}

func TestParseIndexType(t *testing.T) {
	for _, indexType := range []beatclient.IndexType{
		beatclient.Daily, beatclient.Monthly, beatclient.Yearly, beatclient.NoTime,
	} {
		parsed, err := beatclient.ParseIndexType(indexType.String())
		require.NoError(t, err)
		assert.Equal(t, indexType, parsed)
	}
	parsed, err := beatclient.ParseIndexType("Monthly")
	require.NoError(t, err)
	assert.Equal(t, beatclient.Monthly, parsed)

	_, err = beatclient.ParseIndexType("hourly")
	assert.EqualError(t, err, `unknown index type "hourly"`)
}
