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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/elastic/elastic-transport-go/v8/elastictransport"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elastic/go-beatclient"
	"github.com/elastic/go-beatclient/beatclienttest"
)

func TestBulkIndexer(t *testing.T) {
	for _, tc := range []struct {
		Name             string
		CompressionLevel int
	}{
		{Name: "no_compression", CompressionLevel: gzip.NoCompression},
		{Name: "default_compression", CompressionLevel: gzip.DefaultCompression},
		{Name: "most_compression", CompressionLevel: gzip.BestCompression},
		{Name: "speed_compression", CompressionLevel: gzip.BestSpeed},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			const itemCount = 1_000
			client := beatclienttest.NewMockTransport(t, func(w http.ResponseWriter, r *http.Request) {
				if tc.CompressionLevel == gzip.NoCompression {
					assert.Empty(t, r.Header.Get("Content-Encoding"))
				} else {
					assert.Equal(t, "gzip", r.Header.Get("Content-Encoding"))
				}
				docs, result := beatclienttest.DecodeBulkRequest(r)
				assert.Len(t, docs, itemCount)
				json.NewEncoder(w).Encode(result)
			})
			indexer, err := beatclient.NewBulkIndexer(beatclient.BulkIndexerConfig{
				Client:           client,
				CompressionLevel: tc.CompressionLevel,
			})
			require.NoError(t, err)

			for i := 0; i < itemCount; i++ {
				require.NoError(t, indexer.Add(beatclient.BulkIndexerItem{
					Index: "testidx",
					Body: newJSONReader(map[string]any{
						"@timestamp": time.Now().UTC().Format(beatclienttest.TimestampFormat),
					}),
				}))
			}
			require.Equal(t, itemCount, indexer.Items())

			uncompressed := indexer.UncompressedLen()
			result, err := indexer.Flush(context.Background())
			require.NoError(t, err)
			assert.False(t, result.Errors)
			assert.Equal(t, http.StatusOK, result.Status)
			require.Len(t, result.IDs, itemCount)
			assert.Equal(t, "doc-1", result.IDs[0])
			assert.Equal(t, fmt.Sprintf("doc-%d", itemCount), result.IDs[itemCount-1])
			assert.Equal(t, uncompressed, indexer.BytesUncompressedFlushed())
			if tc.CompressionLevel == gzip.NoCompression {
				assert.Equal(t, uncompressed, indexer.BytesFlushed())
			} else {
				assert.Less(t, indexer.BytesFlushed(), uncompressed)
			}

			// The buffer is reset after a flush.
			assert.Equal(t, 0, indexer.Items())
			assert.Equal(t, 0, indexer.Len())
			assert.Equal(t, 0, indexer.UncompressedLen())
		})
	}
}

func TestBulkIndexerActionLines(t *testing.T) {
	for _, tc := range []struct {
		name     string
		dialect  beatclient.BulkDialect
		expected string
	}{{
		name:     "typed",
		dialect:  beatclient.BulkDialect{DocumentType: "doc", ActionKey: "index"},
		expected: `{"index":{"_index":"wifibeat-2017-06-03","_type":"doc"}}`,
	}, {
		name:     "typeless",
		dialect:  beatclient.BulkDialect{ActionKey: "index"},
		expected: `{"index":{"_index":"wifibeat-2017-06-03"}}`,
	}, {
		name:     "default_action",
		dialect:  beatclient.BulkDialect{},
		expected: `{"index":{"_index":"wifibeat-2017-06-03"}}`,
	}, {
		name:     "create",
		dialect:  beatclient.BulkDialect{ActionKey: "create"},
		expected: `{"create":{"_index":"wifibeat-2017-06-03"}}`,
	}} {
		t.Run(tc.name, func(t *testing.T) {
			const doc = `{"@timestamp":"2017-06-03T16:45:40.000Z","message":"hello"}`
			client := beatclienttest.NewMockTransport(t, func(w http.ResponseWriter, r *http.Request) {
				docs, actions, result := beatclienttest.DecodeBulkRequestWithActions(r)
				if assert.Len(t, actions, 2) {
					assert.Equal(t, tc.expected, actions[0].Line)
					assert.Equal(t, tc.expected, actions[1].Line)
				}
				assert.Equal(t, [][]byte{[]byte(doc), []byte(doc)}, docs)
				json.NewEncoder(w).Encode(result)
			})
			indexer, err := beatclient.NewBulkIndexer(beatclient.BulkIndexerConfig{
				Client:  client,
				Dialect: tc.dialect,
			})
			require.NoError(t, err)
			for i := 0; i < 2; i++ {
				require.NoError(t, indexer.Add(beatclient.BulkIndexerItem{
					Index: "wifibeat-2017-06-03",
					Body:  bytes.NewReader([]byte(doc)),
				}))
			}
			result, err := indexer.Flush(context.Background())
			require.NoError(t, err)
			assert.Equal(t, []string{"doc-1", "doc-2"}, result.IDs)
		})
	}
}

func TestBulkIndexerItemErrors(t *testing.T) {
	client := beatclienttest.NewMockTransport(t, func(w http.ResponseWriter, r *http.Request) {
		_, result := beatclienttest.DecodeBulkRequest(r)
		result.HasErrors = true
		for i, itemsMap := range result.Items {
			if i%2 == 0 {
				continue
			}
			for k, item := range itemsMap {
				item.Status = http.StatusBadRequest
				item.Error.Type = "mapper_parsing_exception"
				item.Error.Reason = "failed to parse"
				itemsMap[k] = item
			}
		}
		json.NewEncoder(w).Encode(result)
	})
	indexer, err := beatclient.NewBulkIndexer(beatclient.BulkIndexerConfig{Client: client})
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		require.NoError(t, indexer.Add(beatclient.BulkIndexerItem{
			Index: "testidx",
			Body:  newJSONReader(map[string]any{"n": i}),
		}))
	}

	result, err := indexer.Flush(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Errors)
	assert.Empty(t, result.IDs)
	const msg = "mapper_parsing_exception: failed to parse"
	assert.Equal(t, msg+"\n"+msg, result.Error)
	require.Len(t, result.FailedItems, 2)
	assert.Equal(t, 1, result.FailedItems[0].Position)
	assert.Equal(t, "doc-2", result.FailedItems[0].ID)
	assert.Equal(t, 3, result.FailedItems[1].Position)
	assert.Equal(t, http.StatusBadRequest, result.FailedItems[1].Status)
	assert.Equal(t, "testidx", result.FailedItems[1].Index)
}

func TestBulkIndexerFlushEmpty(t *testing.T) {
	client := beatclienttest.NewMockTransport(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected bulk request")
	})
	indexer, err := beatclient.NewBulkIndexer(beatclient.BulkIndexerConfig{Client: client})
	require.NoError(t, err)

	result, err := indexer.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &beatclient.BulkResult{}, result)
}

func TestBulkIndexerFlushRequestError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	client, err := elastictransport.New(elastictransport.Config{
		URLs:         []*url.URL{u},
		DisableRetry: true,
	})
	require.NoError(t, err)

	indexer, err := beatclient.NewBulkIndexer(beatclient.BulkIndexerConfig{Client: client})
	require.NoError(t, err)
	require.NoError(t, indexer.Add(beatclient.BulkIndexerItem{
		Index: "testidx",
		Body:  newJSONReader(map[string]any{"n": 1}),
	}))

	result, err := indexer.Flush(context.Background())
	assert.ErrorIs(t, err, beatclient.ErrConnectionFailed)
	require.NotNil(t, result)
	assert.True(t, result.Errors)
	assert.NotEmpty(t, result.Error)
	assert.Equal(t, 0, indexer.BytesFlushed())
	assert.Equal(t, 0, indexer.Items())
}

func TestBulkIndexerAddNilBody(t *testing.T) {
	client := beatclienttest.NewMockTransport(t, nil)
	indexer, err := beatclient.NewBulkIndexer(beatclient.BulkIndexerConfig{Client: client})
	require.NoError(t, err)
	assert.EqualError(t, indexer.Add(beatclient.BulkIndexerItem{Index: "testidx"}), "missing document body")
	assert.Equal(t, 0, indexer.Items())
}

func TestNewBulkIndexerInvalidConfig(t *testing.T) {
	_, err := beatclient.NewBulkIndexer(beatclient.BulkIndexerConfig{})
	assert.EqualError(t, err, "client is nil")

	client := beatclienttest.NewMockTransport(t, nil)
	_, err = beatclient.NewBulkIndexer(beatclient.BulkIndexerConfig{
		Client:           client,
		CompressionLevel: 10,
	})
	assert.EqualError(t, err, "expected CompressionLevel in range [-1,9], got 10")
}

func newJSONReader(v any) *bytes.Reader {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return bytes.NewReader(data)
}
