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

package beatclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/elastic/elastic-transport-go/v8/elastictransport"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	jsoniter "github.com/json-iterator/go"
	"github.com/samber/lo"
	"go.elastic.co/apm/module/apmzap/v2"
	"go.elastic.co/apm/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// defaultIndexSettings is the body sent by CreateIndex.
var defaultIndexSettings = map[string]any{
	"settings": map[string]any{
		"index": map[string]any{},
	},
}

// catIndicesRow is an element of the "GET _cat/indices?format=json" array.
type catIndicesRow struct {
	Index string `json:"index"`
}

// Client indexes documents into Elasticsearch.
//
// A Client is only usable while its last version probe succeeded; until
// then every operation is a no-op. A Client is safe for concurrent use.
type Client struct {
	config    Config
	host      string
	transport elastictransport.Interface
	indexers  *bulkIndexerPool
	metrics   metrics

	// tracer is an OTel tracer, and should not be confused with
	// `c.config.Tracer` which is an Elastic APM Tracer.
	tracer trace.Tracer

	docsAdded              atomic.Int64
	bulkRequests           atomic.Int64
	docsIndexed            atomic.Int64
	docsFailedClient       atomic.Int64
	docsFailedServer       atomic.Int64
	tooManyRequests        atomic.Int64
	bytesTotal             atomic.Int64
	bytesUncompressedTotal atomic.Int64

	mu      sync.RWMutex
	version Version
	dialect BulkDialect
	valid   bool
}

// Stats holds client indexing statistics.
type Stats struct {
	// Added holds the number of documents passed to Bulk.
	Added int64

	// BulkRequests holds the number of bulk requests performed.
	BulkRequests int64

	// Indexed holds the number of documents indexed successfully.
	Indexed int64

	// Failed holds the number of documents that failed to be indexed,
	// the sum of FailedClient, FailedServer and TooManyRequests.
	Failed int64

	// FailedClient holds the number of documents that failed with a 4xx
	// status other than 429.
	FailedClient int64

	// FailedServer holds the number of documents that failed with a 5xx
	// status, or whose request could not be performed.
	FailedServer int64

	// TooManyRequests holds the number of documents that failed with 429.
	TooManyRequests int64

	// BytesTotal holds the number of bytes sent in bulk request bodies.
	BytesTotal int64

	// BytesUncompressedTotal holds the number of uncompressed bytes written
	// to bulk request bodies.
	BytesUncompressedTotal int64
}

// Connect returns a Client for the Elasticsearch server at host, after
// probing its version with "GET /".
//
// Connect returns an *Error of kind KindConnectionFailed when the server
// cannot be reached, KindServerError when it answers with a status other
// than 200, and KindUnexpectedResponseShape when the answer carries no
// version.number.
func Connect(ctx context.Context, host string, cfg Config) (*Client, error) {
	if host == "" {
		return nil, ErrEmptyHost
	}
	cfg = DefaultConfig(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	u, err := parseHost(host)
	if err != nil {
		return nil, err
	}
	tp, err := newTransport(u, cfg)
	if err != nil {
		return nil, err
	}
	ms, err := newMetrics(cfg)
	if err != nil {
		return nil, err
	}
	c := &Client{
		config:    cfg,
		host:      host,
		transport: tp,
		indexers: newBulkIndexerPool(cfg.MaxConcurrentRequests, BulkIndexerConfig{
			Client:           tp,
			CompressionLevel: cfg.CompressionLevel,
		}),
		metrics: ms,
	}
	if cfg.TracerProvider != nil {
		c.tracer = cfg.TracerProvider.Tracer("github.com/elastic/go-beatclient")
	}
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// String returns the host the client was created for.
func (c *Client) String() string {
	return c.host
}

// Version returns the server version detected by the last successful probe.
func (c *Client) Version() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version.Number
}

// Dialect returns the bulk dialect used for the detected server version.
func (c *Client) Dialect() BulkDialect {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dialect
}

// Connected reports whether the last successful probe returned a version.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.valid
}

// RetryConnection repeats the version probe and returns whether the client
// is usable. A failed probe returns false and leaves the client state as is.
func (c *Client) RetryConnection(ctx context.Context) bool {
	if err := c.connect(ctx); err != nil {
		c.config.Logger.Warn("failed to connect to elasticsearch",
			zap.String("host", c.host), zap.Error(err),
		)
		return false
	}
	return c.Connected()
}

func (c *Client) connect(ctx context.Context) error {
	v, err := c.probeVersion(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.version = v
	c.dialect = c.config.Dialect(v)
	c.valid = v.Number != ""
	return nil
}

// probeVersion reads version.number from a response such as
//
//	{"name":"WSIPBPh","version":{"number":"5.4.0","lucene_version":"6.5.0"}}
func (c *Client) probeVersion(ctx context.Context) (Version, error) {
	res, err := esapi.InfoRequest{}.Do(ctx, c.transport)
	if err != nil {
		return Version{}, &Error{
			Kind: KindConnectionFailed,
			Op:   "connect",
			Err:  fmt.Errorf("error while querying server <%s>: %w", c.host, err),
		}
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return Version{}, &Error{Kind: KindServerError, Op: "connect", Status: res.StatusCode}
	}
	body, err := readString(res.Body)
	if err != nil {
		return Version{}, &Error{
			Kind: KindConnectionFailed,
			Op:   "connect",
			Err:  fmt.Errorf("error while reading response from <%s>: %w", c.host, err),
		}
	}
	number := jsoniter.Get([]byte(body), "version", "number")
	if number.ValueType() != jsoniter.StringValue {
		return Version{}, shapeError("connect", "failed parsing version.number from <%s>", c.host)
	}
	return ParseVersion(number.ToString()), nil
}

// Indices returns the names of all indices, or nil when the client is not
// connected or the request fails.
func (c *Client) Indices(ctx context.Context) []string {
	if !c.Connected() {
		return nil
	}
	res, err := esapi.CatIndicesRequest{Format: "json"}.Do(ctx, c.transport)
	if err != nil {
		c.config.Logger.Warn("failed to list indices", zap.Error(err))
		return nil
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		c.config.Logger.Warn("failed to list indices", zap.Int("status", res.StatusCode))
		return nil
	}
	var rows []catIndicesRow
	if err := jsoniter.NewDecoder(res.Body).Decode(&rows); err != nil {
		c.config.Logger.Warn("failed to decode indices", zap.Error(err))
		return nil
	}
	return lo.Map(rows, func(row catIndicesRow, _ int) string {
		return row.Index
	})
}

// IndexExists reports whether "HEAD /{index}" returns 200.
func (c *Client) IndexExists(ctx context.Context, index string) bool {
	if !c.Connected() || index == "" {
		return false
	}
	res, err := esapi.IndicesExistsRequest{Index: []string{index}}.Do(ctx, c.transport)
	if err != nil {
		c.config.Logger.Warn("failed to check index", zap.String("index", index), zap.Error(err))
		return false
	}
	defer res.Body.Close()
	return res.StatusCode == http.StatusOK
}

// CreateIndex creates index with empty settings, and reports whether the
// server answered 200.
func (c *Client) CreateIndex(ctx context.Context, index string) bool {
	if !c.Connected() || index == "" {
		return false
	}
	body, err := jsonString(defaultIndexSettings)
	if err != nil {
		c.config.Logger.Error("failed to encode index settings", zap.Error(err))
		return false
	}
	res, err := esapi.IndicesCreateRequest{
		Index: index,
		Body:  strings.NewReader(body),
	}.Do(ctx, c.transport)
	if err != nil {
		c.config.Logger.Warn("failed to create index", zap.String("index", index), zap.Error(err))
		return false
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		msg, _ := readString(res.Body)
		c.config.Logger.Warn("failed to create index",
			zap.String("index", index),
			zap.Int("status", res.StatusCode),
			zap.String("response", msg),
		)
		return false
	}
	return true
}

// EnsureIndices creates each of the named indices that does not exist yet.
// Up to Config.MaxConcurrentRequests indices are checked concurrently.
func (c *Client) EnsureIndices(ctx context.Context, indices ...string) error {
	if !c.Connected() {
		return ErrNotConnected
	}
	indices = lo.Uniq(lo.Without(indices, ""))

	var mu sync.Mutex
	var failed []string
	var g errgroup.Group
	g.SetLimit(c.config.MaxConcurrentRequests)
	for _, index := range indices {
		g.Go(func() error {
			if c.IndexExists(ctx, index) || c.CreateIndex(ctx, index) {
				return nil
			}
			// Another writer may have created it in the meantime.
			if c.IndexExists(ctx, index) {
				return nil
			}
			mu.Lock()
			failed = append(failed, index)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	if len(failed) > 0 {
		slices.Sort(failed)
		return fmt.Errorf("failed to create indices: %s", strings.Join(failed, ", "))
	}
	return nil
}

// Bulk indexes docs into indices named after base and the timestamp of each
// document, see ResolveIndexName.
//
// Bulk returns ErrNotConnected when the client is not connected and
// ErrMissingIndexBase when base is empty. Server side failures are reported
// in the result. An error is returned along with the result when a document
// cannot be routed (KindInvalidDocument, no request is sent), when the
// request cannot be performed (KindConnectionFailed), or when the response
// cannot be interpreted (KindUnexpectedResponseShape).
func (c *Client) Bulk(ctx context.Context, docs []string, base string, t IndexType) (*BulkResult, error) {
	c.mu.RLock()
	valid, dialect := c.valid, c.dialect
	c.mu.RUnlock()
	if !valid {
		return nil, ErrNotConnected
	}
	if base == "" {
		return nil, ErrMissingIndexBase
	}
	if len(docs) == 0 {
		return &BulkResult{}, nil
	}

	indices := make([]string, len(docs))
	var invalid []int
	for i, doc := range docs {
		name, err := ResolveIndexName([]byte(doc), base, t)
		if err != nil {
			invalid = append(invalid, i)
			continue
		}
		indices[i] = name
	}
	if len(invalid) > 0 {
		err := &Error{
			Kind: KindInvalidDocument,
			Op:   "bulk",
			Err:  fmt.Errorf("documents %v: %w", invalid, ErrInvalidTimestamp),
		}
		return &BulkResult{Errors: true, Error: err.Error()}, err
	}

	// Bulk starts a new trace; a trace found in ctx is linked to it
	// instead, unless it is the OTel parent of the bulk span.
	apmCaller, otelCaller := callerTraceContexts(ctx)

	logger := c.config.Logger
	var tx *apm.Transaction
	if c.config.Tracer != nil {
		var opts apm.TransactionOptions
		for _, caller := range []*linkedTraceContext{apmCaller, otelCaller} {
			if caller != nil {
				opts.Links = append(opts.Links, caller.APMLink())
			}
		}
		tx = c.config.Tracer.StartTransactionOptions("beatclient.bulk", "output", opts)
		tx.Context.SetLabel("documents", len(docs))
		defer tx.End()
		ctx = apm.ContextWithTransaction(ctx, tx)

		// Add trace IDs to logger, to associate any per-item errors
		// below with the trace.
		logger = logger.With(apmzap.TraceContext(ctx)...)
	}
	var span trace.Span
	if c.tracer != nil {
		opts := []trace.SpanStartOption{trace.WithAttributes(
			attribute.Int("documents", len(docs)),
		)}
		if apmCaller != nil {
			opts = append(opts, trace.WithLinks(apmCaller.OTELLink()))
		}
		ctx, span = c.tracer.Start(ctx, "beatclient.bulk", opts...)
		defer span.End()

		logger = logger.With(
			zap.String("traceId", span.SpanContext().TraceID().String()),
			zap.String("spanId", span.SpanContext().SpanID().String()),
		)
	}

	if c.config.EnsureIndices {
		if err := c.EnsureIndices(ctx, indices...); err != nil {
			logger.Warn("failed to ensure indices exist", zap.Error(err))
		}
	}

	indexer, err := c.indexers.Get(dialect)
	if err != nil {
		return nil, err
	}
	defer c.indexers.Put(indexer)
	for i, doc := range docs {
		if err := indexer.Add(BulkIndexerItem{
			Index: indices[i],
			Body:  strings.NewReader(strings.TrimRight(doc, "\r\n")),
		}); err != nil {
			return nil, err
		}
	}
	n := int64(indexer.Items())
	attrs := metric.WithAttributeSet(c.config.MetricAttributes)
	c.docsAdded.Add(n)
	c.metrics.docsAdded.Add(context.Background(), n, attrs)

	var result *BulkResult
	took := timeFunc(func() {
		result, err = indexer.Flush(ctx)
	})
	c.bulkRequests.Add(1)
	c.metrics.bulkRequests.Add(context.Background(), 1, attrs)
	c.metrics.flushDuration.Record(context.Background(), took.Seconds(), attrs)
	if flushed := indexer.BytesFlushed(); flushed > 0 {
		c.bytesTotal.Add(int64(flushed))
		c.metrics.bytesTotal.Add(context.Background(), int64(flushed), attrs)
	}
	if flushed := indexer.BytesUncompressedFlushed(); flushed > 0 {
		c.bytesUncompressedTotal.Add(int64(flushed))
		c.metrics.bytesUncompressedTotal.Add(context.Background(), int64(flushed), attrs)
	}
	if result == nil {
		return nil, err
	}

	if err != nil || result.Status != http.StatusOK {
		c.countProcessed(result.Status, n)
		cause := err
		if cause == nil {
			cause = errors.New(result.Error)
		}
		logger.Error("bulk indexing request failed",
			zap.Int("status", result.Status),
			zap.Int64("documents", n),
			zap.Error(cause),
		)
		if tx != nil {
			tx.Outcome = "failure"
			apm.CaptureError(ctx, cause).Send()
		}
		if span != nil && span.IsRecording() {
			span.RecordError(cause)
			span.SetStatus(codes.Error, "bulk indexing request failed")
		}
		return result, err
	}

	type failedKey struct {
		index, errType, reason string
	}
	failedCount := make(map[failedKey]int)
	for _, item := range result.FailedItems {
		c.countProcessed(item.Status, 1)
		key := failedKey{index: item.Index}
		if item.Error != nil {
			key.errType, key.reason = item.Error.Type, item.Error.Reason
		}
		failedCount[key]++
	}
	for key, count := range failedCount {
		logger.Error(fmt.Sprintf("failed to index documents in '%s' (%s): %s",
			key.index, key.errType, key.reason,
		), zap.Int("documents", count))
	}
	if tx != nil {
		tx.Outcome = "success"
	}
	if span != nil && span.IsRecording() {
		if len(failedCount) > 0 {
			span.SetStatus(codes.Error, "failed to index documents")
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}
	indexed := n - int64(len(result.FailedItems))
	if indexed > 0 {
		c.docsIndexed.Add(indexed)
		c.metrics.docsProcessed.Add(context.Background(), indexed, attrs,
			metric.WithAttributes(attribute.String("status", "Success")),
		)
	}
	logger.Debug("bulk request completed",
		zap.Int64("docs_indexed", indexed),
		zap.Int("docs_failed", len(result.FailedItems)),
	)
	return result, nil
}

// countProcessed records n failed documents with the given status.
func (c *Client) countProcessed(status int, n int64) {
	var label string
	switch {
	case status == http.StatusTooManyRequests:
		c.tooManyRequests.Add(n)
		label = "TooMany"
	case status >= 400 && status < 500:
		c.docsFailedClient.Add(n)
		label = "FailedClient"
	default:
		c.docsFailedServer.Add(n)
		label = "FailedServer"
	}
	c.metrics.docsProcessed.Add(context.Background(), n,
		metric.WithAttributeSet(c.config.MetricAttributes),
		metric.WithAttributes(attribute.String("status", label)),
	)
}

// Stats returns the client indexing statistics.
func (c *Client) Stats() Stats {
	failedClient := c.docsFailedClient.Load()
	failedServer := c.docsFailedServer.Load()
	tooMany := c.tooManyRequests.Load()
	return Stats{
		Added:                  c.docsAdded.Load(),
		BulkRequests:           c.bulkRequests.Load(),
		Indexed:                c.docsIndexed.Load(),
		Failed:                 failedClient + failedServer + tooMany,
		FailedClient:           failedClient,
		FailedServer:           failedServer,
		TooManyRequests:        tooMany,
		BytesTotal:             c.bytesTotal.Load(),
		BytesUncompressedTotal: c.bytesUncompressedTotal.Load(),
	}
}

func timeFunc(f func()) time.Duration {
	t0 := time.Now()
	if f != nil {
		f()
	}
	return time.Since(t0)
}
