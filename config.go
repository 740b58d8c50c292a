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
	"fmt"
	"net/http"

	"go.elastic.co/apm/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Config holds configuration for Client.
type Config struct {
	// Logger holds an optional Logger to use for logging requests.
	//
	// Bulk item errors are logged at error level, HTTP round trips at
	// debug level.
	//
	// If Logger is nil, logging will be disabled.
	Logger *zap.Logger

	// Tracer holds an optional apm.Tracer to use for tracing bulk requests
	// to Elasticsearch. Each bulk request is traced as a transaction, and
	// HTTP requests are traced as spans.
	//
	// If Tracer is nil, requests will not be traced.
	Tracer *apm.Tracer

	// TracerProvider holds an optional OTel TracerProvider. When set, each
	// bulk request is recorded as a span.
	TracerProvider trace.TracerProvider

	// MeterProvider holds the OTel MeterProvider to be used to create and
	// record client metrics.
	//
	// If unset, the global OTel MeterProvider will be used, if that is unset,
	// no metrics will be recorded.
	MeterProvider metric.MeterProvider

	// MetricAttributes holds any extra attributes to set in the recorded
	// metrics.
	MetricAttributes attribute.Set

	// Transport holds the http.RoundTripper used for requests.
	//
	// If Transport is nil, http.DefaultTransport will be used.
	Transport http.RoundTripper

	// Username and Password hold optional basic auth credentials.
	Username string
	Password string

	// APIKey holds an optional base64 encoded API key. It takes precedence
	// over Username and Password.
	APIKey string

	// CompressionLevel holds the gzip compression level for bulk request
	// bodies, from 0 (gzip.NoCompression) to 9 (gzip.BestCompression). The
	// special value -1 (gzip.DefaultCompression) selects the default
	// compression level.
	CompressionLevel int

	// Dialect returns the bulk dialect to use for a detected server version.
	//
	// If Dialect is nil, DefaultDialect will be used.
	Dialect func(Version) BulkDialect

	// EnsureIndices makes Bulk create every target index that does not
	// exist yet before sending the documents.
	EnsureIndices bool

	// MaxConcurrentRequests holds the maximum number of requests issued
	// concurrently by EnsureIndices.
	//
	// If MaxConcurrentRequests is less than or equal to zero, the default
	// of 4 will be used.
	MaxConcurrentRequests int
}

// DefaultConfig returns cfg with unset fields set to their defaults.
func DefaultConfig(cfg Config) Config {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Dialect == nil {
		cfg.Dialect = DefaultDialect
	}
	if cfg.MaxConcurrentRequests <= 0 {
		cfg.MaxConcurrentRequests = 4
	}
	if cfg.Transport == nil {
		cfg.Transport = http.DefaultTransport
	}
	return cfg
}

// Validate checks the configuration.
func (cfg Config) Validate() error {
	if cfg.CompressionLevel < -1 || cfg.CompressionLevel > 9 {
		return fmt.Errorf(
			"expected CompressionLevel in range [-1,9], got %d",
			cfg.CompressionLevel,
		)
	}
	return nil
}
