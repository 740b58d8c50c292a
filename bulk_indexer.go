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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/klauspost/compress/gzip"
	"go.elastic.co/fastjson"
)

// BulkIndexerConfig holds configuration for BulkIndexer.
type BulkIndexerConfig struct {
	// Client holds the transport used to perform the bulk request.
	Client esapi.Transport

	// Dialect holds the bulk dialect of the target server.
	//
	// If Dialect.ActionKey is empty, DefaultActionKey will be used.
	Dialect BulkDialect

	// CompressionLevel holds the gzip compression level, from 0 (gzip.NoCompression)
	// to 9 (gzip.BestCompression). Higher values provide greater compression, at a
	// greater cost of CPU. The special value -1 (gzip.DefaultCompression) selects the
	// default compression level.
	CompressionLevel int
}

// BulkIndexer encodes documents into a single bulk request body.
//
// A BulkIndexer is not safe for concurrent use.
type BulkIndexer struct {
	config                   BulkIndexerConfig
	itemsAdded               int
	uncompressedLen          int
	bytesFlushed             int
	bytesUncompressedFlushed int
	jsonw                    fastjson.Writer
	writer                   io.Writer
	gzipw                    *gzip.Writer
	buf                      bytes.Buffer
}

// BulkIndexerItem is a document to be indexed into Index.
type BulkIndexerItem struct {
	Index string
	Body  io.WriterTo
}

// NewBulkIndexer returns a bulk indexer that issues bulk requests to Elasticsearch.
func NewBulkIndexer(cfg BulkIndexerConfig) (*BulkIndexer, error) {
	if cfg.Client == nil {
		return nil, errors.New("client is nil")
	}
	if cfg.CompressionLevel < -1 || cfg.CompressionLevel > 9 {
		return nil, fmt.Errorf(
			"expected CompressionLevel in range [-1,9], got %d",
			cfg.CompressionLevel,
		)
	}
	if cfg.Dialect.ActionKey == "" {
		cfg.Dialect.ActionKey = DefaultActionKey
	}

	b := &BulkIndexer{config: cfg}
	if cfg.CompressionLevel != gzip.NoCompression {
		b.gzipw, _ = gzip.NewWriterLevel(&b.buf, cfg.CompressionLevel)
		b.writer = b.gzipw
	} else {
		b.writer = &b.buf
	}
	return b, nil
}

func (b *BulkIndexer) resetBuf() {
	b.itemsAdded = 0
	b.uncompressedLen = 0
	b.buf.Reset()
	if b.gzipw != nil {
		b.gzipw.Reset(&b.buf)
	}
}

// Items returns the number of buffered items.
func (b *BulkIndexer) Items() int {
	return b.itemsAdded
}

// Len returns the number of buffered bytes.
func (b *BulkIndexer) Len() int {
	return b.buf.Len()
}

// UncompressedLen returns the number of uncompressed buffered bytes.
func (b *BulkIndexer) UncompressedLen() int {
	return b.uncompressedLen
}

// BytesFlushed returns the number of bytes sent by the last flush.
func (b *BulkIndexer) BytesFlushed() int {
	return b.bytesFlushed
}

// BytesUncompressedFlushed returns the number of uncompressed bytes sent by
// the last flush.
func (b *BulkIndexer) BytesUncompressedFlushed() int {
	return b.bytesUncompressedFlushed
}

// Add encodes an item in the buffer.
func (b *BulkIndexer) Add(item BulkIndexerItem) error {
	if item.Body == nil {
		return errors.New("missing document body")
	}
	if err := b.writeMeta(item.Index); err != nil {
		return err
	}
	n, err := item.Body.WriteTo(b.writer)
	b.uncompressedLen += int(n)
	if err != nil {
		return fmt.Errorf("failed to write bulk indexer item: %w", err)
	}
	if _, err := b.writer.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	b.uncompressedLen++
	b.itemsAdded++
	return nil
}

// writeMeta writes the action line, e.g.
// {"index":{"_index":"wifibeat-2017-06-09","_type":"doc"}}
func (b *BulkIndexer) writeMeta(index string) error {
	b.jsonw.RawByte('{')
	b.jsonw.String(b.config.Dialect.ActionKey)
	b.jsonw.RawString(`:{"_index":`)
	b.jsonw.String(index)
	if b.config.Dialect.DocumentType != "" {
		b.jsonw.RawString(`,"_type":`)
		b.jsonw.String(b.config.Dialect.DocumentType)
	}
	b.jsonw.RawString("}}\n")
	defer b.jsonw.Reset()
	n, err := b.writer.Write(b.jsonw.Bytes())
	b.uncompressedLen += n
	if err != nil {
		return fmt.Errorf("failed to write bulk action: %w", err)
	}
	return nil
}

// Flush executes a bulk request if there are any items buffered, and clears
// out the buffer.
//
// A request that could not be performed is reported both in the returned
// result and as a KindConnectionFailed error.
func (b *BulkIndexer) Flush(ctx context.Context) (*BulkResult, error) {
	if b.itemsAdded == 0 {
		return &BulkResult{}, nil
	}
	defer b.resetBuf()
	b.bytesFlushed = 0
	b.bytesUncompressedFlushed = 0

	if b.gzipw != nil {
		if err := b.gzipw.Close(); err != nil {
			return nil, fmt.Errorf("failed closing the gzip writer: %w", err)
		}
	}

	req := esapi.BulkRequest{
		Body:   &b.buf,
		Header: make(http.Header),
	}
	if b.gzipw != nil {
		req.Header.Set("Content-Encoding", "gzip")
	}

	bytesFlushed := b.buf.Len()
	uncompressed := b.uncompressedLen
	res, err := req.Do(ctx, b.config.Client)
	if err != nil {
		return &BulkResult{Errors: true, Error: err.Error()}, &Error{
			Kind: KindConnectionFailed,
			Op:   "bulk",
			Err:  err,
		}
	}
	defer res.Body.Close()

	// Record the number of flushed bytes only when err == nil. The body may
	// not have been sent otherwise.
	b.bytesFlushed = bytesFlushed
	b.bytesUncompressedFlushed = uncompressed

	return decodeBulkResponse(res.StatusCode, res.Body, b.config.Dialect.ActionKey)
}
