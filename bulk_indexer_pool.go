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

import "sync"

// bulkIndexerPool holds idle BulkIndexers for reuse across bulk requests,
// so their buffers and gzip writers are allocated once. Indexers are kept
// per dialect, since the dialect of a Client changes when a new server
// version is detected.
//
// At most size idle indexers are kept per dialect; indexers returned to a
// full pool are discarded.
type bulkIndexerPool struct {
	mu     sync.Mutex
	idle   map[BulkDialect]chan *BulkIndexer
	size   int
	config BulkIndexerConfig
}

func newBulkIndexerPool(size int, cfg BulkIndexerConfig) *bulkIndexerPool {
	return &bulkIndexerPool{
		idle:   make(map[BulkDialect]chan *BulkIndexer),
		size:   size,
		config: cfg,
	}
}

// Get returns an empty BulkIndexer for dialect, creating one if there is no
// idle indexer.
func (p *bulkIndexerPool) Get(dialect BulkDialect) (*BulkIndexer, error) {
	if dialect.ActionKey == "" {
		dialect.ActionKey = DefaultActionKey
	}
	select {
	case indexer := <-p.entry(dialect):
		return indexer, nil
	default:
	}
	cfg := p.config
	cfg.Dialect = dialect
	return NewBulkIndexer(cfg)
}

// Put returns indexer to the pool. Buffered items that were never flushed
// are discarded. No reference to indexer may be kept after calling Put.
func (p *bulkIndexerPool) Put(indexer *BulkIndexer) {
	if indexer == nil {
		return
	}
	if indexer.Items() > 0 {
		indexer.resetBuf()
	}
	select {
	case p.entry(indexer.config.Dialect) <- indexer:
	default:
	}
}

func (p *bulkIndexerPool) entry(dialect BulkDialect) chan *BulkIndexer {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.idle[dialect]
	if !ok {
		ch = make(chan *BulkIndexer, p.size)
		p.idle[dialect] = ch
	}
	return ch
}

// count returns the number of idle indexers for dialect.
func (p *bulkIndexerPool) count(dialect BulkDialect) int {
	return len(p.entry(dialect))
}
