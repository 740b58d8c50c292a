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

// Package beatclienttest provides a mock Elasticsearch server for testing
// beatclient.
package beatclienttest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/elastic/elastic-transport-go/v8/elastictransport"
	"github.com/elastic/go-elasticsearch/v8/esutil"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
	"go.elastic.co/apm/module/apmelasticsearch/v2"
)

// TimestampFormat holds the time format of the "@timestamp" field expected
// by beatclient, e.g. 2017-06-03T16:45:40.000Z. Times must be in UTC.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// BulkAction is a decoded bulk action line.
type BulkAction struct {
	// Action holds the action name, e.g. "index".
	Action string `json:"-"`
	Index  string `json:"_index"`
	Type   string `json:"_type"`

	// Line holds the raw action line, without the trailing newline.
	Line string `json:"-"`
}

// DecodeBulkRequest decodes a /_bulk request's body, returning the decoded
// documents and a response body.
func DecodeBulkRequest(r *http.Request) ([][]byte, esutil.BulkIndexerResponse) {
	docs, _, result := DecodeBulkRequestWithActions(r)
	return docs, result
}

// DecodeBulkRequestWithActions decodes a /_bulk request's body, returning
// the decoded documents, their action lines and a response body in which
// every item is created with an ID derived from its position.
func DecodeBulkRequestWithActions(r *http.Request) ([][]byte, []BulkAction, esutil.BulkIndexerResponse) {
	body := io.Reader(r.Body)
	switch r.Header.Get("Content-Encoding") {
	case "gzip":
		r, err := gzip.NewReader(body)
		if err != nil {
			panic(err)
		}
		defer r.Close()
		body = r
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(nil, 1<<20)
	var indexed [][]byte
	var actions []BulkAction
	var result esutil.BulkIndexerResponse
	for scanner.Scan() {
		line := scanner.Text()
		action := make(map[string]BulkAction)
		if err := json.NewDecoder(strings.NewReader(line)).Decode(&action); err != nil {
			panic(err)
		}
		var meta BulkAction
		for name, m := range action {
			meta = m
			meta.Action = name
		}
		meta.Line = line
		if !scanner.Scan() {
			panic("expected source")
		}

		doc := append([]byte{}, scanner.Bytes()...)
		if !json.Valid(doc) {
			panic(fmt.Errorf("invalid JSON: %s", doc))
		}
		indexed = append(indexed, doc)
		actions = append(actions, meta)

		item := esutil.BulkIndexerResponseItem{
			Index:      meta.Index,
			DocumentID: fmt.Sprintf("doc-%d", len(indexed)),
			Result:     "created",
			Status:     http.StatusCreated,
		}
		result.Items = append(result.Items, map[string]esutil.BulkIndexerResponseItem{meta.Action: item})
	}
	return indexed, actions, result
}

// Server is a mock Elasticsearch server holding a set of indices.
type Server struct {
	*httptest.Server

	version string
	bulk    http.HandlerFunc

	mu      sync.Mutex
	indices map[string]struct{}
}

// NewServer starts a mock Elasticsearch reporting version, which sends
// /_bulk requests to bulkHandler. If bulkHandler is nil, every document is
// reported as created. The server will be closed via t.Cleanup.
func NewServer(t testing.TB, version string, bulkHandler http.HandlerFunc) *Server {
	s := &Server{
		version: version,
		bulk:    bulkHandler,
		indices: make(map[string]struct{}),
	}
	if s.bulk == nil {
		s.bulk = func(w http.ResponseWriter, r *http.Request) {
			_, result := DecodeBulkRequest(r)
			json.NewEncoder(w).Encode(result)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleInfo)
	mux.HandleFunc("GET /_cat/indices", s.handleCatIndices)
	mux.HandleFunc("POST /_bulk", s.bulk)
	mux.HandleFunc("HEAD /{index}", s.handleIndexExists)
	mux.HandleFunc("PUT /{index}", s.handleCreateIndex)
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json; charset=UTF-8")
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(s.Close)
	return s
}

// NewMockTransport starts a mock Elasticsearch with NewServer, and returns a
// transport which sends requests to it.
func NewMockTransport(t testing.TB, bulkHandler http.HandlerFunc) *elastictransport.Client {
	srv := NewServer(t, "8.15.0", bulkHandler)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	tp, err := elastictransport.New(elastictransport.Config{
		URLs:         []*url.URL{u},
		DisableRetry: true,
		Transport:    apmelasticsearch.WrapRoundTripper(http.DefaultTransport),
	})
	require.NoError(t, err)
	return tp
}

// AddIndex registers an existing index.
func (s *Server) AddIndex(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indices[name] = struct{}{}
}

// Indices returns the sorted names of the existing indices.
func (s *Server) Indices() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.indices))
	for name := range s.indices {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, `{"name":"mock","cluster_name":"elasticsearch","version":{"number":%q,"lucene_version":"6.5.0"},"tagline":"You Know, for Search"}`, s.version)
}

func (s *Server) handleCatIndices(w http.ResponseWriter, r *http.Request) {
	rows := []map[string]string{}
	for _, name := range s.Indices() {
		rows = append(rows, map[string]string{
			"health": "yellow",
			"status": "open",
			"index":  name,
		})
	}
	json.NewEncoder(w).Encode(rows)
}

func (s *Server) handleIndexExists(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	_, ok := s.indices[r.PathValue("index")]
	s.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *Server) handleCreateIndex(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("index")
	s.mu.Lock()
	_, exists := s.indices[name]
	s.indices[name] = struct{}{}
	s.mu.Unlock()
	if exists {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, `{"error":{"type":"index_already_exists_exception","reason":"index [%s] already exists"},"status":400}`, name)
		return
	}
	fmt.Fprint(w, `{"acknowledged":true,"shards_acknowledged":true}`)
}
