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
	"net/url"
	"strings"

	"github.com/elastic/elastic-transport-go/v8/elastictransport"
	"go.elastic.co/apm/module/apmelasticsearch/v2"
)

const contentTypeJSON = "application/json; charset=UTF-8"

// parseHost returns the base URL for host, defaulting the scheme to http.
func parseHost(host string) (*url.URL, error) {
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid elasticsearch host %q: %w", host, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid elasticsearch host %q: missing host", host)
	}
	return u, nil
}

// newTransport returns the transport used for every request to u. Retries
// are disabled: every operation reports failure to the caller instead.
func newTransport(u *url.URL, cfg Config) (elastictransport.Interface, error) {
	rt := cfg.Transport
	if cfg.Tracer != nil {
		rt = apmelasticsearch.WrapRoundTripper(rt)
	}
	header := make(http.Header)
	header.Set("User-Agent", "go-beatclient/"+LibraryVersion)
	header.Set("Accept", contentTypeJSON)

	tp, err := elastictransport.New(elastictransport.Config{
		URLs:         []*url.URL{u},
		Username:     cfg.Username,
		Password:     cfg.Password,
		APIKey:       cfg.APIKey,
		Header:       header,
		DisableRetry: true,
		Transport:    rt,
		Logger:       zapTransportLogger{logger: cfg.Logger},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}
	return tp, nil
}
