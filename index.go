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
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// IndexType selects how much of a document's timestamp is appended to the
// index base name.
type IndexType int

const (
	// Daily appends YYYY-MM-DD.
	Daily IndexType = iota
	// Monthly appends YYYY-MM.
	Monthly
	// Yearly appends YYYY.
	Yearly
	// NoTime uses the base name unchanged.
	NoTime
)

// timestampLen is the length of 2017-06-03T16:45:40.000Z.
const timestampLen = 24

func (t IndexType) String() string {
	switch t {
	case Daily:
		return "daily"
	case Monthly:
		return "monthly"
	case Yearly:
		return "yearly"
	case NoTime:
		return "notime"
	}
	return fmt.Sprintf("IndexType(%d)", int(t))
}

// ParseIndexType returns the IndexType named by s, ignoring case.
func ParseIndexType(s string) (IndexType, error) {
	switch strings.ToLower(s) {
	case "daily":
		return Daily, nil
	case "monthly":
		return Monthly, nil
	case "yearly":
		return Yearly, nil
	case "notime", "none":
		return NoTime, nil
	}
	return 0, fmt.Errorf("unknown index type %q", s)
}

// dateLen returns the number of timestamp characters used by t.
func (t IndexType) dateLen() int {
	switch t {
	case Daily:
		return 10
	case Monthly:
		return 7
	case Yearly:
		return 4
	}
	return 0
}

// ResolveIndexName returns the index a document is routed to.
//
// For NoTime the base name is returned as is. Otherwise the document must be
// a JSON object with a top-level "@timestamp" string formatted as
// YYYY-MM-DDTHH:MM:SS.sssZ, and the result is base suffixed with the day,
// month or year of that timestamp, e.g. "wifibeat-2017-06-03".
func ResolveIndexName(doc []byte, base string, t IndexType) (string, error) {
	if t == NoTime {
		return base, nil
	}
	n := t.dateLen()
	if n == 0 {
		return "", fmt.Errorf("unknown index type %d", int(t))
	}
	ts, ok := documentTimestamp(doc)
	if !ok || !validTimestamp(ts) {
		return "", ErrInvalidTimestamp
	}
	return base + "-" + ts[:n], nil
}

func validTimestamp(ts string) bool {
	return len(ts) == timestampLen &&
		strings.IndexByte(ts, 'T') >= 0 &&
		ts[timestampLen-1] == 'Z'
}

// documentTimestamp reads the top-level "@timestamp" string of doc without
// decoding the rest of the document.
func documentTimestamp(doc []byte) (string, bool) {
	iter := jsoniter.ConfigFastest.BorrowIterator(doc)
	defer jsoniter.ConfigFastest.ReturnIterator(iter)

	if iter.WhatIsNext() != jsoniter.ObjectValue {
		return "", false
	}
	var ts string
	var found bool
	iter.ReadObjectCB(func(i *jsoniter.Iterator, field string) bool {
		if field != "@timestamp" {
			i.Skip()
			return true
		}
		if i.WhatIsNext() == jsoniter.StringValue {
			ts = i.ReadString()
			found = true
		}
		return false
	})
	if iter.Error != nil {
		return "", false
	}
	return ts, found
}
