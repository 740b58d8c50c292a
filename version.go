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
	"strconv"
	"strings"
)

// LibraryVersion is sent in the User-Agent header.
const LibraryVersion = "0.1.0"

const (
	// DefaultDocumentType is the mapping type written to bulk action lines
	// for servers that still require one.
	DefaultDocumentType = "doc"

	// DefaultActionKey is the bulk action used for every document.
	DefaultActionKey = "index"

	// typelessMajor is the first major version that no longer needs _type.
	typelessMajor = 6
)

// Version is an Elasticsearch server version as reported by "GET /".
type Version struct {
	// Number holds the raw version.number, e.g. "5.4.0".
	Number string

	// Major holds the major component of Number, or 0 when it could not
	// be parsed.
	Major int
}

// ParseVersion parses the version.number reported by Elasticsearch.
func ParseVersion(number string) Version {
	v := Version{Number: number}
	major, _, _ := strings.Cut(number, ".")
	if n, err := strconv.Atoi(major); err == nil && n > 0 {
		v.Major = n
	}
	return v
}

func (v Version) String() string {
	return v.Number
}

// BulkDialect describes the parts of the bulk API that differ between
// Elasticsearch versions.
type BulkDialect struct {
	// DocumentType is written as "_type" in every action line when it is
	// not empty.
	DocumentType string

	// ActionKey is the bulk action written to action lines, and the key
	// under which the server reports each item of the response.
	ActionKey string
}

// DefaultDialect returns the dialect for v: servers older than 6.x, or with
// an unparseable version, receive DefaultDocumentType.
func DefaultDialect(v Version) BulkDialect {
	d := BulkDialect{ActionKey: DefaultActionKey}
	if v.Major < typelessMajor {
		d.DocumentType = DefaultDocumentType
	}
	return d
}
