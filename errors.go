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
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyHost is returned by Connect when no host is given.
	ErrEmptyHost = errors.New("elasticsearch host cannot be empty")

	// ErrNotConnected is returned by operations on a Client whose last
	// version probe did not succeed.
	ErrNotConnected = errors.New("not connected to elasticsearch")

	// ErrMissingIndexBase is returned by Bulk when no index base name is given.
	ErrMissingIndexBase = errors.New("missing index base name")

	// ErrInvalidTimestamp is returned when a document does not carry a
	// "@timestamp" formatted as YYYY-MM-DDTHH:MM:SS.sssZ.
	ErrInvalidTimestamp = errors.New("invalid or missing @timestamp")
)

// Sentinels for matching an *Error by kind with errors.Is.
var (
	ErrConnectionFailed        = &Error{Kind: KindConnectionFailed}
	ErrUnexpectedResponseShape = &Error{Kind: KindUnexpectedResponseShape}
	ErrServerError             = &Error{Kind: KindServerError}
	ErrInvalidDocument         = &Error{Kind: KindInvalidDocument}
)

// ErrorKind classifies the errors returned by a Client.
type ErrorKind int

const (
	// KindConnectionFailed means the request could not be performed.
	KindConnectionFailed ErrorKind = iota + 1
	// KindUnexpectedResponseShape means the server answered with a body that
	// does not have the expected JSON structure.
	KindUnexpectedResponseShape
	// KindServerError means the server answered with an error status.
	KindServerError
	// KindInvalidDocument means a document could not be routed to an index.
	KindInvalidDocument
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnectionFailed:
		return "connection failed"
	case KindUnexpectedResponseShape:
		return "unexpected response shape"
	case KindServerError:
		return "server error"
	case KindInvalidDocument:
		return "invalid document"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error is the error type returned by Client operations.
type Error struct {
	Kind ErrorKind
	// Op is the operation that failed, e.g. "connect" or "bulk".
	Op string
	// Status holds the HTTP status code, for KindServerError.
	Status int
	Err    error
}

func (e *Error) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Kind.String())
	if e.Status != 0 {
		fmt.Fprintf(&sb, " (HTTP %d)", e.Status)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind. A target with a
// non-zero Status only matches errors with that status.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Status == 0 || t.Status == e.Status)
}

func shapeError(op, format string, args ...any) *Error {
	return &Error{
		Kind: KindUnexpectedResponseShape,
		Op:   op,
		Err:  fmt.Errorf(format, args...),
	}
}
