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
	"io"
	"net/http"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

const (
	msgMissingErrorItems     = "failed to find items array containing the errors"
	msgUnparseableErrors     = "cannot parse error: response reports errors without items"
	msgMissingIDItems        = "cannot find items array that contains the IDs in server response"
	msgUnparseableRequestErr = "cannot parse 'error' field in server response"
)

// BulkResult holds the outcome of a bulk request.
type BulkResult struct {
	// Status holds the HTTP status code, or the status reported in the body
	// of a whole-request failure.
	Status int

	// Errors is true when the request, or any of its documents, failed.
	Errors bool

	// Error holds a human readable description of the failures, one line
	// per failed document.
	Error string

	// IDs holds the IDs of the indexed documents in request order. It is
	// only populated when no document failed.
	IDs []string

	// FailedItems holds the response items that carry an error or a
	// failure status.
	FailedItems []BulkResultItem
}

// BulkResultItem represents an Elasticsearch bulk response item.
type BulkResultItem struct {
	// Position holds the position of the document in the request.
	Position int
	Index    string
	ID       string
	Status   int
	Error    *BulkItemError
}

// BulkItemError represents an error reported by Elasticsearch.
type BulkItemError struct {
	Type     string
	Reason   string
	CausedBy *BulkItemError
}

func (e BulkItemError) String() string {
	s := e.Type + ": " + e.Reason
	if e.CausedBy != nil {
		s += " (" + e.CausedBy.Type + " " + e.CausedBy.Reason + ")"
	}
	return s
}

// empty reports whether e carries neither a type nor a reason. Such error
// objects are treated as absent.
func (e BulkItemError) empty() bool {
	return e.Type == "" && e.Reason == ""
}

type bulkResponseItem struct {
	BulkResultItem
	hasAction bool
}

type bulkResponse struct {
	errors       bool
	hasErrors    bool
	hasItems     bool
	itemsIsArray bool
	items        []bulkResponseItem

	hasRequestError bool
	requestError    *BulkItemError

	hasStatus bool
	status    int
}

// decodeBulkResponse interprets a bulk response body. Items are looked up
// under actionKey, e.g. {"items":[{"index":{"_id":"..."}}]}.
//
// Bodies that are not JSON objects are reported as failed results. Values of
// an unexpected JSON type are reported as KindUnexpectedResponseShape errors,
// along with the partially populated result.
func decodeBulkResponse(status int, body io.Reader, actionKey string) (*BulkResult, error) {
	result := &BulkResult{Status: status, Errors: status != http.StatusOK}

	iter := jsoniter.Parse(jsoniter.ConfigCompatibleWithStandardLibrary, body, 4096)
	if iter.WhatIsNext() != jsoniter.ObjectValue {
		result.Errors = true
		result.Error = fmt.Sprintf("bulk request failed with HTTP %d", status)
		return result, nil
	}

	resp, err := readBulkResponse(iter, actionKey)
	for _, item := range resp.items {
		if item.hasAction && (item.Error != nil || item.Status > 299) {
			result.FailedItems = append(result.FailedItems, item.BulkResultItem)
		}
	}
	if err != nil {
		result.Errors = true
		return result, err
	}

	switch {
	case resp.hasErrors && resp.errors:
		result.Errors = true
		switch {
		case !resp.hasItems:
			result.Error = msgUnparseableErrors
		case !resp.itemsIsArray:
			result.Error = msgMissingErrorItems
		default:
			var msgs []string
			for _, item := range resp.items {
				if item.hasAction && item.Error != nil {
					msgs = append(msgs, item.Error.String())
				}
			}
			result.Error = strings.Join(msgs, "\n")
		}
	case resp.hasErrors:
		if !resp.itemsIsArray {
			result.Errors = true
			result.Error = msgMissingIDItems
			break
		}
		ids := make([]string, 0, len(resp.items))
		for _, item := range resp.items {
			if !item.hasAction {
				continue
			}
			if item.ID == "" {
				result.Errors = true
				return result, shapeError("bulk", "item %d has no _id", item.Position)
			}
			ids = append(ids, item.ID)
		}
		result.IDs = ids
	case resp.hasRequestError:
		result.Errors = true
		if resp.requestError == nil {
			result.Error = msgUnparseableRequestErr
		} else {
			result.Error = resp.requestError.Type + ": " + resp.requestError.Reason
		}
		if resp.hasStatus {
			result.Status = resp.status
		}
	}
	if result.Errors && result.Error == "" {
		result.Error = fmt.Sprintf("bulk request failed with HTTP %d", result.Status)
	}
	return result, nil
}

func readBulkResponse(iter *jsoniter.Iterator, actionKey string) (bulkResponse, error) {
	var resp bulkResponse
	var err error
	iter.ReadObjectCB(func(iter *jsoniter.Iterator, field string) bool {
		switch field {
		case "errors":
			if iter.WhatIsNext() != jsoniter.BoolValue {
				err = shapeError("bulk", `"errors" is not a boolean`)
				return false
			}
			resp.hasErrors = true
			resp.errors = iter.ReadBool()
		case "items":
			resp.hasItems = true
			if iter.WhatIsNext() != jsoniter.ArrayValue {
				iter.Skip()
				return true
			}
			resp.itemsIsArray = true
			iter.ReadArrayCB(func(iter *jsoniter.Iterator) bool {
				var item bulkResponseItem
				item.hasAction, err = readBulkItem(iter, actionKey, &item.BulkResultItem)
				item.Position = len(resp.items)
				resp.items = append(resp.items, item)
				return err == nil
			})
		case "error":
			resp.hasRequestError = true
			if iter.WhatIsNext() != jsoniter.ObjectValue {
				iter.Skip()
				return true
			}
			var e BulkItemError
			if err = readItemError(iter, &e); err == nil {
				resp.requestError = &e
			}
		case "status":
			if iter.WhatIsNext() != jsoniter.NumberValue {
				err = shapeError("bulk", `"status" is not a number`)
				return false
			}
			resp.hasStatus = true
			resp.status = iter.ReadInt()
		default:
			iter.Skip()
		}
		return err == nil
	})
	if err != nil {
		return resp, err
	}
	if iter.Error != nil && iter.Error != io.EOF {
		return resp, shapeError("bulk", "malformed response: %w", iter.Error)
	}
	return resp, nil
}

// readBulkItem reads one element of the items array into item, reporting
// whether it holds an object under actionKey.
func readBulkItem(iter *jsoniter.Iterator, actionKey string, item *BulkResultItem) (bool, error) {
	if iter.WhatIsNext() != jsoniter.ObjectValue {
		iter.Skip()
		return false, nil
	}
	var found bool
	var err error
	iter.ReadObjectCB(func(iter *jsoniter.Iterator, action string) bool {
		if action != actionKey || iter.WhatIsNext() != jsoniter.ObjectValue {
			iter.Skip()
			return true
		}
		found = true
		iter.ReadObjectCB(func(iter *jsoniter.Iterator, field string) bool {
			switch field {
			case "_index":
				item.Index, err = readJSONString(iter, field)
			case "_id":
				item.ID, err = readJSONString(iter, field)
			case "status":
				if iter.WhatIsNext() != jsoniter.NumberValue {
					err = shapeError("bulk", `item "status" is not a number`)
					break
				}
				item.Status = iter.ReadInt()
			case "error":
				if iter.WhatIsNext() != jsoniter.ObjectValue {
					iter.Skip()
					break
				}
				var e BulkItemError
				if err = readItemError(iter, &e); err == nil && !e.empty() {
					item.Error = &e
				}
			default:
				iter.Skip()
			}
			return err == nil
		})
		return err == nil
	})
	return found, err
}

func readItemError(iter *jsoniter.Iterator, e *BulkItemError) error {
	var err error
	iter.ReadObjectCB(func(iter *jsoniter.Iterator, field string) bool {
		switch field {
		case "type":
			e.Type, err = readJSONString(iter, field)
		case "reason":
			e.Reason, err = readJSONString(iter, field)
		case "caused_by":
			if iter.WhatIsNext() != jsoniter.ObjectValue {
				iter.Skip()
				break
			}
			var cause BulkItemError
			if err = readItemError(iter, &cause); err == nil && !cause.empty() {
				e.CausedBy = &cause
			}
		default:
			iter.Skip()
		}
		return err == nil
	})
	return err
}

// readJSONString reads a string value, treating null as empty.
func readJSONString(iter *jsoniter.Iterator, field string) (string, error) {
	switch iter.WhatIsNext() {
	case jsoniter.StringValue:
		return iter.ReadString(), nil
	case jsoniter.NilValue:
		iter.ReadNil()
		return "", nil
	}
	return "", shapeError("bulk", "%q is not a string", field)
}
