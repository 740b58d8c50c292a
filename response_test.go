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
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeBulkResponse(t *testing.T) {
	for name, tc := range map[string]struct {
		status   int
		body     string
		expected BulkResult
	}{
		"success": {
			status: http.StatusOK,
			body: `{"took":3,"errors":false,"items":[
				{"index":{"_index":"wifibeat-2017-06-03","_id":"AVx1","status":201}},
				{"index":{"_index":"wifibeat-2017-06-03","_id":"AVx2","status":201}}]}`,
			expected: BulkResult{Status: 200, IDs: []string{"AVx1", "AVx2"}},
		},
		"success_skips_other_actions": {
			status: http.StatusOK,
			body: `{"errors":false,"items":[
				{"create":{"_id":"ignored","status":201}},
				"garbage",
				{"index":{"_id":"AVx2","status":201}}]}`,
			expected: BulkResult{Status: 200, IDs: []string{"AVx2"}},
		},
		"success_no_items": {
			status:   http.StatusOK,
			body:     `{"errors":false,"items":[]}`,
			expected: BulkResult{Status: 200, IDs: []string{}},
		},
		"success_items_not_array": {
			status:   http.StatusOK,
			body:     `{"errors":false,"items":{}}`,
			expected: BulkResult{Status: 200, Errors: true, Error: msgMissingIDItems},
		},
		"success_items_missing": {
			status:   http.StatusOK,
			body:     `{"errors":false}`,
			expected: BulkResult{Status: 200, Errors: true, Error: msgMissingIDItems},
		},
		"item_errors": {
			status: http.StatusOK,
			body: `{"errors":true,"items":[
				{"index":{"_index":"a","_id":"1","status":400,"error":{"type":"mapper_parsing_exception","reason":"failed to parse"}}},
				{"index":{"_index":"a","_id":"2","status":201}},
				{"index":{"_index":"b","_id":"3","status":400,"error":{"type":"illegal_argument_exception","reason":"bad value",
					"caused_by":{"type":"json_parse_exception","reason":"Unexpected character"}}}}]}`,
			expected: BulkResult{
				Status: 200,
				Errors: true,
				Error: "mapper_parsing_exception: failed to parse\n" +
					"illegal_argument_exception: bad value (json_parse_exception Unexpected character)",
				FailedItems: []BulkResultItem{{
					Position: 0, Index: "a", ID: "1", Status: 400,
					Error: &BulkItemError{Type: "mapper_parsing_exception", Reason: "failed to parse"},
				}, {
					Position: 2, Index: "b", ID: "3", Status: 400,
					Error: &BulkItemError{
						Type:     "illegal_argument_exception",
						Reason:   "bad value",
						CausedBy: &BulkItemError{Type: "json_parse_exception", Reason: "Unexpected character"},
					},
				}},
			},
		},
		"item_errors_missing_items": {
			status:   http.StatusOK,
			body:     `{"errors":true}`,
			expected: BulkResult{Status: 200, Errors: true, Error: msgUnparseableErrors},
		},
		"item_errors_items_not_array": {
			status:   http.StatusOK,
			body:     `{"errors":true,"items":"none"}`,
			expected: BulkResult{Status: 200, Errors: true, Error: msgMissingErrorItems},
		},
		"empty_error_objects_ignored": {
			status: http.StatusOK,
			body: `{"errors":false,"items":[
				{"index":{"_id":"1","status":201,"error":{"type":"","reason":"","caused_by":{}}}}]}`,
			expected: BulkResult{Status: 200, IDs: []string{"1"}},
		},
		"request_error": {
			status: http.StatusBadRequest,
			body:   `{"error":{"type":"action_request_validation_exception","reason":"no requests added"},"status":400}`,
			expected: BulkResult{
				Status: 400,
				Errors: true,
				Error:  "action_request_validation_exception: no requests added",
			},
		},
		"request_error_status_overrides": {
			status: http.StatusOK,
			body:   `{"status":404,"error":{"type":"index_not_found_exception","reason":"no such index"}}`,
			expected: BulkResult{
				Status: 404,
				Errors: true,
				Error:  "index_not_found_exception: no such index",
			},
		},
		"request_error_not_object": {
			status:   http.StatusInternalServerError,
			body:     `{"error":"boom"}`,
			expected: BulkResult{Status: 500, Errors: true, Error: msgUnparseableRequestErr},
		},
		"non_object_body": {
			status:   http.StatusBadGateway,
			body:     `<html>bad gateway</html>`,
			expected: BulkResult{Status: 502, Errors: true, Error: "bulk request failed with HTTP 502"},
		},
		"array_body": {
			status:   http.StatusOK,
			body:     `[1,2]`,
			expected: BulkResult{Status: 200, Errors: true, Error: "bulk request failed with HTTP 200"},
		},
		"error_status_empty_object": {
			status:   http.StatusServiceUnavailable,
			body:     `{}`,
			expected: BulkResult{Status: 503, Errors: true, Error: "bulk request failed with HTTP 503"},
		},
	} {
		t.Run(name, func(t *testing.T) {
			result, err := decodeBulkResponse(tc.status, strings.NewReader(tc.body), DefaultActionKey)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, *result)
		})
	}
}

func TestDecodeBulkResponseShapeErrors(t *testing.T) {
	for name, body := range map[string]string{
		"errors_not_bool":       `{"errors":"false","items":[]}`,
		"status_not_number":     `{"error":{"type":"t","reason":"r"},"status":"400"}`,
		"id_not_string":         `{"errors":false,"items":[{"index":{"_id":17}}]}`,
		"id_missing":            `{"errors":false,"items":[{"index":{"status":201}}]}`,
		"type_not_string":       `{"errors":true,"items":[{"index":{"error":{"type":1,"reason":"r"}}}]}`,
		"reason_not_string":     `{"error":{"type":"t","reason":["r"]}}`,
		"item_status_not_int":   `{"errors":false,"items":[{"index":{"_id":"1","status":"201"}}]}`,
		"truncated":             `{"errors":false,"items":[{"index":{"_id":"1"`,
		"caused_by_not_strings": `{"errors":true,"items":[{"index":{"error":{"type":"t","reason":"r","caused_by":{"type":false}}}}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			result, err := decodeBulkResponse(http.StatusOK, strings.NewReader(body), DefaultActionKey)
			assert.ErrorIs(t, err, ErrUnexpectedResponseShape)
			require.NotNil(t, result)
			assert.True(t, result.Errors)
		})
	}
}

func TestDecodeBulkResponseActionKey(t *testing.T) {
	body := `{"errors":false,"items":[{"index":{"_id":"1"}},{"create":{"_id":"2"}}]}`
	result, err := decodeBulkResponse(http.StatusOK, strings.NewReader(body), "create")
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, result.IDs)
}

func TestBulkItemErrorString(t *testing.T) {
	e := BulkItemError{Type: "mapper_parsing_exception", Reason: "failed to parse"}
	assert.Equal(t, "mapper_parsing_exception: failed to parse", e.String())

	e.CausedBy = &BulkItemError{Type: "not_x_content_exception", Reason: "compressor detection failed"}
	assert.Equal(t,
		"mapper_parsing_exception: failed to parse (not_x_content_exception compressor detection failed)",
		e.String(),
	)
}
