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
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// zapTransportLogger logs elastictransport round trips.
type zapTransportLogger struct {
	logger *zap.Logger
}

func (l zapTransportLogger) LogRoundTrip(
	req *http.Request,
	res *http.Response,
	err error,
	start time.Time,
	dur time.Duration,
) error {
	if !l.logger.Core().Enabled(zapcore.DebugLevel) {
		return nil
	}
	fields := []zap.Field{
		zap.String("method", req.Method),
		zap.String("url", req.URL.Redacted()),
		zap.Time("start", start),
		zap.Duration("took", dur),
	}
	if res != nil {
		fields = append(fields, zap.Int("status", res.StatusCode))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	l.logger.Debug("elasticsearch request", fields...)
	return nil
}

func (zapTransportLogger) RequestBodyEnabled() bool  { return false }
func (zapTransportLogger) ResponseBodyEnabled() bool { return false }
