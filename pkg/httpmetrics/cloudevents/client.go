/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package cloudevents builds CloudEvents clients whose inbound HTTP
// handling is instrumented by httpmetrics.
package cloudevents

import (
	"net/http"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	cehttp "github.com/cloudevents/sdk-go/v2/protocol/http"

	metrics "github.com/chainguard-dev/shardpool/pkg/httpmetrics"
)

// NewClientHTTP returns a CloudEvents HTTP client whose receiver records
// request metrics and traces under the given handler name.
func NewClientHTTP(name string, opts ...cehttp.Option) (cloudevents.Client, error) {
	copt := append([]cehttp.Option{
		// Without an explicit client the SDK may clobber http.DefaultClient's
		// Transport.
		cehttp.WithClient(http.Client{}),
		cloudevents.WithMiddleware(func(next http.Handler) http.Handler {
			return metrics.Handler(name, next)
		}),
	}, opts...)
	return cloudevents.NewClientHTTP(copt...)
}
