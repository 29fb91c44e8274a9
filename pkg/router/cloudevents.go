/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package router

import (
	"fmt"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// PartitionKeyExtension is the CloudEvents partitioning extension attribute.
// https://github.com/cloudevents/spec/blob/main/cloudevents/extensions/partitioning.md
const PartitionKeyExtension = "partitionkey"

// EventKey routes CloudEvents by their partition key, falling back to the
// event subject.
func EventKey(event cloudevents.Event) (string, error) {
	if v, ok := event.Extensions()[PartitionKeyExtension]; ok {
		if s := fmt.Sprint(v); s != "" {
			return s, nil
		}
	}
	if s := event.Subject(); s != "" {
		return s, nil
	}
	return "", fmt.Errorf("%w: event %q of type %q has neither %s nor subject",
		ErrInvalidKey, event.ID(), event.Type(), PartitionKeyExtension)
}
