// Package delivery hands notification payloads to the external push service.
//
// The core does not speak a push protocol itself: it chunks tokens, posts
// batches to a configured gateway, and aggregates per-batch success/failure
// counts. Individual per-token failures are not interpreted.
package delivery

import "context"

// Payload is one notification: a title, a rotating body, and free-form
// metadata describing slot/module/category for the receiving app.
type Payload struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Sender delivers a payload to a set of device tokens and reports aggregate
// counts. sent+failed <= len(tokens); both may be zero when err is non-nil.
type Sender interface {
	Send(ctx context.Context, tokens []string, p Payload) (sent, failed int, err error)
}

// DefaultBatchSize caps tokens per gateway request.
const DefaultBatchSize = 500

func chunk(tokens []string, n int) [][]string {
	if n <= 0 {
		n = DefaultBatchSize
	}
	var out [][]string
	for i := 0; i < len(tokens); i += n {
		end := i + n
		if end > len(tokens) {
			end = len(tokens)
		}
		out = append(out, tokens[i:end])
	}
	return out
}
