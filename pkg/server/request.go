package server

import (
	"encoding/json"
	"io"

	"github.com/go-go-golems/concierge/pkg/conversation"
	"github.com/pkg/errors"
)

const maxBodyBytes = 1 << 20

// InvocationRequest is the body of POST /invocations.
type InvocationRequest struct {
	Messages       []conversation.InputMessage `json:"messages"`
	RecursionLimit *int                        `json:"recursion_limit,omitempty"`
	Stream         bool                        `json:"stream,omitempty"`
}

func decodeRequest(r io.Reader) (*InvocationRequest, error) {
	dec := json.NewDecoder(io.LimitReader(r, maxBodyBytes))
	var req InvocationRequest
	if err := dec.Decode(&req); err != nil {
		return nil, errors.Wrap(err, "decode request body")
	}
	return &req, nil
}

// Transcript converts the request messages. Only user, assistant and system
// roles can be sent by a caller.
func (r *InvocationRequest) Transcript() (conversation.Transcript, error) {
	return conversation.FromInput(r.Messages)
}

// Budget returns the recursion limit, def when unset.
func (r *InvocationRequest) Budget(def int) (int, error) {
	if r.RecursionLimit == nil {
		return def, nil
	}
	if *r.RecursionLimit < 0 {
		return 0, errors.New("recursion_limit must be >= 0")
	}
	return *r.RecursionLimit, nil
}
