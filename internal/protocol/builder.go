package protocol

import (
	"encoding/json"
	"errors"
	"math"
	"sync/atomic"
)

const stateMember = "state"

var errSequenceExhausted = errors.New("request id sequence exhausted")

// Builder turns method parameters into wire requests and owns the
// correlation-id sequence for one session. Ids start at 1 and strictly
// increase.
type Builder struct {
	seq atomic.Uint64
}

func NewBuilder() *Builder {
	return &Builder{}
}

// Last returns the most recently issued id, or 0.
func (b *Builder) Last() uint64 {
	return b.seq.Load()
}

// Build validates params, then assigns the next id and attaches state.
// A validation failure does not consume an id.
func (b *Builder) Build(params Params, state StateHandle) (Request, error) {
	body, err := b.encode(params, state)
	if err != nil {
		return Request{}, err
	}
	id, err := b.next(params.Method())
	if err != nil {
		return Request{}, err
	}
	return Request{ID: id, Method: params.Method(), Params: body, State: state}, nil
}

// Notification builds a request that expects no response and consumes no id.
func (b *Builder) Notification(params Params, state StateHandle) (Request, error) {
	body, err := b.encode(params, state)
	if err != nil {
		return Request{}, err
	}
	return Request{Method: params.Method(), Params: body, State: state, Notification: true}, nil
}

func (b *Builder) next(method Method) (uint64, error) {
	for {
		cur := b.seq.Load()
		if cur == math.MaxUint64 {
			return 0, ValidationError(method, errSequenceExhausted)
		}
		if b.seq.CompareAndSwap(cur, cur+1) {
			return cur + 1, nil
		}
	}
}

func (b *Builder) encode(params Params, state StateHandle) (json.RawMessage, error) {
	if params == nil {
		return nil, validationError("", "missing params")
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, ValidationError(params.Method(), err)
	}
	if _, ok := params.(stateless); ok {
		return raw, nil
	}

	members := make(map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &members); err != nil {
		return nil, ValidationError(params.Method(), err)
	}
	if _, clash := members[stateMember]; clash {
		return nil, validationError(params.Method(), "params must not set %q", stateMember)
	}
	stateRaw, err := state.MarshalJSON()
	if err != nil {
		return nil, ValidationError(params.Method(), err)
	}
	members[stateMember] = stateRaw
	return json.Marshal(members)
}
