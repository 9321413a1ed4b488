package saga

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Version is the protocol tag every recognized payload carries.
const Version = "v1"

var now = time.Now

var emptyObject = json.RawMessage(`{}`)

// Decoration records one service's contribution to a saga.
type Decoration struct {
	Type      string          `json:"type"`
	Service   string          `json:"service"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Unmarshal decodes the decoration payload into v.
func (d Decoration) Unmarshal(v any) error {
	return json.Unmarshal(d.Payload, v)
}

// Result asks the router to append a decoration of the given type and then
// republish the payload.
type Result struct {
	Type    string
	Payload any
}

// Payload is the envelope a saga travels in. The context is fixed when the
// payload is created; requests and decorations only ever grow.
type Payload struct {
	version       string
	correlationID string
	publishTime   int64
	saga          string
	context       json.RawMessage
	requests      []string
	decorations   []Decoration

	// service is bound by the router and never leaves the process.
	service string
}

// wirePayload is the form a payload takes on the stream.
type wirePayload struct {
	Version       string          `json:"version"`
	CorrelationID string          `json:"correlationId"`
	PublishTime   int64           `json:"publishTime"`
	Saga          string          `json:"saga"`
	Context       json.RawMessage `json:"context"`
	Requests      []string        `json:"requests"`
	Decorations   []Decoration    `json:"decorations"`
}

// NewPayload starts a saga. The context is serialized once and never changes.
func NewPayload(saga string, context any) (*Payload, error) {
	raw, err := marshalValue(context)
	if err != nil {
		return nil, fmt.Errorf("marshal context: %w", err)
	}
	return &Payload{
		version:       Version,
		correlationID: uuid.NewString(),
		publishTime:   now().UnixMilli(),
		saga:          saga,
		context:       raw,
		requests:      []string{},
		decorations:   []Decoration{},
	}, nil
}

// Parse decodes raw as a saga payload. It reports false for malformed input
// and for any version other than Version; such input is not a saga payload.
func Parse(raw []byte) (*Payload, bool) {
	var w wirePayload
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, false
	}
	if w.Version != Version {
		return nil, false
	}

	p := &Payload{
		version:       w.Version,
		correlationID: w.CorrelationID,
		publishTime:   w.PublishTime,
		saga:          w.Saga,
		context:       w.Context,
		requests:      w.Requests,
		decorations:   w.Decorations,
	}
	if p.correlationID == "" {
		p.correlationID = uuid.NewString()
	}
	if p.publishTime == 0 {
		p.publishTime = now().UnixMilli()
	}
	if len(p.context) == 0 {
		p.context = emptyObject
	}
	if p.requests == nil {
		p.requests = []string{}
	}
	if p.decorations == nil {
		p.decorations = []Decoration{}
	}
	return p, true
}

// MarshalJSON encodes the wire form. The bound service name is not part of it.
func (p *Payload) MarshalJSON() ([]byte, error) {
	return json.Marshal(wirePayload{
		Version:       p.version,
		CorrelationID: p.correlationID,
		PublishTime:   p.publishTime,
		Saga:          p.saga,
		Context:       p.context,
		Requests:      p.requests,
		Decorations:   p.decorations,
	})
}

// Version returns the protocol tag, always Version for a parsed payload.
func (p *Payload) Version() string { return p.version }

// CorrelationID returns the id assigned when the saga started. It is for
// tracing only and plays no part in routing.
func (p *Payload) CorrelationID() string { return p.correlationID }

// PublishTime returns when the saga started, in Unix milliseconds.
func (p *Payload) PublishTime() int64 { return p.publishTime }

// Saga returns the saga name handlers are registered under.
func (p *Payload) Saga() string { return p.saga }

// Service returns the service name bound for this dispatch, if any.
func (p *Payload) Service() string { return p.service }

// Context returns a copy of the raw context.
func (p *Payload) Context() json.RawMessage { return slices.Clone(p.context) }

// UnmarshalContext decodes the context into v.
func (p *Payload) UnmarshalContext(v any) error {
	return json.Unmarshal(p.context, v)
}

// Requests returns a copy of the requested provider names.
func (p *Payload) Requests() []string { return slices.Clone(p.requests) }

// Decorations returns a copy of the decoration trail.
func (p *Payload) Decorations() []Decoration { return slices.Clone(p.decorations) }

// AddRequest asks for an answer from the named provider. Adding a name
// twice has no effect.
func (p *Payload) AddRequest(name string) {
	if slices.Contains(p.requests, name) {
		return
	}
	p.requests = append(p.requests, name)
}

// Next returns the first request that has not been answered yet.
func (p *Payload) Next() (string, bool) {
	for _, r := range p.requests {
		if !p.HasDecoration(r) {
			return r, true
		}
	}
	return "", false
}

// HasDecoration reports whether any decoration has the given type.
func (p *Payload) HasDecoration(typ string) bool {
	_, ok := p.Decoration(typ)
	return ok
}

// Decoration returns the first decoration of the given type.
func (p *Payload) Decoration(typ string) (Decoration, bool) {
	i := slices.IndexFunc(p.decorations, func(d Decoration) bool { return d.Type == typ })
	if i < 0 {
		return Decoration{}, false
	}
	return p.decorations[i], true
}

// ProcessedByService reports whether the named service already decorated
// this payload.
func (p *Payload) ProcessedByService(name string) bool {
	return slices.ContainsFunc(p.decorations, func(d Decoration) bool { return d.Service == name })
}

// Decorate appends a decoration stamped with the bound service and the
// current time. It fails with ErrServiceNotBound outside a dispatch.
func (p *Payload) Decorate(typ string, payload any) error {
	if p.service == "" {
		return ErrServiceNotBound
	}
	raw, err := marshalValue(payload)
	if err != nil {
		return fmt.Errorf("marshal decoration %s: %w", typ, err)
	}
	p.decorations = append(p.decorations, Decoration{
		Type:      typ,
		Service:   p.service,
		Timestamp: now().UnixMilli(),
		Payload:   raw,
	})
	return nil
}

func (p *Payload) bind(service string) {
	p.service = service
}

func marshalValue(v any) (json.RawMessage, error) {
	switch v := v.(type) {
	case nil:
		return emptyObject, nil
	case json.RawMessage:
		if len(v) == 0 {
			return emptyObject, nil
		}
		if !json.Valid(v) {
			return nil, ErrInvalidJSON
		}
		return slices.Clone(v), nil
	}
	return json.Marshal(v)
}
