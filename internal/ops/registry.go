// Package ops implements FHIR extended operations ($everything, $validate)
// behind a registration table, so dispatch is a lookup rather than string
// comparisons spread across handlers.
package ops

import (
	"context"
	"fmt"
	"net/url"

	"github.com/fhird/fhird/internal/fhir"
)

// Level is where an operation was invoked.
type Level int

const (
	LevelSystem Level = iota
	LevelType
	LevelInstance
)

// Request carries everything a handler needs.
type Request struct {
	Level        Level
	ResourceType string
	ID           string
	BaseURL      string
	Params       url.Values
	Body         []byte
}

// Handler executes one operation and returns a JSON-marshalable resource,
// usually a Bundle or OperationOutcome.
type Handler func(ctx context.Context, req Request) (any, error)

type key struct {
	name  string
	level Level
}

// Registry maps operation name and level to its handler. Operation names
// that FHIR defines but this server does not implement are recognized and
// answered with 501 instead of 400.
type Registry struct {
	handlers   map[key]Handler
	recognized map[string]bool
}

func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[key]Handler),
		recognized: map[string]bool{
			"$everything": true, "$validate": true,
			"$export": true, "$expand": true, "$lookup": true,
			"$translate": true, "$match": true, "$meta": true,
			"$document": true, "$diff": true,
		},
	}
}

func (r *Registry) Register(name string, level Level, h Handler) {
	r.handlers[key{name: name, level: level}] = h
}

// Dispatch runs the handler for a named operation at a level.
func (r *Registry) Dispatch(ctx context.Context, name string, req Request) (any, error) {
	if h, ok := r.handlers[key{name: name, level: req.Level}]; ok {
		return h(ctx, req)
	}
	if r.recognized[name] {
		return nil, fmt.Errorf("%w: operation %s", fhir.ErrNotImplemented, name)
	}
	return nil, fhir.BadRequestf("unknown operation %s", name)
}
