package audit

import (
	"context"

	"github.com/go-chi/chi/v5/middleware"
)

// EntryBuilder provides a fluent API for constructing entries.
//
//	e := audit.NewEntry(ctx, audit.KindSegment).
//		WithPrompt(prompt).
//		WithOutput(result).
//		Build()
//	svc.Log(e)
type EntryBuilder struct {
	entry Entry
}

// NewEntry starts an entry carrying the request ID from ctx.
func NewEntry(ctx context.Context, kind string) *EntryBuilder {
	return &EntryBuilder{entry: Entry{
		RequestID: middleware.GetReqID(ctx),
		Kind:      kind,
	}}
}

func (b *EntryBuilder) WithPrompt(prompt string) *EntryBuilder {
	b.entry.Prompt = prompt
	return b
}

func (b *EntryBuilder) WithOutput(output any) *EntryBuilder {
	b.entry.Output = output
	return b
}

// Failure marks the entry failed with the classified error type.
func (b *EntryBuilder) Failure(errorType string) *EntryBuilder {
	b.entry.Failed = true
	b.entry.ErrorType = errorType
	return b
}

func (b *EntryBuilder) Build() Entry {
	return b.entry
}
