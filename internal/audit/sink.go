package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sumanism/ECA2/internal/store"
)

// StoreSink writes entries to the generation log table.
type StoreSink struct {
	store store.GenerationLogStore
}

func NewStoreSink(st store.GenerationLogStore) *StoreSink {
	return &StoreSink{store: st}
}

// Write persists e. A failed entry keeps its error type next to the output.
func (s *StoreSink) Write(ctx context.Context, e Entry) error {
	output := e.Output
	if e.ErrorType != "" {
		output = map[string]any{"error_type": e.ErrorType, "output": e.Output}
	}

	b, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("marshal generation output: %w", err)
	}

	return s.store.CreateGenerationLog(ctx, &store.GenerationLog{
		Kind:      e.Kind,
		Prompt:    e.Prompt,
		Output:    b,
		Failed:    e.Failed,
		CreatedAt: e.OccurredAt,
	})
}
