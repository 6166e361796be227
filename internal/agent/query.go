package agent

import (
	"context"

	"github.com/haasonsaas/uagent/pkg/models"
)

// QueryOnce runs a one-shot prompt over a fresh client and returns every
// message produced, ending with the terminal ResultMessage. For multi-turn
// conversations use Client directly.
func QueryOnce(ctx context.Context, prompt string, opts Options) ([]models.Message, error) {
	client := NewClient(opts)
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	defer client.Disconnect()
	return client.Query(ctx, prompt)
}
