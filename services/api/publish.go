package api

import "context"

// publishJSON fans change notifications out over the bus. A nil bus (NATS
// not configured) makes this a no-op; delivery is best effort.
func (a *API) publishJSON(ctx context.Context, subject string, payload map[string]any) {
	if a.store.Bus == nil || subject == "" {
		return
	}
	_ = a.store.Bus.Publish(ctx, subject, payload)
}
