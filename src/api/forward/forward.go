package forward

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/votegate/votegate/src/shared/data"
	"github.com/votegate/votegate/src/shared/types"
)

// Target is the delivery-time view of a forwarding config row, with the
// outbound secret already decrypted.
type Target struct {
	URL    string `json:"url"`
	Secret string `json:"secret"`
}

// ForwardingPayload wraps the original webhook body, unmodified, together
// with its source and receipt time.
type ForwardingPayload struct {
	Source    types.Source    `json:"source"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

// Envelope is what gets queued for the forwarder worker.
type Envelope struct {
	To                Target            `json:"to"`
	ForwardingPayload ForwardingPayload `json:"forwardingPayload"`
	Timestamp         int64             `json:"timestamp"`
}

// ForwardingStore is the configuration lookup the dispatcher needs; nil
// config means forwarding is not set up for the application.
type ForwardingStore interface {
	GetForwardingConfig(ctx context.Context, appID string) (*types.ForwardingConfig, error)
}

// Dispatcher builds forwarding envelopes for applications that opted in.
type Dispatcher struct {
	store ForwardingStore
	key   []byte
}

func NewDispatcher(store ForwardingStore, key []byte) *Dispatcher {
	return &Dispatcher{store: store, key: key}
}

// Build returns the envelope for appID, or nil when no forwarding target is
// configured. The payload bytes are passed through untouched.
func (d *Dispatcher) Build(ctx context.Context, appID string, source types.Source, payload json.RawMessage) (*Envelope, error) {
	cfg, err := d.store.GetForwardingConfig(ctx, appID)
	if err != nil {
		return nil, fmt.Errorf("forwarding config: %w", err)
	}
	if cfg == nil {
		return nil, nil
	}

	secret, err := data.DecryptSecret(d.key, cfg.Secret, cfg.IV)
	if err != nil {
		return nil, fmt.Errorf("decrypt forwarding secret: %w", err)
	}

	now := time.Now().Unix()
	return &Envelope{
		To: Target{URL: cfg.TargetURL, Secret: secret},
		ForwardingPayload: ForwardingPayload{
			Source:    source,
			Payload:   payload,
			Timestamp: now,
		},
		Timestamp: now,
	}, nil
}
