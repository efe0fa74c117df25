package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/votegate/votegate/src/api/forward"
	"github.com/votegate/votegate/src/api/webhook"
)

// deliver POSTs the forwarding payload to the target, signed the same way
// the inbound v1 scheme signs: HMAC-SHA256 over "{timestamp}.{body}" with
// the target's secret.
func deliver(ctx context.Context, client *http.Client, env forward.Envelope) error {
	body, err := json.Marshal(env.ForwardingPayload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, env.To.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Votegate-Timestamp", ts)
	req.Header.Set("X-Votegate-Signature", "t="+ts+",v1="+webhook.ComputeSignature(env.To.Secret, ts, body))

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	// Drain a little so the connection can be reused.
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
