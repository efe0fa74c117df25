package webhook

import (
	"errors"
	"fmt"
	"strings"

	"github.com/votegate/votegate/src/shared/types"
)

// Reject reasons. Handlers map these onto HTTP statuses: malformed input to
// 400, authentication failures to 401/403.
var (
	ErrMalformedSignatureHeader = errors.New("malformed signature header")
	ErrNoSecretConfigured       = errors.New("no webhook secret configured")
	ErrSignatureMismatch        = errors.New("signature mismatch")
	ErrAuthorizationMismatch    = errors.New("authorization mismatch")
	ErrMalformedPayload         = errors.New("malformed payload")
)

// Protocol versions. The legacy bearer scheme is v0; the HMAC-signed scheme
// is v1.
type Version string

const (
	VersionV0 Version = "v0"
	VersionV1 Version = "v1"
)

// Result of a successful validation.
type Result struct {
	Payload Payload
	Version Version
}

// Validate authenticates one inbound webhook request and normalizes its body.
//
// Version detection runs on the headers alone, before the body is touched:
// a present x-topgg-signature header routes to the v1 path, its absence to
// the legacy v0 path. The v1 header has the form "t=<unix_ts>,v1=<hex_hmac>"
// and the digest covers "{timestamp}.{rawBody}". The v0 path compares the
// authorization header verbatim against the configured secret; that simple
// equality is the legacy scheme's documented behavior and is kept as-is
// while the scheme is phased out.
func Validate(source types.Source, sigHeader, authHeader string, body []byte, secret string) (Result, error) {
	if secret == "" {
		return Result{}, ErrNoSecretConfigured
	}

	if sigHeader != "" {
		return validateV1(source, sigHeader, body, secret)
	}
	return validateV0(source, authHeader, body, secret)
}

func validateV1(source types.Source, sigHeader string, body []byte, secret string) (Result, error) {
	timestamp, signature, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return Result{}, err
	}
	if !VerifySignature(signature, timestamp, body, secret) {
		return Result{}, ErrSignatureMismatch
	}

	payload, err := parseBody(source, VersionV1, body)
	if err != nil {
		return Result{}, err
	}
	return Result{Payload: payload, Version: VersionV1}, nil
}

func validateV0(source types.Source, authHeader string, body []byte, secret string) (Result, error) {
	// Plain equality mirrors the legacy scheme; only the v1 digest compare is
	// constant-time.
	if authHeader != secret {
		return Result{}, ErrAuthorizationMismatch
	}

	payload, err := parseBody(source, VersionV0, body)
	if err != nil {
		return Result{}, err
	}
	return Result{Payload: payload, Version: VersionV0}, nil
}

// parseSignatureHeader splits "t=<ts>,v1=<sig>". Both fields must be present.
func parseSignatureHeader(header string) (timestamp, signature string, err error) {
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if v, ok := strings.CutPrefix(part, "t="); ok {
			timestamp = v
		} else if v, ok := strings.CutPrefix(part, "v1="); ok {
			signature = v
		}
	}
	if timestamp == "" || signature == "" {
		return "", "", ErrMalformedSignatureHeader
	}
	return timestamp, signature, nil
}

func parseBody(source types.Source, version Version, body []byte) (Payload, error) {
	switch source {
	case types.SourceDBL:
		return ParseDBL(body)
	case types.SourceTopGG:
		if version == VersionV1 {
			return ParseTopGGv1(body)
		}
		return ParseTopGGv0(body)
	}
	return Payload{}, fmt.Errorf("%w: unknown source %q", ErrMalformedPayload, source)
}
