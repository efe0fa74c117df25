package webhook

import (
	"encoding/json"
	"fmt"
)

// Payload kinds, fixed at parse time. Consumers switch on Kind rather than
// probing for fields.
type Kind uint8

const (
	KindTopGGv0 Kind = iota + 1
	KindTopGGv1
	KindDBL
)

// Legacy Top.gg body. Extra fields are tolerated and ignored.
type TopGGv0Vote struct {
	User  string `json:"user"`
	Type  string `json:"type"`
	Bot   string `json:"bot"`
	Query string `json:"query,omitempty"`
}

// Top.gg v1 event envelope.
type TopGGv1Event struct {
	Type string      `json:"type"`
	Data TopGGv1Data `json:"data"`
}

type TopGGv1Data struct {
	ID        string      `json:"id"`
	User      TopGGv1User `json:"user"`
	Project   string      `json:"project"`
	CreatedAt string      `json:"created_at"`
	ExpiresAt string      `json:"expires_at,omitempty"`
	Weight    int         `json:"weight"`
}

type TopGGv1User struct {
	PlatformID string `json:"platform_id"`
}

// discordbotlist.com body.
type DBLVote struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
	Admin    bool   `json:"admin"`
}

// Payload is the closed sum of the three webhook body shapes. Exactly one of
// the variant pointers is set, matching Kind.
type Payload struct {
	Kind    Kind
	TopGGv0 *TopGGv0Vote
	TopGGv1 *TopGGv1Event
	DBL     *DBLVote
}

// IsTest reports Top.gg test deliveries. DBL has no test mechanism.
func (p Payload) IsTest() bool {
	switch p.Kind {
	case KindTopGGv0:
		return p.TopGGv0.Type == "test"
	case KindTopGGv1:
		return p.TopGGv1.Type == "webhook.test"
	}
	return false
}

// UserID returns the voting user's Discord ID.
func (p Payload) UserID() string {
	switch p.Kind {
	case KindTopGGv0:
		return p.TopGGv0.User
	case KindTopGGv1:
		return p.TopGGv1.Data.User.PlatformID
	case KindDBL:
		return p.DBL.ID
	}
	return ""
}

// ExternalID returns the source-assigned event ID when the protocol provides
// a globally unique one (Top.gg v1 only).
func (p Payload) ExternalID() (string, bool) {
	if p.Kind == KindTopGGv1 && p.TopGGv1.Data.ID != "" {
		return p.TopGGv1.Data.ID, true
	}
	return "", false
}

func ParseTopGGv0(raw []byte) (Payload, error) {
	var v TopGGv0Vote
	if err := json.Unmarshal(raw, &v); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if v.Type != "upvote" && v.Type != "test" {
		return Payload{}, fmt.Errorf("%w: unexpected type %q", ErrMalformedPayload, v.Type)
	}
	if v.User == "" {
		return Payload{}, fmt.Errorf("%w: missing user", ErrMalformedPayload)
	}
	return Payload{Kind: KindTopGGv0, TopGGv0: &v}, nil
}

func ParseTopGGv1(raw []byte) (Payload, error) {
	var e TopGGv1Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if e.Type != "vote.create" && e.Type != "webhook.test" {
		return Payload{}, fmt.Errorf("%w: unexpected type %q", ErrMalformedPayload, e.Type)
	}
	if e.Type == "vote.create" && (e.Data.ID == "" || e.Data.User.PlatformID == "") {
		return Payload{}, fmt.Errorf("%w: incomplete vote.create data", ErrMalformedPayload)
	}
	return Payload{Kind: KindTopGGv1, TopGGv1: &e}, nil
}

func ParseDBL(raw []byte) (Payload, error) {
	var v DBLVote
	if err := json.Unmarshal(raw, &v); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if v.ID == "" {
		return Payload{}, fmt.Errorf("%w: missing id", ErrMalformedPayload)
	}
	return Payload{Kind: KindDBL, DBL: &v}, nil
}
