package webserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/votegate/votegate/src/api/forward"
	"github.com/votegate/votegate/src/api/webhook"
	"github.com/votegate/votegate/src/shared/data"
	"github.com/votegate/votegate/src/shared/types"
)

// Webhook bodies are small JSON documents; anything bigger is abuse.
const maxBodyBytes = 1 << 20

// sideEffectTimeout bounds the detached counter/notify work so a wedged
// collaborator cannot pile up goroutines.
const sideEffectTimeout = 5 * time.Second

// ConfigStore is the application-configuration lookup the handlers consume.
type ConfigStore interface {
	GetApplicationConfig(ctx context.Context, appID string, source types.Source) (*types.ApplicationConfig, error)
	BumpInvalidRequests(ctx context.Context, appID string, source types.Source) error
}

// VoteStore persists accepted votes. InsertVote returns data.ErrDuplicateVote
// when the vote ID was already applied.
type VoteStore interface {
	InsertVote(ctx context.Context, v *types.Vote) error
}

// Queue accepts the downstream jobs produced by ingestion.
type Queue interface {
	EnqueueRoleApply(ctx context.Context, voteID string) error
	EnqueueTestNotify(ctx context.Context, appID, userID string, source types.Source) error
	EnqueueForward(ctx context.Context, envelope []byte) error
}

// ForwardBuilder wraps a vote payload into a forwarding envelope, or returns
// nil when the application has no forwarding target.
type ForwardBuilder interface {
	Build(ctx context.Context, appID string, source types.Source, payload json.RawMessage) (*forward.Envelope, error)
}

// Votes handles the inbound vote-webhook endpoints.
type Votes struct {
	cfgs  ConfigStore
	votes VoteStore
	queue Queue
	fwd   ForwardBuilder
}

func NewVotes(cfgs ConfigStore, votes VoteStore, queue Queue, fwd ForwardBuilder) Votes {
	return Votes{cfgs: cfgs, votes: votes, queue: queue, fwd: fwd}
}

// The versioned Top.gg routes and the legacy alias all land on the same
// ingestion path; protocol version comes from the signature header, never
// from the URL, so a v1-signed delivery to a v0 route still verifies.
func (v Votes) TopGG(c *gin.Context) { v.ingest(c, types.SourceTopGG, c.Param("id")) }

// TopGGVersioned serves /webhook/topgg/v0/:appid and /webhook/topgg/v1/:appid.
// The ":id" param carries the version segment here; see attachRoutes.
func (v Votes) TopGGVersioned(c *gin.Context) {
	switch c.Param("id") {
	case "v0", "v1":
		v.ingest(c, types.SourceTopGG, c.Param("appid"))
	default:
		c.Status(http.StatusNotFound)
	}
}

func (v Votes) DBL(c *gin.Context) { v.ingest(c, types.SourceDBL, c.Param("id")) }

func (v Votes) ingest(c *gin.Context, source types.Source, appID string) {
	ctx := c.Request.Context()

	cfg, err := v.cfgs.GetApplicationConfig(ctx, appID, source)
	if err != nil {
		log.Printf("webhook %s/%s: config lookup: %v", source, appID, err)
		c.Status(http.StatusInternalServerError)
		return
	}
	if cfg == nil {
		c.Status(http.StatusNotFound)
		return
	}
	if cfg.Secret == nil || *cfg.Secret == "" {
		// Indistinguishable from an unknown application so probes cannot map
		// which IDs are registered but unconfigured.
		v.bumpInvalid(appID, source)
		c.Status(http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		log.Printf("webhook %s/%s: read body: %v", source, appID, err)
		c.Status(http.StatusInternalServerError)
		return
	}

	res, err := webhook.Validate(source, c.GetHeader("X-TopGG-Signature"), c.GetHeader("Authorization"), body, *cfg.Secret)
	if err != nil {
		v.bumpInvalid(appID, source)
		if errors.Is(err, webhook.ErrMalformedPayload) || errors.Is(err, webhook.ErrMalformedSignatureHeader) {
			c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
			return
		}
		c.Status(http.StatusForbidden)
		return
	}

	if res.Payload.IsTest() {
		// Test deliveries never touch vote history; the owner just gets a DM.
		if userID := res.Payload.UserID(); userID != "" {
			v.notifyTest(appID, userID, source)
		} else {
			log.Printf("webhook %s/%s: test delivery carries no voter id, skipping DM", source, appID)
		}
		c.Status(http.StatusOK)
		return
	}

	if cfg.VoteRoleID == nil || cfg.GuildID == nil {
		// The signature was valid; this is a setup problem, not an auth one.
		v.bumpInvalid(appID, source)
		c.JSON(http.StatusBadRequest, gin.H{"err": "application not configured for vote processing"})
		return
	}

	voteID, ok := res.Payload.ExternalID()
	if !ok {
		// v0 and DBL carry no reliable event ID; mint a time-ordered one.
		voteID = uuid.Must(uuid.NewV7()).String()
	}

	var expiresAt *time.Time
	if cfg.RoleDurationSeconds != nil && *cfg.RoleDurationSeconds > 0 {
		t := time.Now().Add(time.Duration(*cfg.RoleDurationSeconds) * time.Second)
		expiresAt = &t
	}

	vote := &types.Vote{
		ID:        voteID,
		AppID:     appID,
		Source:    source,
		GuildID:   *cfg.GuildID,
		UserID:    res.Payload.UserID(),
		RoleID:    *cfg.VoteRoleID,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}

	if err := v.votes.InsertVote(ctx, vote); err != nil {
		if errors.Is(err, data.ErrDuplicateVote) {
			// Redelivered v1 event; already applied, ack without a second job.
			c.Status(ackStatus(res.Version))
			return
		}
		log.Printf("webhook %s/%s: insert vote: %v", source, appID, err)
		c.Status(http.StatusInternalServerError)
		return
	}

	if err := v.queue.EnqueueRoleApply(ctx, vote.ID); err != nil {
		// 5xx so the platform redelivers; see DESIGN.md on the v0/DBL
		// duplication this can cause.
		log.Printf("webhook %s/%s: enqueue role apply: %v", source, appID, err)
		c.Status(http.StatusInternalServerError)
		return
	}

	v.forwardVote(ctx, appID, source, body)

	c.Status(ackStatus(res.Version))
}

func ackStatus(version webhook.Version) int {
	if version == webhook.VersionV1 {
		return http.StatusNoContent
	}
	return http.StatusOK
}

// forwardVote builds and enqueues a forwarding envelope when the application
// opted in. Failures are logged only; the webhook ack does not depend on
// forwarding.
func (v Votes) forwardVote(ctx context.Context, appID string, source types.Source, body []byte) {
	env, err := v.fwd.Build(ctx, appID, source, body)
	if err != nil {
		log.Printf("webhook %s/%s: build forward envelope: %v", source, appID, err)
		return
	}
	if env == nil {
		return
	}
	raw, err := json.Marshal(env)
	if err != nil {
		log.Printf("webhook %s/%s: marshal forward envelope: %v", source, appID, err)
		return
	}
	if err := v.queue.EnqueueForward(ctx, raw); err != nil {
		log.Printf("webhook %s/%s: enqueue forward: %v", source, appID, err)
	}
}

// bumpInvalid increments the abuse counter off the request path. Best-effort
// telemetry; a failed bump never affects the response.
func (v Votes) bumpInvalid(appID string, source types.Source) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		defer cancel()
		if err := v.cfgs.BumpInvalidRequests(ctx, appID, source); err != nil {
			log.Printf("webhook %s/%s: bump invalid requests: %v", source, appID, err)
		}
	}()
}

// notifyTest enqueues the test-vote DM off the request path.
func (v Votes) notifyTest(appID, userID string, source types.Source) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		defer cancel()
		if err := v.queue.EnqueueTestNotify(ctx, appID, userID, source); err != nil {
			log.Printf("webhook %s/%s: enqueue test notify: %v", source, appID, err)
		}
	}()
}
