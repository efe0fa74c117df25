package webserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/votegate/votegate/src/api/forward"
	"github.com/votegate/votegate/src/api/webhook"
	"github.com/votegate/votegate/src/shared/data"
	"github.com/votegate/votegate/src/shared/types"
)

const (
	testAppID  = "100000000000000001"
	testUserID = "200000000000000002"
	testSecret = "whsec_handler_test_secret"
)

type fakeStore struct {
	mu    sync.Mutex
	cfgs  map[string]*types.ApplicationConfig
	bumps map[string]int
	votes []types.Vote

	insertErr error
}

func newFakeStore(cfgs ...*types.ApplicationConfig) *fakeStore {
	s := &fakeStore{
		cfgs:  make(map[string]*types.ApplicationConfig),
		bumps: make(map[string]int),
	}
	for _, cfg := range cfgs {
		s.cfgs[cfg.AppID+"/"+string(cfg.Source)] = cfg
	}
	return s
}

func (s *fakeStore) GetApplicationConfig(_ context.Context, appID string, source types.Source) (*types.ApplicationConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfgs[appID+"/"+string(source)], nil
}

func (s *fakeStore) BumpInvalidRequests(_ context.Context, appID string, source types.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bumps[appID+"/"+string(source)]++
	return nil
}

func (s *fakeStore) InsertVote(_ context.Context, v *types.Vote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	for _, existing := range s.votes {
		if existing.ID == v.ID {
			return data.ErrDuplicateVote
		}
	}
	s.votes = append(s.votes, *v)
	return nil
}

func (s *fakeStore) voteCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.votes)
}

func (s *fakeStore) bumpCount(appID string, source types.Source) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bumps[appID+"/"+string(source)]
}

type fakeQueue struct {
	mu          sync.Mutex
	roleApplies []string
	notifies    []string
	forwards    [][]byte

	roleErr error
}

func (q *fakeQueue) EnqueueRoleApply(_ context.Context, voteID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.roleErr != nil {
		return q.roleErr
	}
	q.roleApplies = append(q.roleApplies, voteID)
	return nil
}

func (q *fakeQueue) EnqueueTestNotify(_ context.Context, appID, userID string, source types.Source) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.notifies = append(q.notifies, appID+"/"+userID+"/"+string(source))
	return nil
}

func (q *fakeQueue) EnqueueForward(_ context.Context, envelope []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.forwards = append(q.forwards, envelope)
	return nil
}

func (q *fakeQueue) roleApplyCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.roleApplies)
}

func (q *fakeQueue) notifyCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.notifies)
}

func (q *fakeQueue) forwardCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.forwards)
}

// fakeForward mirrors the real dispatcher: nil target means no forwarding.
type fakeForward struct {
	target *forward.Target
}

func (f *fakeForward) Build(_ context.Context, _ string, source types.Source, payload json.RawMessage) (*forward.Envelope, error) {
	if f.target == nil {
		return nil, nil
	}
	now := time.Now().Unix()
	return &forward.Envelope{
		To:                *f.target,
		ForwardingPayload: forward.ForwardingPayload{Source: source, Payload: payload, Timestamp: now},
		Timestamp:         now,
	}, nil
}

func strptr(s string) *string { return &s }

func i64ptr(n int64) *int64 { return &n }

func configuredApp(source types.Source) *types.ApplicationConfig {
	return &types.ApplicationConfig{
		AppID:      testAppID,
		Source:     source,
		Secret:     strptr(testSecret),
		GuildID:    strptr("300000000000000003"),
		VoteRoleID: strptr("400000000000000004"),
	}
}

func newTestRouter(v Votes) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/webhook/topgg/:id", v.TopGG)
	r.POST("/webhook/topgg/:id/:appid", v.TopGGVersioned)
	r.POST("/webhook/dbl/:id", v.DBL)
	return r
}

func post(r *gin.Engine, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func v1Body(eventID string) string {
	return `{"type":"vote.create","data":{"id":"` + eventID + `","user":{"platform_id":"` + testUserID + `"},"project":"bot:` + testAppID + `","created_at":"2024-05-01T00:00:00Z","weight":1}}`
}

func v1Headers(body string) map[string]string {
	ts := "1700000000"
	return map[string]string{
		"X-TopGG-Signature": "t=" + ts + ",v1=" + webhook.ComputeSignature(testSecret, ts, []byte(body)),
	}
}

func TestTopGGv1VoteCreate(t *testing.T) {
	store := newFakeStore(configuredApp(types.SourceTopGG))
	queue := &fakeQueue{}
	r := newTestRouter(NewVotes(store, store, queue, &fakeForward{}))

	body := v1Body("evt_100")
	w := post(r, "/webhook/topgg/v1/"+testAppID, body, v1Headers(body))

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())

	require.Equal(t, 1, store.voteCount())
	vote := store.votes[0]
	assert.Equal(t, "evt_100", vote.ID, "v1 event id used verbatim")
	assert.Equal(t, types.SourceTopGG, vote.Source)
	assert.Equal(t, testUserID, vote.UserID)
	assert.Equal(t, "300000000000000003", vote.GuildID)
	assert.Equal(t, "400000000000000004", vote.RoleID)
	assert.False(t, vote.HasRole)
	assert.Nil(t, vote.ExpiresAt, "no duration configured")

	require.Equal(t, 1, queue.roleApplyCount())
	assert.Equal(t, "evt_100", queue.roleApplies[0])
}

func TestTopGGv1TamperedSignature(t *testing.T) {
	store := newFakeStore(configuredApp(types.SourceTopGG))
	queue := &fakeQueue{}
	r := newTestRouter(NewVotes(store, store, queue, &fakeForward{}))

	body := v1Body("evt_101")
	headers := v1Headers(body)
	sig := headers["X-TopGG-Signature"]
	flipped := "0"
	if sig[len(sig)-1] == '0' {
		flipped = "1"
	}
	headers["X-TopGG-Signature"] = sig[:len(sig)-1] + flipped

	w := post(r, "/webhook/topgg/v1/"+testAppID, body, headers)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, 0, store.voteCount())
	assert.Equal(t, 0, queue.roleApplyCount())
	require.Eventually(t, func() bool {
		return store.bumpCount(testAppID, types.SourceTopGG) == 1
	}, time.Second, 10*time.Millisecond, "invalid-request counter must be bumped once")
}

func TestLegacyAliasDetectsVersionFromHeader(t *testing.T) {
	store := newFakeStore(configuredApp(types.SourceTopGG))
	queue := &fakeQueue{}
	r := newTestRouter(NewVotes(store, store, queue, &fakeForward{}))

	// v1-signed delivery on the unversioned legacy route still validates as v1
	body := v1Body("evt_102")
	w := post(r, "/webhook/topgg/"+testAppID, body, v1Headers(body))
	assert.Equal(t, http.StatusNoContent, w.Code)

	// bearer delivery on the same route validates as v0 and acks with 200
	w = post(r, "/webhook/topgg/"+testAppID,
		`{"bot":"`+testAppID+`","user":"`+testUserID+`","type":"upvote"}`,
		map[string]string{"Authorization": testSecret})
	assert.Equal(t, http.StatusOK, w.Code)

	require.Equal(t, 2, store.voteCount())
}

func TestDBLVoteNoForwarding(t *testing.T) {
	store := newFakeStore(configuredApp(types.SourceDBL))
	queue := &fakeQueue{}
	r := newTestRouter(NewVotes(store, store, queue, &fakeForward{}))

	w := post(r, "/webhook/dbl/"+testAppID,
		`{"id":"`+testUserID+`","username":"voter","avatar":"","admin":false}`,
		map[string]string{"Authorization": testSecret})

	assert.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, store.voteCount())
	vote := store.votes[0]
	assert.Equal(t, types.SourceDBL, vote.Source)
	_, err := uuid.Parse(vote.ID)
	assert.NoError(t, err, "locally minted IDs are UUIDs")

	assert.Equal(t, 1, queue.roleApplyCount())
	assert.Equal(t, 0, queue.forwardCount(), "no forwarding configured")
}

func TestDBLVoteWithForwarding(t *testing.T) {
	store := newFakeStore(configuredApp(types.SourceDBL))
	queue := &fakeQueue{}
	target := &forward.Target{URL: "https://example.com/hook", Secret: "fwd_secret"}
	r := newTestRouter(NewVotes(store, store, queue, &fakeForward{target: target}))

	original := `{"id":"` + testUserID + `","username":"voter","avatar":"","admin":false}`
	w := post(r, "/webhook/dbl/"+testAppID, original, map[string]string{"Authorization": testSecret})

	assert.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, store.voteCount())
	require.Equal(t, 1, queue.forwardCount())

	var env forward.Envelope
	require.NoError(t, json.Unmarshal(queue.forwards[0], &env))
	assert.Equal(t, "https://example.com/hook", env.To.URL)
	assert.Equal(t, "fwd_secret", env.To.Secret)
	assert.Equal(t, types.SourceDBL, env.ForwardingPayload.Source)
	assert.JSONEq(t, original, string(env.ForwardingPayload.Payload), "payload forwarded unmodified")
}

func TestTestVotesAreNeverPersisted(t *testing.T) {
	store := newFakeStore(configuredApp(types.SourceTopGG))
	queue := &fakeQueue{}
	r := newTestRouter(NewVotes(store, store, queue, &fakeForward{}))

	w := post(r, "/webhook/topgg/v0/"+testAppID,
		`{"bot":"`+testAppID+`","user":"`+testUserID+`","type":"test"}`,
		map[string]string{"Authorization": testSecret})
	assert.Equal(t, http.StatusOK, w.Code)

	v1Test := `{"type":"webhook.test","data":{"user":{"platform_id":"` + testUserID + `"}}}`
	w = post(r, "/webhook/topgg/v1/"+testAppID, v1Test, v1Headers(v1Test))
	assert.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, 0, store.voteCount(), "test votes never reach vote history")
	assert.Equal(t, 0, queue.roleApplyCount())
	require.Eventually(t, func() bool { return queue.notifyCount() == 2 },
		time.Second, 10*time.Millisecond, "both test deliveries trigger a DM notification")
}

func TestTestVoteWithoutVoterIDSkipsDM(t *testing.T) {
	store := newFakeStore(configuredApp(types.SourceTopGG))
	queue := &fakeQueue{}
	r := newTestRouter(NewVotes(store, store, queue, &fakeForward{}))

	// A v1 test event is valid without a voter attached; there is no one to
	// DM, so nothing must be enqueued for the notifier.
	body := `{"type":"webhook.test"}`
	w := post(r, "/webhook/topgg/v1/"+testAppID, body, v1Headers(body))
	assert.Equal(t, http.StatusOK, w.Code)

	assert.Never(t, func() bool { return queue.notifyCount() > 0 },
		200*time.Millisecond, 10*time.Millisecond, "no DM job for an anonymous test delivery")
	assert.Equal(t, 0, store.voteCount())
}

func TestUnknownApplication(t *testing.T) {
	store := newFakeStore()
	queue := &fakeQueue{}
	r := newTestRouter(NewVotes(store, store, queue, &fakeForward{}))

	w := post(r, "/webhook/dbl/999",
		`{"id":"1","username":"x","avatar":"","admin":false}`,
		map[string]string{"Authorization": "whatever"})

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 0, store.voteCount())
}

func TestUnconfiguredSecretLooksLikeUnknownApplication(t *testing.T) {
	cfg := configuredApp(types.SourceDBL)
	cfg.Secret = nil
	store := newFakeStore(cfg)
	queue := &fakeQueue{}
	r := newTestRouter(NewVotes(store, store, queue, &fakeForward{}))

	w := post(r, "/webhook/dbl/"+testAppID,
		`{"id":"1","username":"x","avatar":"","admin":false}`,
		map[string]string{"Authorization": "whatever"})

	assert.Equal(t, http.StatusNotFound, w.Code, "merged with unknown-application on purpose")
	require.Eventually(t, func() bool {
		return store.bumpCount(testAppID, types.SourceDBL) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestRealVoteWithoutRoleConfigIs400(t *testing.T) {
	cfg := configuredApp(types.SourceTopGG)
	cfg.VoteRoleID = nil
	store := newFakeStore(cfg)
	queue := &fakeQueue{}
	r := newTestRouter(NewVotes(store, store, queue, &fakeForward{}))

	body := v1Body("evt_103")
	w := post(r, "/webhook/topgg/v1/"+testAppID, body, v1Headers(body))

	assert.Equal(t, http.StatusBadRequest, w.Code, "configuration problem, not an authentication one")
	assert.Equal(t, 0, store.voteCount())
	require.Eventually(t, func() bool {
		return store.bumpCount(testAppID, types.SourceTopGG) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestMalformedPayloadIs400(t *testing.T) {
	store := newFakeStore(configuredApp(types.SourceTopGG))
	queue := &fakeQueue{}
	r := newTestRouter(NewVotes(store, store, queue, &fakeForward{}))

	body := `{"bot":`
	w := post(r, "/webhook/topgg/v0/"+testAppID, body, map[string]string{"Authorization": testSecret})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, store.voteCount())
}

func TestDuplicateV1RedeliveryIsAckedOnce(t *testing.T) {
	store := newFakeStore(configuredApp(types.SourceTopGG))
	queue := &fakeQueue{}
	r := newTestRouter(NewVotes(store, store, queue, &fakeForward{}))

	body := v1Body("evt_dup")
	first := post(r, "/webhook/topgg/v1/"+testAppID, body, v1Headers(body))
	second := post(r, "/webhook/topgg/v1/"+testAppID, body, v1Headers(body))

	assert.Equal(t, http.StatusNoContent, first.Code)
	assert.Equal(t, http.StatusNoContent, second.Code, "redelivery acked, not failed")
	assert.Equal(t, 1, store.voteCount(), "one row per event")
	assert.Equal(t, 1, queue.roleApplyCount(), "no second role job")
}

func TestExpiresAtFromRoleDuration(t *testing.T) {
	cfg := configuredApp(types.SourceDBL)
	cfg.RoleDurationSeconds = i64ptr(3600)
	store := newFakeStore(cfg)
	queue := &fakeQueue{}
	r := newTestRouter(NewVotes(store, store, queue, &fakeForward{}))

	before := time.Now()
	w := post(r, "/webhook/dbl/"+testAppID,
		`{"id":"`+testUserID+`","username":"voter","avatar":"","admin":false}`,
		map[string]string{"Authorization": testSecret})
	after := time.Now()

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, store.voteCount())
	exp := store.votes[0].ExpiresAt
	require.NotNil(t, exp)
	assert.False(t, exp.Before(before.Add(time.Hour)), "expiry at least now+duration")
	assert.False(t, exp.After(after.Add(time.Hour)), "expiry at most request-end+duration")
}

func TestZeroRoleDurationMeansPermanent(t *testing.T) {
	cfg := configuredApp(types.SourceDBL)
	cfg.RoleDurationSeconds = i64ptr(0)
	store := newFakeStore(cfg)
	queue := &fakeQueue{}
	r := newTestRouter(NewVotes(store, store, queue, &fakeForward{}))

	w := post(r, "/webhook/dbl/"+testAppID,
		`{"id":"`+testUserID+`","username":"voter","avatar":"","admin":false}`,
		map[string]string{"Authorization": testSecret})

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, store.voteCount())
	assert.Nil(t, store.votes[0].ExpiresAt)
}

func TestStorageFailureSurfacesAs5xx(t *testing.T) {
	store := newFakeStore(configuredApp(types.SourceTopGG))
	store.insertErr = errors.New("mysql gone")
	queue := &fakeQueue{}
	r := newTestRouter(NewVotes(store, store, queue, &fakeForward{}))

	body := v1Body("evt_104")
	w := post(r, "/webhook/topgg/v1/"+testAppID, body, v1Headers(body))

	assert.Equal(t, http.StatusInternalServerError, w.Code, "platform retry logic must engage")
	assert.Equal(t, 0, queue.roleApplyCount())
}

func TestQueueFailureSurfacesAs5xx(t *testing.T) {
	store := newFakeStore(configuredApp(types.SourceTopGG))
	queue := &fakeQueue{roleErr: errors.New("redis gone")}
	r := newTestRouter(NewVotes(store, store, queue, &fakeForward{}))

	body := v1Body("evt_105")
	w := post(r, "/webhook/topgg/v1/"+testAppID, body, v1Headers(body))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
