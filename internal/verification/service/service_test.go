package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Store,NonceSet,AuditEmitter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"guildgate/internal/audit"
	"guildgate/internal/fingerprint"
	"guildgate/internal/identity"
	identitymocks "guildgate/internal/identity/mocks"
	"guildgate/internal/risk"
	"guildgate/internal/token"
	"guildgate/internal/verification/metrics"
	"guildgate/internal/verification/models"
	"guildgate/internal/verification/service/mocks"
	"guildgate/internal/verification/store"
	"guildgate/internal/verification/store/nonce"
	dErrors "guildgate/pkg/domain-errors"
	"guildgate/pkg/platform/sentinel"
)

// =============================================================================
// Verification Service Test Suite
// =============================================================================
// Justification for unit tests: the service owns the ordering of the flow
// (state check, exchange, scoring, nonce, decide) and the mapping of every
// failure onto a user-facing code. The store and nonce set are the real
// in-memory implementations; the provider is mocked.

type recordingEmitter struct {
	mu     sync.Mutex
	events []audit.Event
}

func (e *recordingEmitter) Emit(_ context.Context, event audit.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
}

type ServiceSuite struct {
	suite.Suite
	ctrl        *gomock.Controller
	provider    *identitymocks.MockProvider
	codec       *token.Codec
	hasher      *fingerprint.Hasher
	store       *store.InMemory
	nonces      *nonce.InMemory
	emitter     *recordingEmitter
	metrics     *metrics.Metrics
	now         time.Time
	score       int
	oracleErr   error
	oracleCalls []string
	oracleBlock bool
	service     *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	var err error
	s.ctrl = gomock.NewController(s.T())
	s.provider = identitymocks.NewMockProvider(s.ctrl)
	s.codec, err = token.New("supersecret")
	s.Require().NoError(err)
	s.hasher, err = fingerprint.NewHasher("supersecret")
	s.Require().NoError(err)
	s.store = store.NewInMemory()
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.nonces = nonce.NewInMemory(nonce.WithClock(func() time.Time { return s.now }))
	s.emitter = &recordingEmitter{}
	s.metrics = metrics.NewWithRegistry(prometheus.NewRegistry())
	s.score = 10
	s.oracleErr = nil
	s.oracleCalls = nil
	s.oracleBlock = false
	s.service = s.newService(s.store, s.nonces, WithAuditEmitter(s.emitter))
}

func (s *ServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ServiceSuite) oracle() risk.Oracle {
	return risk.OracleFunc(func(ctx context.Context, addr string) (int, error) {
		s.oracleCalls = append(s.oracleCalls, addr)
		if s.oracleBlock {
			<-ctx.Done()
			return 0, ctx.Err()
		}
		return s.score, s.oracleErr
	})
}

func (s *ServiceSuite) newService(st Store, ns NonceSet, opts ...Option) *Service {
	base := []Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { return s.now }),
		WithMetrics(s.metrics),
	}
	svc, err := New(
		Config{CommunityID: "guild1", ExternalCallTimeout: 50 * time.Millisecond},
		s.codec, s.hasher, s.provider, s.oracle(), st, ns,
		append(base, opts...)...,
	)
	s.Require().NoError(err)
	return svc
}

func (s *ServiceSuite) state(community, subject string, issued time.Time) string {
	st, err := s.codec.IssueState(community, subject, issued)
	s.Require().NoError(err)
	return st.Raw
}

func (s *ServiceSuite) expectIdentity(code, id string) {
	s.provider.EXPECT().Exchange(gomock.Any(), code).Return(&identity.Identity{ID: id, Username: id}, nil)
}

func (s *ServiceSuite) complete(subject, addr string) (*CallbackResult, error) {
	s.expectIdentity("abc", subject)
	return s.service.Complete(context.Background(), CallbackRequest{
		Code:          "abc",
		State:         s.state("guild1", subject, s.now),
		ClientAddress: addr,
	})
}

func (s *ServiceSuite) assertFailure(err error, reason Reason, status int) {
	s.Require().Error(err)
	s.Equal(reason, ReasonOf(err))
	de, ok := dErrors.As(err)
	s.Require().True(ok, "service errors carry a domain error")
	s.Equal(status, dErrors.ToHTTPStatus(de.Code))
}

func (s *ServiceSuite) assertNoRecord(subject string) {
	_, err := s.store.Get(context.Background(), "guild1", subject)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

// =============================================================================
// Constructor Tests (Invariant Enforcement)
// =============================================================================

func (s *ServiceSuite) TestNew() {
	cfg := Config{CommunityID: "guild1"}
	oracle := s.oracle()

	cases := []struct {
		name string
		run  func() (*Service, error)
		want string
	}{
		{"community", func() (*Service, error) {
			return New(Config{}, s.codec, s.hasher, s.provider, oracle, s.store, s.nonces)
		}, "community id is required"},
		{"codec", func() (*Service, error) {
			return New(cfg, nil, s.hasher, s.provider, oracle, s.store, s.nonces)
		}, "token codec is required"},
		{"hasher", func() (*Service, error) {
			return New(cfg, s.codec, nil, s.provider, oracle, s.store, s.nonces)
		}, "fingerprint hasher is required"},
		{"provider", func() (*Service, error) {
			return New(cfg, s.codec, s.hasher, nil, oracle, s.store, s.nonces)
		}, "identity provider is required"},
		{"oracle", func() (*Service, error) {
			return New(cfg, s.codec, s.hasher, s.provider, nil, s.store, s.nonces)
		}, "risk oracle is required"},
		{"store", func() (*Service, error) {
			return New(cfg, s.codec, s.hasher, s.provider, oracle, nil, s.nonces)
		}, "verification store is required"},
		{"nonces", func() (*Service, error) {
			return New(cfg, s.codec, s.hasher, s.provider, oracle, s.store, nil)
		}, "nonce set is required"},
	}
	for _, tc := range cases {
		s.Run("nil "+tc.name+" returns error", func() {
			_, err := tc.run()
			s.Require().Error(err)
			s.Contains(err.Error(), tc.want)
		})
	}

	s.Run("defaults external call timeout", func() {
		svc, err := New(cfg, s.codec, s.hasher, s.provider, oracle, s.store, s.nonces)
		s.Require().NoError(err)
		s.Equal(DefaultExternalCallTimeout, svc.cfg.ExternalCallTimeout)
		s.Equal("guild1", svc.CommunityID())
	})
}

// =============================================================================
// Begin (invite step)
// =============================================================================

func (s *ServiceSuite) TestBegin() {
	ctx := context.Background()

	s.Run("valid invite redirects with a state bound to the subject", func() {
		var gotState string
		s.provider.EXPECT().AuthCodeURL(gomock.Any()).DoAndReturn(func(state string) string {
			gotState = state
			return "https://discord.test/oauth2/authorize?state=" + state
		})

		res, err := s.service.Begin(ctx, InviteRequest{
			CommunityID: "guild1",
			SubjectID:   "user1",
			Signature:   s.codec.SignInvite("guild1", "user1"),
		})
		s.Require().NoError(err)
		s.Equal(gotState, res.State)
		s.True(strings.HasSuffix(res.RedirectURL, res.State))

		parsed, err := s.codec.ParseState(res.State, s.now)
		s.Require().NoError(err)
		s.Equal("guild1", parsed.CommunityID)
		s.Equal("user1", parsed.SubjectID)
		s.NotEmpty(parsed.Nonce)
		s.Equal(1.0, testutil.ToFloat64(s.metrics.InvitesAccepted))
	})

	valid := s.codec.SignInvite("guild1", "user1")

	rejected := map[string]InviteRequest{
		"missing community": {SubjectID: "user1", Signature: valid},
		"missing subject":   {CommunityID: "guild1", Signature: valid},
		"missing signature": {CommunityID: "guild1", SubjectID: "user1"},
		"mutated signature": {CommunityID: "guild1", SubjectID: "user1", Signature: flipLast(valid)},
		"other subject":     {CommunityID: "guild1", SubjectID: "user2", Signature: valid},
		"other community":   {CommunityID: "guild2", SubjectID: "user1", Signature: s.codec.SignInvite("guild2", "user1")},
	}
	for name, req := range rejected {
		s.Run(name+" is an invalid token", func() {
			_, err := s.service.Begin(ctx, req)
			s.assertFailure(err, ReasonInvalidToken, http.StatusBadRequest)
			de, _ := dErrors.As(err)
			s.Equal(MessageInvalidToken, de.Message)
		})
	}
}

// =============================================================================
// Complete (callback step)
// =============================================================================

func (s *ServiceSuite) TestCompleteGrantsNovelNetwork() {
	res, err := s.complete("user1", "198.51.100.7")
	s.Require().NoError(err)
	s.Equal(models.OutcomeGranted, res.Outcome)
	s.Equal(10, res.RiskScore)
	s.Equal(MessageGranted, res.Message())

	rec, err := s.store.Get(context.Background(), "guild1", "user1")
	s.Require().NoError(err)
	s.True(rec.Verified)
	s.Equal(s.hasher.Fingerprint("guild1", "198.51.100.7"), *rec.NetworkHash)
	s.Equal(10, *rec.RiskScore)
	s.Require().NotNil(rec.GrantedAt)
	s.Equal(s.now, *rec.GrantedAt)

	s.Require().Len(s.emitter.events, 1)
	event := s.emitter.events[0]
	s.Equal("granted", event.Outcome)
	s.Equal("user1", event.SubjectID)
	s.Equal(*rec.NetworkHash, event.NetworkHash)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Outcomes.WithLabelValues("granted")))
}

func (s *ServiceSuite) TestCompleteDeniesNetworkReuse() {
	_, err := s.complete("user1", "198.51.100.7")
	s.Require().NoError(err)
	holder, err := s.store.Get(context.Background(), "guild1", "user1")
	s.Require().NoError(err)

	res, err := s.complete("user2", "198.51.100.200")
	s.Require().NoError(err)
	s.Equal(models.OutcomeDeniedNetworkReuse, res.Outcome)
	s.Equal(MessageDeniedReuse, res.Message())

	rec, err := s.store.Get(context.Background(), "guild1", "user2")
	s.Require().NoError(err)
	s.False(rec.Verified)
	s.Nil(rec.GrantedAt)

	after, err := s.store.Get(context.Background(), "guild1", "user1")
	s.Require().NoError(err)
	s.Equal(holder, after)
}

func (s *ServiceSuite) TestCompleteRiskThreshold() {
	s.score = 75
	res, err := s.complete("user1", "198.51.100.7")
	s.Require().NoError(err)
	s.Equal(models.OutcomeDeniedHighRisk, res.Outcome)
	s.Equal(MessageDeniedHighRisk, res.Message())

	s.score = 74
	res, err = s.complete("user2", "203.0.113.5")
	s.Require().NoError(err)
	s.Equal(models.OutcomeGranted, res.Outcome)
}

func (s *ServiceSuite) TestCompleteTrustedNetworkSkipsOracle() {
	s.score = 99
	res, err := s.complete("user1", "10.0.0.5")
	s.Require().NoError(err)
	s.Equal(models.OutcomeGranted, res.Outcome)
	s.Equal(0, res.RiskScore)
	s.Empty(s.oracleCalls)
}

func (s *ServiceSuite) TestCompleteUnknownAddressStillScored() {
	_, err := s.complete("user1", "")
	s.Require().NoError(err)
	s.Equal([]string{"0.0.0.0"}, s.oracleCalls)

	rec, err := s.store.Get(context.Background(), "guild1", "user1")
	s.Require().NoError(err)
	s.Equal(s.hasher.Fingerprint("guild1", "0.0.0.0"), *rec.NetworkHash)
}

func (s *ServiceSuite) TestCompleteRejectsBadState() {
	ctx := context.Background()
	good := s.state("guild1", "user1", s.now)

	cases := map[string]CallbackRequest{
		"missing state":     {Code: "abc"},
		"tampered state":    {Code: "abc", State: flipLast(good)},
		"garbage state":     {Code: "abc", State: "not-a-state"},
		"expired state":     {Code: "abc", State: s.state("guild1", "user1", s.now.Add(-11*time.Minute))},
		"other community":   {Code: "abc", State: s.state("guild2", "user1", s.now)},
		"invite as a state": {Code: "abc", State: s.codec.SignInvite("guild1", "user1")},
	}
	for name, req := range cases {
		s.Run(name, func() {
			_, err := s.service.Complete(ctx, req)
			s.assertFailure(err, ReasonInvalidToken, http.StatusBadRequest)
		})
	}
	s.assertNoRecord("user1")
	s.Empty(s.oracleCalls)
}

func (s *ServiceSuite) TestCompleteMissingCode() {
	_, err := s.service.Complete(context.Background(), CallbackRequest{State: s.state("guild1", "user1", s.now)})
	s.assertFailure(err, ReasonMissingCode, http.StatusBadRequest)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Failures.WithLabelValues("missing_code")))
}

func (s *ServiceSuite) TestCompleteProviderFailures() {
	ctx := context.Background()

	s.Run("rejected code", func() {
		s.provider.EXPECT().Exchange(gomock.Any(), "abc").
			Return(nil, fmt.Errorf("%w: invalid_grant", identity.ErrExchange))
		_, err := s.service.Complete(ctx, CallbackRequest{Code: "abc", State: s.state("guild1", "user1", s.now)})
		s.assertFailure(err, ReasonOAuthExchange, http.StatusBadRequest)
		s.ErrorIs(err, identity.ErrExchange)
	})

	s.Run("identity fetch rejected", func() {
		s.provider.EXPECT().Exchange(gomock.Any(), "abc").
			Return(nil, fmt.Errorf("%w: status 401", identity.ErrFetch))
		_, err := s.service.Complete(ctx, CallbackRequest{Code: "abc", State: s.state("guild1", "user1", s.now)})
		s.assertFailure(err, ReasonIdentityFetch, http.StatusBadRequest)
	})

	s.Run("identity is not the invited subject", func() {
		s.expectIdentity("abc", "someone-else")
		_, err := s.service.Complete(ctx, CallbackRequest{Code: "abc", State: s.state("guild1", "user1", s.now)})
		s.assertFailure(err, ReasonInvalidToken, http.StatusBadRequest)
	})

	s.assertNoRecord("user1")
	s.assertNoRecord("someone-else")
	s.Empty(s.emitter.events)
}

// TestCompleteTimeouts verifies a slow collaborator fails the flow with a
// retryable timeout and leaves nothing behind, so the same state still works.
func (s *ServiceSuite) TestCompleteTimeouts() {
	ctx := context.Background()
	raw := s.state("guild1", "user1", s.now)

	s.Run("slow exchange", func() {
		s.provider.EXPECT().Exchange(gomock.Any(), "abc").
			DoAndReturn(func(ctx context.Context, _ string) (*identity.Identity, error) {
				<-ctx.Done()
				return nil, fmt.Errorf("%w: %w", identity.ErrExchange, ctx.Err())
			})
		_, err := s.service.Complete(ctx, CallbackRequest{Code: "abc", State: raw})
		s.assertFailure(err, ReasonTimeout, http.StatusGatewayTimeout)
		s.True(IsRetryable(err))
	})

	s.Run("slow oracle", func() {
		s.oracleBlock = true
		s.expectIdentity("abc", "user1")
		_, err := s.service.Complete(ctx, CallbackRequest{Code: "abc", State: raw, ClientAddress: "198.51.100.7"})
		s.assertFailure(err, ReasonTimeout, http.StatusGatewayTimeout)
		s.oracleBlock = false
	})

	s.assertNoRecord("user1")

	s.Run("state is still redeemable", func() {
		s.expectIdentity("abc", "user1")
		res, err := s.service.Complete(ctx, CallbackRequest{Code: "abc", State: raw, ClientAddress: "198.51.100.7"})
		s.Require().NoError(err)
		s.Equal(models.OutcomeGranted, res.Outcome)
	})
}

func (s *ServiceSuite) TestCompleteOracleOutageFailsClosed() {
	s.oracleErr = errors.New("provider down")
	_, err := s.complete("user1", "198.51.100.7")
	s.assertFailure(err, ReasonRiskUnavailable, http.StatusServiceUnavailable)
	s.assertNoRecord("user1")
}

func (s *ServiceSuite) TestCompleteRejectsReplayedState() {
	ctx := context.Background()
	raw := s.state("guild1", "user1", s.now)

	s.expectIdentity("abc", "user1")
	_, err := s.service.Complete(ctx, CallbackRequest{Code: "abc", State: raw, ClientAddress: "198.51.100.7"})
	s.Require().NoError(err)

	s.expectIdentity("abc", "user1")
	_, err = s.service.Complete(ctx, CallbackRequest{Code: "abc", State: raw, ClientAddress: "198.51.100.7"})
	s.assertFailure(err, ReasonInvalidToken, http.StatusBadRequest)
	s.ErrorIs(err, sentinel.ErrAlreadyUsed)
}

func (s *ServiceSuite) TestCompleteReattemptOverwrites() {
	_, err := s.complete("user1", "198.51.100.7")
	s.Require().NoError(err)

	s.now = s.now.Add(time.Hour)
	s.score = 90
	res, err := s.complete("user1", "203.0.113.9")
	s.Require().NoError(err)
	s.Equal(models.OutcomeDeniedHighRisk, res.Outcome)

	rec, err := s.store.Get(context.Background(), "guild1", "user1")
	s.Require().NoError(err)
	s.False(rec.Verified)
	s.Nil(rec.GrantedAt)
	s.Equal(90, *rec.RiskScore)
}

// =============================================================================
// Infrastructure failures
// =============================================================================
// Justification: a store or nonce failure must never turn into a grant and
// must not emit an outcome.

func (s *ServiceSuite) TestCompleteStoreUnavailable() {
	mockStore := mocks.NewMockStore(s.ctrl)
	mockEmitter := mocks.NewMockAuditEmitter(s.ctrl)
	svc := s.newService(mockStore, s.nonces, WithAuditEmitter(mockEmitter))

	mockStore.EXPECT().Decide(gomock.Any(), gomock.Any()).
		Return(models.Outcome(""), fmt.Errorf("decide: %w", sentinel.ErrUnavailable))
	s.expectIdentity("abc", "user1")

	res, err := svc.Complete(context.Background(), CallbackRequest{
		Code: "abc", State: s.state("guild1", "user1", s.now), ClientAddress: "198.51.100.7",
	})
	s.Nil(res)
	s.assertFailure(err, ReasonStoreUnavailable, http.StatusServiceUnavailable)
	de, _ := dErrors.As(err)
	s.NotContains(de.Message, "decide", "internal detail is not user-facing")
}

func (s *ServiceSuite) TestCompleteDecideReceivesFingerprint() {
	mockStore := mocks.NewMockStore(s.ctrl)
	svc := s.newService(mockStore, s.nonces)

	mockStore.EXPECT().Decide(gomock.Any(), models.DecideRequest{
		CommunityID: "guild1",
		SubjectID:   "user1",
		NetworkHash: s.hasher.Fingerprint("guild1", "198.51.100.7"),
		RiskScore:   10,
		Now:         s.now,
	}).Return(models.OutcomeGranted, nil)
	s.expectIdentity("abc", "user1")

	res, err := svc.Complete(context.Background(), CallbackRequest{
		Code: "abc", State: s.state("guild1", "user1", s.now), ClientAddress: "198.51.100.7",
	})
	s.Require().NoError(err)
	s.Equal(models.OutcomeGranted, res.Outcome)
}

func (s *ServiceSuite) TestCompleteNonceFailures() {
	mockNonces := mocks.NewMockNonceSet(s.ctrl)
	svc := s.newService(s.store, mockNonces)

	s.Run("nonce store down", func() {
		mockNonces.EXPECT().Consume(gomock.Any(), gomock.Any(), s.codec.StateTTL()).
			Return(fmt.Errorf("consume nonce: %w", sentinel.ErrUnavailable))
		s.expectIdentity("abc", "user1")
		_, err := svc.Complete(context.Background(), CallbackRequest{
			Code: "abc", State: s.state("guild1", "user1", s.now), ClientAddress: "198.51.100.7",
		})
		s.assertFailure(err, ReasonStoreUnavailable, http.StatusServiceUnavailable)
	})

	s.assertNoRecord("user1")
}

func (s *ServiceSuite) TestReasonHelpers() {
	s.Equal(ReasonInternal, ReasonOf(errors.New("plain")))
	s.False(IsRetryable(fail(ReasonInvalidToken, nil)))
	s.True(IsRetryable(fail(ReasonStoreUnavailable, nil)))
	s.True(IsRetryable(fail(ReasonTimeout, nil)))
}

// flipLast changes the final hex digit so the signature no longer verifies.
func flipLast(v string) string {
	last := byte('0')
	if v[len(v)-1] == '0' {
		last = '1'
	}
	return v[:len(v)-1] + string(last)
}
