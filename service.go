package introspection

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"

	oerrors "github.com/porthorian/openauth-introspection/pkg/errors"
	"github.com/porthorian/openauth-introspection/pkg/keys"
	"github.com/porthorian/openauth-introspection/pkg/metrics"
	"github.com/porthorian/openauth-introspection/pkg/protocol/oauth"
	"github.com/porthorian/openauth-introspection/pkg/revocation"
	"github.com/porthorian/openauth-introspection/pkg/token"
)

// Service runs the verification pipeline. It holds no per-request state and
// is safe for concurrent use.
type Service struct {
	issuer     string
	audiences  []string
	keySupply  keys.Supplier
	signatures *token.SignatureValidator
	claims     *token.ClaimValidator
	revocation *revocation.Checker
	metrics    metrics.Recorder
	logger     logr.Logger
	now        func() time.Time
}

var _ oauth.Introspector = (*Service)(nil)

func NewService(config Config) *Service {
	logger := resolveLogger(config.Logger)

	recorder := config.Metrics
	if recorder == nil {
		recorder = metrics.Noop{}
	}

	checkerOpts := []revocation.Option{
		revocation.WithLogger(logger.WithName("revocation")),
		revocation.WithLookupTimeout(config.LookupTimeout),
		revocation.WithFingerprinter(config.Fingerprinter),
	}
	if config.RevocationCache != nil {
		checkerOpts = append(checkerOpts, revocation.WithCache(config.RevocationCache, config.RevocationCacheTTL))
	}

	var checker *revocation.Checker
	if config.TokenStore != nil {
		checker = revocation.NewChecker(config.TokenStore, checkerOpts...)
	}

	return &Service{
		issuer:     config.Issuer,
		audiences:  append([]string(nil), config.Audiences...),
		keySupply:  config.KeySupply,
		signatures: token.NewSignatureValidator(config.TrustedAlgorithms, config.ExpectedTypes),
		claims:     token.NewClaimValidator(config.Leeway),
		revocation: checker,
		metrics:    recorder,
		logger:     logger,
		now:        resolveClock(config.Clock),
	}
}

func (s *Service) Introspect(ctx context.Context, request oauth.IntrospectionRequest) oauth.IntrospectionResponse {
	if s == nil {
		return oauth.Inactive()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	started := time.Now()
	stage := StageReceived
	response, err := s.safeVerify(ctx, request, &stage)

	code := oerrors.CodeOf(err)
	s.metrics.ObserveIntrospection(response.Active, string(code), time.Since(started))

	if err != nil {
		s.logFailure(err, stage, request)
		return oauth.Inactive()
	}

	s.logger.V(2).Info("token active", "stage", StageResponded.String(), "client_id", request.ClientID, "token_type_hint", string(request.TokenTypeHint))
	return response
}

func (s *Service) logFailure(err error, stage Stage, request oauth.IntrospectionRequest) {
	code := oerrors.CodeOf(err)
	keysAndValues := []any{
		"code", string(code),
		"stage", stage.String(),
		"client_id", request.ClientID,
		"token_type_hint", string(request.TokenTypeHint),
	}

	var typed *oerrors.Error
	if stderrors.As(err, &typed) && typed.Claim != "" {
		keysAndValues = append(keysAndValues, "claim", typed.Claim)
	}

	if oerrors.IsInternalCode(err) {
		s.logger.Error(err, "token introspection failed", keysAndValues...)
		return
	}
	s.logger.V(1).Info("token inactive", append(keysAndValues, "reason", err.Error())...)
}

func (s *Service) safeVerify(ctx context.Context, request oauth.IntrospectionRequest, stage *Stage) (response oauth.IntrospectionResponse, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			response = oauth.Inactive()
			err = oerrors.New(oerrors.CodeUnknown, fmt.Sprintf("introspection panicked: %v", recovered))
		}
	}()

	return s.verify(ctx, request, stage)
}

func (s *Service) verify(ctx context.Context, request oauth.IntrospectionRequest, stage *Stage) (oauth.IntrospectionResponse, error) {
	*stage = StageReceived
	if strings.TrimSpace(request.Token) == "" {
		return oauth.Inactive(), oerrors.New(oerrors.CodeMalformedToken, "token is empty")
	}

	decoded, err := token.Decode(request.Token)
	if err != nil {
		return oauth.Inactive(), err
	}
	*stage = StageDecoded

	if s.keySupply == nil {
		return oauth.Inactive(), oerrors.Wrap(oerrors.CodeKeyUnavailable, "no key supply configured", oerrors.ErrMissingKeySupply)
	}
	key, err := s.keySupply.CurrentKey(ctx)
	if err != nil {
		return oauth.Inactive(), oerrors.Wrap(oerrors.CodeKeyUnavailable, "verification key unavailable", err)
	}

	if err := s.signatures.Validate(decoded, key); err != nil {
		return oauth.Inactive(), err
	}
	*stage = StageSignatureChecked

	verified, err := s.claims.Validate(decoded.Claims, token.VerificationContext{
		Issuer:    s.issuer,
		Key:       key,
		ClientID:  request.ClientID,
		Audiences: s.audiences,
		Now:       s.now(),
	})
	if err != nil {
		return oauth.Inactive(), err
	}
	*stage = StageClaimsChecked

	if s.revocation == nil {
		return oauth.Inactive(), oerrors.New(oerrors.CodeStorageUnavailable, "token store is not configured")
	}
	if err := s.revocation.Check(ctx, decoded.Raw); err != nil {
		return oauth.Inactive(), err
	}
	*stage = StageRevocationChecked

	return s.activeResponse(verified), nil
}

func (s *Service) activeResponse(verified token.VerifiedClaims) oauth.IntrospectionResponse {
	return oauth.IntrospectionResponse{
		Active:    true,
		TokenType: oauth.TokenTypeAccessToken,
		Exp:       verified.ExpiresAt,
		Iat:       verified.IssuedAt,
		Nbf:       verified.NotBefore,
		Iss:       s.issuer,
		Scope:     verified.Scope,
		Audience:  append([]string(nil), verified.Audience...),
	}
}
