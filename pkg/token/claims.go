package token

import (
	"encoding/json"
	"math"
	"time"

	oerrors "github.com/porthorian/openauth-introspection/pkg/errors"
	"github.com/porthorian/openauth-introspection/pkg/keys"
)

// VerificationContext is fixed for one introspection call.
type VerificationContext struct {
	Issuer string
	Key    keys.Key
	// ClientID is the authenticated introspecting client.
	ClientID string
	// Audiences are accepted in addition to ClientID.
	Audiences []string
	Now       time.Time
}

type ClaimValidator struct {
	Leeway time.Duration
}

func NewClaimValidator(leeway time.Duration) *ClaimValidator {
	if leeway < 0 {
		leeway = 0
	}
	return &ClaimValidator{Leeway: leeway}
}

// Validate checks required claims, then issuer, audience and the
// nbf <= now <= exp window, in that order. The window is inclusive at both
// ends and evaluated in whole seconds.
func (v *ClaimValidator) Validate(claims Claims, vctx VerificationContext) (VerifiedClaims, error) {
	var verified VerifiedClaims

	exp, ok, err := numericClaim(claims, ClaimExpiresAt)
	if err != nil || !ok {
		return VerifiedClaims{}, missing(ClaimExpiresAt)
	}
	verified.ExpiresAt = exp

	scope, ok := claims[ClaimScope].(string)
	if !ok {
		return VerifiedClaims{}, missing(ClaimScope)
	}
	verified.Scope = scope

	audience, ok := audienceClaim(claims)
	if !ok {
		return VerifiedClaims{}, missing(ClaimAudience)
	}
	verified.Audience = audience

	iat, hasIat, err := numericClaim(claims, ClaimIssuedAt)
	if err != nil {
		return VerifiedClaims{}, missing(ClaimIssuedAt)
	}
	verified.IssuedAt, verified.HasIssuedAt = iat, hasIat

	nbf, hasNbf, err := numericClaim(claims, ClaimNotBefore)
	if err != nil {
		return VerifiedClaims{}, missing(ClaimNotBefore)
	}
	verified.NotBefore, verified.HasNotBefore = nbf, hasNbf

	issuer, _ := claims[ClaimIssuer].(string)
	if vctx.Issuer == "" || issuer != vctx.Issuer {
		return VerifiedClaims{}, oerrors.ForClaim(oerrors.CodeIssuerInvalid, ClaimIssuer, "issuer does not match")
	}
	verified.Issuer = issuer

	if !audienceAccepted(audience, vctx) {
		return VerifiedClaims{}, oerrors.ForClaim(oerrors.CodeAudienceInvalid, ClaimAudience, "no accepted audience")
	}

	now := vctx.Now
	if now.IsZero() {
		now = time.Now()
	}
	nowUnix := now.Unix()
	leeway := int64(v.Leeway / time.Second)

	// Leeway is applied to now only; token claims never take part in arithmetic.
	if exp < nowUnix-leeway {
		return VerifiedClaims{}, oerrors.ForClaim(oerrors.CodeExpired, ClaimExpiresAt, "token is expired")
	}
	if hasNbf && nbf > nowUnix+leeway {
		return VerifiedClaims{}, oerrors.ForClaim(oerrors.CodeNotYetValid, ClaimNotBefore, "token is not valid yet")
	}

	return verified, nil
}

func missing(claim string) error {
	return oerrors.ForClaim(oerrors.CodeClaimMissing, claim, "claim "+claim+" is missing or malformed")
}

func audienceAccepted(audience []string, vctx VerificationContext) bool {
	accepted := make(map[string]struct{}, len(vctx.Audiences)+1)
	if vctx.ClientID != "" {
		accepted[vctx.ClientID] = struct{}{}
	}
	for _, aud := range vctx.Audiences {
		if aud != "" {
			accepted[aud] = struct{}{}
		}
	}

	for _, aud := range audience {
		if _, ok := accepted[aud]; ok {
			return true
		}
	}
	return false
}

func audienceClaim(claims Claims) ([]string, bool) {
	switch aud := claims[ClaimAudience].(type) {
	case string:
		if aud == "" {
			return nil, false
		}
		return []string{aud}, true
	case []string:
		if len(aud) == 0 {
			return nil, false
		}
		return append([]string(nil), aud...), true
	case []any:
		if len(aud) == 0 {
			return nil, false
		}
		values := make([]string, 0, len(aud))
		for _, item := range aud {
			value, ok := item.(string)
			if !ok || value == "" {
				return nil, false
			}
			values = append(values, value)
		}
		return values, true
	default:
		return nil, false
	}
}

type claimTypeError struct {
	claim string
}

func (e *claimTypeError) Error() string {
	return "claim " + e.claim + " is not a number"
}

// numericClaim reads a NumericDate claim as whole seconds. Fractions are
// truncated toward zero.
func numericClaim(claims Claims, name string) (int64, bool, error) {
	raw, ok := claims[name]
	if !ok || raw == nil {
		return 0, false, nil
	}

	var value float64
	switch v := raw.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, true, nil
		}
		f, err := v.Float64()
		if err != nil {
			return 0, false, &claimTypeError{claim: name}
		}
		value = f
	case float64:
		value = v
	case int64:
		return v, true, nil
	case int:
		return int64(v), true, nil
	default:
		return 0, false, &claimTypeError{claim: name}
	}

	// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold.
	if math.IsNaN(value) || math.IsInf(value, 0) || value >= math.MaxInt64 || value < math.MinInt64 {
		return 0, false, &claimTypeError{claim: name}
	}
	return int64(value), true, nil
}
