// Package token decodes compact JWS access tokens and validates their
// signature, structure and registered claims. Every failure is an
// *errors.Error carrying the code that explains it.
package token

type Header struct {
	Algorithm string
	Type      string
	KeyID     string
}

// Claims holds the decoded payload. Numbers are json.Number.
type Claims map[string]any

// DecodedToken is the untrusted view of a token. Nothing in it has been
// verified.
type DecodedToken struct {
	Raw          string
	Header       Header
	Claims       Claims
	Signature    []byte
	SigningInput string
}

// VerifiedClaims are the registered claims of a token that passed claim
// validation, in Unix seconds.
type VerifiedClaims struct {
	Issuer       string
	Audience     []string
	Scope        string
	ExpiresAt    int64
	IssuedAt     int64
	HasIssuedAt  bool
	NotBefore    int64
	HasNotBefore bool
}

const (
	ClaimIssuer    = "iss"
	ClaimAudience  = "aud"
	ClaimExpiresAt = "exp"
	ClaimNotBefore = "nbf"
	ClaimIssuedAt  = "iat"
	ClaimScope     = "scope"
)
