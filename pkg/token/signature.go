package token

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
	oerrors "github.com/porthorian/openauth-introspection/pkg/errors"
	"github.com/porthorian/openauth-introspection/pkg/keys"
)

var (
	DefaultTrustedAlgorithms = []string{jwt.SigningMethodRS256.Alg()}
	DefaultExpectedTypes     = []string{"JWT"}
)

// SignatureValidator only ever trusts algorithms from its own allow-list.
// The token header merely selects among them.
type SignatureValidator struct {
	trustedAlgorithms map[string]struct{}
	expectedTypes     []string
}

func NewSignatureValidator(trustedAlgorithms []string, expectedTypes []string) *SignatureValidator {
	if len(trustedAlgorithms) == 0 {
		trustedAlgorithms = DefaultTrustedAlgorithms
	}
	if len(expectedTypes) == 0 {
		expectedTypes = DefaultExpectedTypes
	}

	trusted := make(map[string]struct{}, len(trustedAlgorithms))
	for _, alg := range trustedAlgorithms {
		alg = strings.TrimSpace(alg)
		if alg == "" || strings.EqualFold(alg, jwt.SigningMethodNone.Alg()) {
			continue
		}
		trusted[alg] = struct{}{}
	}

	return &SignatureValidator{
		trustedAlgorithms: trusted,
		expectedTypes:     append([]string(nil), expectedTypes...),
	}
}

func (v *SignatureValidator) Validate(decoded *DecodedToken, key keys.Key) error {
	if decoded == nil {
		return oerrors.New(oerrors.CodeMalformedToken, "token is nil")
	}

	if !v.typeExpected(decoded.Header.Type) {
		return oerrors.New(oerrors.CodeSignatureInvalid, "unexpected token type "+quote(decoded.Header.Type))
	}

	alg := decoded.Header.Algorithm
	if _, ok := v.trustedAlgorithms[alg]; !ok {
		return oerrors.New(oerrors.CodeAlgorithmNotTrusted, "algorithm "+quote(alg)+" is not trusted")
	}
	if key.Algorithm != "" && key.Algorithm != alg {
		return oerrors.New(oerrors.CodeAlgorithmNotTrusted, "algorithm "+quote(alg)+" does not match key algorithm "+quote(key.Algorithm))
	}

	method := jwt.GetSigningMethod(alg)
	if method == nil {
		return oerrors.New(oerrors.CodeAlgorithmNotTrusted, "algorithm "+quote(alg)+" is not supported")
	}

	if key.ID != "" && decoded.Header.KeyID != "" && key.ID != decoded.Header.KeyID {
		return oerrors.New(oerrors.CodeSignatureInvalid, "token key id "+quote(decoded.Header.KeyID)+" does not match current key")
	}
	if key.Material == nil {
		return oerrors.New(oerrors.CodeKeyUnavailable, "verification key has no material")
	}

	if err := method.Verify(decoded.SigningInput, decoded.Signature, key.Material); err != nil {
		return oerrors.Wrap(oerrors.CodeSignatureInvalid, "signature verification failed", err)
	}
	return nil
}

func (v *SignatureValidator) typeExpected(typ string) bool {
	for _, expected := range v.expectedTypes {
		if strings.EqualFold(typ, expected) {
			return true
		}
	}
	return false
}

func quote(value string) string {
	return `"` + value + `"`
}
