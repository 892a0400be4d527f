package token

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	oerrors "github.com/porthorian/openauth-introspection/pkg/errors"
)

var decodeParser = jwt.NewParser(jwt.WithJSONNumber())

// Decode splits and decodes raw without verifying anything. An unknown alg
// still decodes; rejecting it is the signature validator's job.
func Decode(raw string) (*DecodedToken, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, oerrors.New(oerrors.CodeMalformedToken, "token is empty")
	}

	claims := jwt.MapClaims{}
	parsed, parts, err := decodeParser.ParseUnverified(raw, claims)
	if err != nil && !(errors.Is(err, jwt.ErrTokenUnverifiable) && parsed != nil && len(parts) == 3) {
		return nil, oerrors.Wrap(oerrors.CodeMalformedToken, "token could not be decoded", err)
	}

	signature, err := decodeParser.DecodeSegment(parts[2])
	if err != nil {
		return nil, oerrors.Wrap(oerrors.CodeMalformedToken, "token signature could not be decoded", err)
	}
	if len(signature) == 0 {
		return nil, oerrors.New(oerrors.CodeMalformedToken, "token signature is empty")
	}

	return &DecodedToken{
		Raw: raw,
		Header: Header{
			Algorithm: headerString(parsed.Header, "alg"),
			Type:      headerString(parsed.Header, "typ"),
			KeyID:     headerString(parsed.Header, "kid"),
		},
		Claims:       Claims(claims),
		Signature:    signature,
		SigningInput: parts[0] + "." + parts[1],
	}, nil
}

func headerString(header map[string]any, name string) string {
	value, _ := header[name].(string)
	return value
}
