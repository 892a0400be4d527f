package oauth

import (
	"context"
	"encoding/json"
)

type TokenTypeHint string

const (
	TokenTypeHintAccessToken  TokenTypeHint = "access_token"
	TokenTypeHintRefreshToken TokenTypeHint = "refresh_token"
)

// TokenTypeAccessToken is the token_type reported for active tokens.
const TokenTypeAccessToken = "access_token"

type IntrospectionRequest struct {
	Token         string
	TokenTypeHint TokenTypeHint
	// ClientID is the introspecting caller as authenticated by the endpoint
	// layer. It scopes audience validation.
	ClientID string
}

// IntrospectionResponse is the RFC 7662 response body. Only Active is
// meaningful when the token is inactive, and only Active is serialized.
// Iat and Nbf are zero when the token does not carry them.
type IntrospectionResponse struct {
	Active    bool
	TokenType string
	Exp       int64
	Iat       int64
	Nbf       int64
	Iss       string
	Scope     string
	Audience  []string
}

type Introspector interface {
	Introspect(ctx context.Context, request IntrospectionRequest) IntrospectionResponse
}

type inactiveBody struct {
	Active bool `json:"active"`
}

type activeBody struct {
	Active    bool   `json:"active"`
	TokenType string `json:"token_type"`
	Exp       int64  `json:"exp"`
	Iat       int64  `json:"iat,omitempty"`
	Nbf       int64  `json:"nbf,omitempty"`
	Iss       string `json:"iss"`
	Scope     string `json:"scope"`
	Aud       any    `json:"aud"`
}

func Inactive() IntrospectionResponse {
	return IntrospectionResponse{}
}

func (r IntrospectionResponse) MarshalJSON() ([]byte, error) {
	if !r.Active {
		return json.Marshal(inactiveBody{})
	}

	var aud any = r.Audience
	if len(r.Audience) == 1 {
		aud = r.Audience[0]
	} else if r.Audience == nil {
		aud = []string{}
	}

	return json.Marshal(activeBody{
		Active:    true,
		TokenType: r.TokenType,
		Exp:       r.Exp,
		Iat:       r.Iat,
		Nbf:       r.Nbf,
		Iss:       r.Iss,
		Scope:     r.Scope,
		Aud:       aud,
	})
}

func (r *IntrospectionResponse) UnmarshalJSON(data []byte) error {
	var body struct {
		Active    bool            `json:"active"`
		TokenType string          `json:"token_type"`
		Exp       int64           `json:"exp"`
		Iat       int64           `json:"iat"`
		Nbf       int64           `json:"nbf"`
		Iss       string          `json:"iss"`
		Scope     string          `json:"scope"`
		Aud       json.RawMessage `json:"aud"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return err
	}

	if !body.Active {
		*r = Inactive()
		return nil
	}

	var audience []string
	if len(body.Aud) > 0 && string(body.Aud) != "null" {
		var single string
		if err := json.Unmarshal(body.Aud, &single); err == nil {
			audience = []string{single}
		} else if err := json.Unmarshal(body.Aud, &audience); err != nil {
			return err
		}
	}

	*r = IntrospectionResponse{
		Active:    true,
		TokenType: body.TokenType,
		Exp:       body.Exp,
		Iat:       body.Iat,
		Nbf:       body.Nbf,
		Iss:       body.Iss,
		Scope:     body.Scope,
		Audience:  audience,
	}
	return nil
}
