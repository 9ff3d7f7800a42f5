package tokens

import (
	"context"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Claims carries the routing and expiry metadata embedded in a token.
// Audience is empty when the token carries no aud claim (refresh tokens
// are not required to name a target service).
type Claims struct {
	Audience  string
	ExpiresAt time.Time
}

// DecodeClaims reads the aud and exp claims of a serialized JWT without
// verifying its signature. The client never holds issuer key material; it
// only decodes tokens it just received from the issuing service over an
// authenticated channel, so transport-level trust stands in for signature
// verification here.
func DecodeClaims(raw string) (Claims, error) {
	tok, err := jwt.Parse([]byte(raw), jwt.WithVerify(false), jwt.WithValidate(false))
	if err != nil {
		return Claims{}, fmt.Errorf("tokens: decoding claims: %w", err)
	}

	c := Claims{ExpiresAt: tok.Expiration()}
	if aud := tok.Audience(); len(aud) > 0 {
		c.Audience = aud[0]
	}

	return c, nil
}

// DecodeClaimMap returns every claim of a serialized JWT as a map, again
// without signature verification. Used by `token inspect`.
func DecodeClaimMap(raw string) (map[string]any, error) {
	tok, err := jwt.Parse([]byte(raw), jwt.WithVerify(false), jwt.WithValidate(false))
	if err != nil {
		return nil, fmt.Errorf("tokens: decoding claims: %w", err)
	}

	m, err := tok.AsMap(context.Background())
	if err != nil {
		return nil, fmt.Errorf("tokens: flattening claims: %w", err)
	}

	return m, nil
}
