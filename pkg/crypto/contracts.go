package crypto

import "errors"

var (
	ErrEmptyToken = errors.New("fingerprint: token is empty")
)

// Fingerprinter maps a raw token to the stable key tokens are stored and
// cached under, so raw token values never sit at rest.
type Fingerprinter interface {
	Fingerprint(token string) (string, error)
}
