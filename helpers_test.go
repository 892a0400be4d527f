package introspection

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/porthorian/openauth-introspection/pkg/keys"
	"github.com/porthorian/openauth-introspection/pkg/storage"
	memorystore "github.com/porthorian/openauth-introspection/pkg/storage/memory"
)

const (
	testIssuer   = "https://idp.example"
	testClientID = "client1"
	testNow      = int64(1700000000)
)

var (
	testKeysOnce sync.Once
	testKey      *rsa.PrivateKey
	rotatedKey   *rsa.PrivateKey
	testECKey    *ecdsa.PrivateKey
)

type testingT interface {
	require.TestingT
	Helper()
}

func signingKeys(t testingT) (*rsa.PrivateKey, *rsa.PrivateKey, *ecdsa.PrivateKey) {
	t.Helper()
	testKeysOnce.Do(func() {
		var err error
		if testKey, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
			panic(err)
		}
		if rotatedKey, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
			panic(err)
		}
		if testECKey, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader); err != nil {
			panic(err)
		}
	})
	return testKey, rotatedKey, testECKey
}

func testClock() time.Time {
	return time.Unix(testNow, 0).UTC()
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"iss":   testIssuer,
		"aud":   testClientID,
		"exp":   testNow + 3600,
		"iat":   testNow - 60,
		"scope": "read write",
	}
}

func sign(t testingT, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return raw
}

func signRS256(t testingT, claims jwt.MapClaims) string {
	t.Helper()
	priv, _, _ := signingKeys(t)
	return sign(t, jwt.SigningMethodRS256, priv, claims)
}

// issue signs claims and records the token in store.
func issue(t *testing.T, store storage.TokenWriter, claims jwt.MapClaims, revoked bool) string {
	t.Helper()
	raw := signRS256(t, claims)
	require.NoError(t, store.PutToken(context.Background(), raw, storage.TokenRecord{
		ClientID: testClientID,
		Revoked:  revoked,
	}))
	return raw
}

type fixture struct {
	store  *memorystore.Store
	config Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	priv, _, _ := signingKeys(t)
	store := memorystore.NewStore()
	return &fixture{
		store: store,
		config: Config{
			Issuer:     testIssuer,
			KeySupply:  keys.NewStaticSupplier(keys.Key{Material: &priv.PublicKey}),
			TokenStore: store,
			Clock:      testClock,
		},
	}
}

func (f *fixture) service() *Service {
	return NewService(f.config)
}

type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// captureLogger records every line up to verbosity 2.
func captureLogger() (logr.Logger, *logBuffer) {
	out := &logBuffer{}
	logger := funcr.New(func(prefix, args string) {
		out.mu.Lock()
		defer out.mu.Unlock()
		out.buf.WriteString(args)
		out.buf.WriteByte('\n')
	}, funcr.Options{Verbosity: 2})
	return logger, out
}
