package cmd

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	introspection "github.com/porthorian/openauth-introspection"
)

func clearOpenAuthEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"OPENAUTH_ISSUER", "OPENAUTH_CLIENT_ID", "OPENAUTH_KEYSTORE", "OPENAUTH_KEY_FILE", "OPENAUTH_KEY_ID",
		"OPENAUTH_STORAGE", "OPENAUTH_DATABASE_URL", "OPENAUTH_FINGERPRINT_PEPPER", "OPENAUTH_CACHE", "OPENAUTH_REDIS_ADDR",
	} {
		t.Setenv(key, "")
	}
}

func writeKeyPair(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "issuer.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), 0o600))
	return priv, path
}

func runIntrospect(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	command := newIntrospectCommand()
	var stdout, stderr bytes.Buffer
	command.SetOut(&stdout)
	command.SetErr(&stderr)
	command.SetIn(strings.NewReader(stdin))
	command.SetArgs(args)

	err := command.Execute()
	return stdout.String(), stderr.String(), err
}

func TestIntrospectCommandPrintsInactiveResponse(t *testing.T) {
	clearOpenAuthEnv(t)
	priv, keyFile := writeKeyPair(t)
	raw, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":   "https://idp.example",
		"aud":   "client1",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"scope": "read",
	}).SignedString(priv)
	require.NoError(t, err)

	stdout, stderr, err := runIntrospect(t, raw+"\n",
		"-", "--issuer", "https://idp.example", "--client-id", "client1",
		"--key-file", keyFile, "--storage", "memory", "-v", "1",
	)
	require.NoError(t, err)

	assert.JSONEq(t, `{"active":false}`, stdout)
	assert.Contains(t, stderr, `"code"="not_found"`)
	assert.Contains(t, stderr, `"stage"="claims_checked"`)
}

func TestIntrospectCommandFailInactive(t *testing.T) {
	clearOpenAuthEnv(t)
	_, keyFile := writeKeyPair(t)
	t.Setenv("OPENAUTH_ISSUER", "https://idp.example")
	t.Setenv("OPENAUTH_KEY_FILE", keyFile)
	t.Setenv("OPENAUTH_STORAGE", "none")

	stdout, _, err := runIntrospect(t, "", "not-a-token", "--fail-inactive")
	assert.ErrorIs(t, err, errTokenInactive)
	assert.JSONEq(t, `{"active":false}`, stdout)
}

func TestIntrospectConfigValidation(t *testing.T) {
	clearOpenAuthEnv(t)

	_, err := introspectConfig{}.clientConfig(newCLILogger(&bytes.Buffer{}, 0))
	assert.ErrorContains(t, err, "missing issuer")

	_, err = introspectConfig{Issuer: "https://idp.example"}.clientConfig(newCLILogger(&bytes.Buffer{}, 0))
	assert.ErrorContains(t, err, "missing key file")

	_, err = introspectConfig{Issuer: "https://idp.example", KeyFile: "key.pem"}.clientConfig(newCLILogger(&bytes.Buffer{}, 0))
	assert.ErrorContains(t, err, "missing database URL")

	config, err := introspectConfig{
		Issuer:      "https://idp.example",
		KeyFile:     "keys.json",
		KeyStore:    "JWKS",
		DatabaseURL: "postgres://localhost/openauth",
		Pepper:      "pepper",
		Cache:       "redis",
	}.clientConfig(newCLILogger(&bytes.Buffer{}, 0))
	require.NoError(t, err)
	assert.Equal(t, introspection.KeyStoreBackendJWKS, config.Runtime.KeyStore.Backend)
	assert.Equal(t, "postgres://localhost/openauth", config.Runtime.Storage.Postgres.DSN)
	assert.Equal(t, introspection.CacheBackendRedis, config.Runtime.Cache.Backend)
	assert.NotNil(t, config.Fingerprinter)
}

func TestReadTokenArg(t *testing.T) {
	token, err := readTokenArg("  abc  ", strings.NewReader("ignored"))
	require.NoError(t, err)
	assert.Equal(t, "abc", token)

	token, err = readTokenArg("-", strings.NewReader("from-stdin"))
	require.NoError(t, err)
	assert.Equal(t, "from-stdin", token)
}
