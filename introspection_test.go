package introspection

import (
	"context"
	"crypto/x509"
	"database/sql"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	oerrors "github.com/porthorian/openauth-introspection/pkg/errors"
	"github.com/porthorian/openauth-introspection/pkg/protocol/oauth"
	"github.com/porthorian/openauth-introspection/pkg/storage"
)

func writePublicKeyPEM(t *testing.T) string {
	t.Helper()
	priv, _, _ := signingKeys(t)
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "issuer.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), 0o600))
	return path
}

func TestNewDefaultRequiresKeySupplyAndIssuer(t *testing.T) {
	_, err := NewDefault(Config{Issuer: testIssuer})
	assert.ErrorIs(t, err, oerrors.ErrMissingKeySupply)

	f := newFixture(t)
	f.config.Issuer = ""
	_, err = NewDefault(f.config)
	assert.ErrorIs(t, err, oerrors.ErrMissingIssuer)
}

func TestNewRequiresIntrospector(t *testing.T) {
	_, err := New(nil, Config{})
	assert.ErrorIs(t, err, oerrors.ErrMissingIntrospector)
}

func TestNewWrapsCustomIntrospector(t *testing.T) {
	f := newFixture(t)
	raw := issue(t, f.store, validClaims(), false)

	client, err := New(f.service(), Config{})
	require.NoError(t, err)

	assert.True(t, client.Introspect(context.Background(), oauth.IntrospectionRequest{Token: raw, ClientID: testClientID}).Active)
}

func TestClientIntrospectAndClose(t *testing.T) {
	f := newFixture(t)
	raw := issue(t, f.store, validClaims(), false)

	client, err := NewDefault(f.config)
	require.NoError(t, err)

	request := oauth.IntrospectionRequest{Token: raw, ClientID: testClientID}
	assert.True(t, client.Introspect(context.Background(), request).Active)

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())
	assert.Equal(t, oauth.Inactive(), client.Introspect(context.Background(), request))

	var nilClient *Client
	assert.Equal(t, oauth.Inactive(), nilClient.Introspect(context.Background(), request))
	assert.NoError(t, nilClient.Close())
}

func TestClientCloseReportsResourceErrors(t *testing.T) {
	client := &Client{closeResource: func() error { return errors.New("close failed") }}

	err := client.Close()
	assert.True(t, oerrors.IsCode(err, oerrors.CodeUnknown))
}

func TestRuntimePEMKeyStore(t *testing.T) {
	f := newFixture(t)
	raw := issue(t, f.store, validClaims(), false)
	f.config.KeySupply = nil
	f.config.Runtime.KeyStore = KeyStoreConfig{Backend: KeyStoreBackendPEM, URI: writePublicKeyPEM(t)}

	client, err := NewDefault(f.config)
	require.NoError(t, err)
	defer client.Close()

	assert.True(t, client.Introspect(context.Background(), oauth.IntrospectionRequest{Token: raw, ClientID: testClientID}).Active)
}

func TestRuntimeKeyStoreErrors(t *testing.T) {
	cases := map[string]KeyStoreConfig{
		"unsupported backend": {Backend: "vault", URI: "x"},
		"missing uri":         {Backend: KeyStoreBackendPEM},
		"missing pem file":    {Backend: KeyStoreBackendPEM, URI: filepath.Join(t.TempDir(), "absent.pem")},
		"missing jwks file":   {Backend: KeyStoreBackendJWKS, URI: filepath.Join(t.TempDir(), "absent.json")},
	}

	for name, keyStore := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := Config{Runtime: RuntimeConfig{KeyStore: keyStore}}.initialize(context.Background())
			assert.Error(t, err)
		})
	}
}

func TestRuntimeMemoryBackends(t *testing.T) {
	closeResource, config, err := Config{
		Runtime: RuntimeConfig{
			Storage: StorageConfig{Backend: StorageBackendMemory},
			Cache:   CacheConfig{Backend: CacheBackendMemory},
		},
	}.initialize(context.Background())
	require.NoError(t, err)
	defer closeResource()

	assert.NotNil(t, config.TokenStore)
	assert.NotNil(t, config.RevocationCache)
	assert.NotNil(t, config.Logger.GetSink())

	writer, ok := config.TokenStore.(storage.TokenWriter)
	require.True(t, ok)
	require.NoError(t, writer.PutToken(context.Background(), "abc", storage.TokenRecord{}))
	_, found, err := config.TokenStore.LookupToken(context.Background(), "abc")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestRuntimeKeepsExplicitCollaborators(t *testing.T) {
	f := newFixture(t)
	f.config.Runtime.Storage = StorageConfig{Backend: StorageBackendPostgres, Postgres: PostgresConfig{
		DSN: "postgres://unused",
		OpenDB: func(driverName string, dsn string) (*sql.DB, error) {
			t.Fatal("postgres must not be opened when a token store is supplied")
			return nil, nil
		},
	}}

	closeResource, config, err := f.config.initialize(context.Background())
	require.NoError(t, err)
	defer closeResource()
	assert.Same(t, f.store, config.TokenStore)
}

func TestRuntimeConfigErrors(t *testing.T) {
	cases := map[string]RuntimeConfig{
		"unsupported storage":  {Storage: StorageConfig{Backend: "sqlite"}},
		"postgres without dsn": {Storage: StorageConfig{Backend: StorageBackendPostgres}},
		"unsupported cache":    {Cache: CacheConfig{Backend: "memcached"}},
		"redis without addr":   {Cache: CacheConfig{Backend: CacheBackendRedis}},
	}

	for name, runtime := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := Config{Runtime: runtime}.initialize(context.Background())
			assert.Error(t, err)
		})
	}
}

func TestRuntimePostgresOpenFailure(t *testing.T) {
	_, _, err := Config{Runtime: RuntimeConfig{Storage: StorageConfig{
		Backend: StorageBackendPostgres,
		Postgres: PostgresConfig{
			DSN: "postgres://localhost/openauth",
			OpenDB: func(driverName string, dsn string) (*sql.DB, error) {
				assert.Equal(t, "pgx", driverName)
				return nil, errors.New("dial refused")
			},
		},
	}}}.initialize(context.Background())

	assert.ErrorContains(t, err, "dial refused")
}

func TestJoinClosersRunsInReverse(t *testing.T) {
	var order []int
	closer := joinClosers(
		func() error { order = append(order, 1); return nil },
		nil,
		func() error { order = append(order, 3); return errors.New("three") },
	)

	err := closer()
	assert.EqualError(t, err, "three")
	assert.Equal(t, []int{3, 1}, order)
}
