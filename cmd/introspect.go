package cmd

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"github.com/spf13/cobra"

	introspection "github.com/porthorian/openauth-introspection"
	ocrypto "github.com/porthorian/openauth-introspection/pkg/crypto"
	"github.com/porthorian/openauth-introspection/pkg/protocol/oauth"
)

var errTokenInactive = errors.New("token is not active")

type introspectConfig struct {
	Issuer            string
	ClientID          string
	Audiences         []string
	TrustedAlgorithms []string
	Leeway            time.Duration
	Hint              string

	KeyStore     string
	KeyFile      string
	KeyID        string
	KeyAlgorithm string

	Storage     string
	DatabaseURL string
	Pepper      string

	Cache          string
	RedisAddress   string
	RedisNamespace string

	Verbosity    int
	FailInactive bool
}

func init() {
	rootCmd.AddCommand(newIntrospectCommand())
}

func newIntrospectCommand() *cobra.Command {
	cfg := introspectConfig{}

	introspectCmd := &cobra.Command{
		Use:   "introspect <token|->",
		Short: "Introspect an access token and print the RFC 7662 response",
		Long: "Introspect an access token against the configured issuer, key store and token store.\n" +
			"Pass - to read the token from stdin. Inactive tokens print {\"active\":false}.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := readTokenArg(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}

			config, err := cfg.clientConfig(newCLILogger(cmd.ErrOrStderr(), cfg.Verbosity))
			if err != nil {
				return err
			}

			client, err := introspection.NewDefault(config)
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := client.Close(); closeErr != nil {
					cmd.PrintErrf("warning: failed to close introspection client cleanly: %v\n", closeErr)
				}
			}()

			response := client.Introspect(cmd.Context(), oauth.IntrospectionRequest{
				Token:         token,
				TokenTypeHint: oauth.TokenTypeHint(cfg.Hint),
				ClientID:      firstNonEmpty(cfg.ClientID, "OPENAUTH_CLIENT_ID"),
			})

			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(response); err != nil {
				return fmt.Errorf("encode introspection response: %w", err)
			}

			if cfg.FailInactive && !response.Active {
				return errTokenInactive
			}
			return nil
		},
	}

	flags := introspectCmd.Flags()
	flags.StringVar(&cfg.Issuer, "issuer", "", "Expected token issuer. Can also be set via OPENAUTH_ISSUER.")
	flags.StringVar(&cfg.ClientID, "client-id", "", "Identity of the introspecting client, accepted as audience. Can also be set via OPENAUTH_CLIENT_ID.")
	flags.StringSliceVar(&cfg.Audiences, "audience", nil, "Additional accepted audience. Repeatable.")
	flags.StringSliceVar(&cfg.TrustedAlgorithms, "alg", nil, "Trusted signing algorithm. Repeatable. Defaults to RS256.")
	flags.DurationVar(&cfg.Leeway, "leeway", 0, "Clock skew tolerated on exp and nbf.")
	flags.StringVar(&cfg.Hint, "token-type-hint", string(oauth.TokenTypeHintAccessToken), "RFC 7662 token_type_hint.")
	flags.StringVar(&cfg.KeyStore, "keystore", "", "Key store backend: pem or jwks. Can also be set via OPENAUTH_KEYSTORE. Defaults to pem.")
	flags.StringVar(&cfg.KeyFile, "key-file", "", "PEM public key or JWK Set file. Can also be set via OPENAUTH_KEY_FILE.")
	flags.StringVar(&cfg.KeyID, "key-id", "", "Key ID to select or require. Can also be set via OPENAUTH_KEY_ID.")
	flags.StringVar(&cfg.KeyAlgorithm, "key-alg", "", "Algorithm pinned to a PEM key.")
	flags.StringVar(&cfg.Storage, "storage", "", "Token store backend: postgres, memory or none. Can also be set via OPENAUTH_STORAGE. Defaults to postgres.")
	flags.StringVar(&cfg.DatabaseURL, "database-url", "", "Postgres connection URL. Can also be set via OPENAUTH_DATABASE_URL.")
	flags.StringVar(&cfg.Pepper, "fingerprint-pepper", "", "HMAC pepper used when tokens were fingerprinted. Can also be set via OPENAUTH_FINGERPRINT_PEPPER.")
	flags.StringVar(&cfg.Cache, "cache", "", "Revocation cache backend: redis, memory or none. Can also be set via OPENAUTH_CACHE.")
	flags.StringVar(&cfg.RedisAddress, "redis-addr", "", "Redis address. Can also be set via OPENAUTH_REDIS_ADDR.")
	flags.StringVar(&cfg.RedisNamespace, "redis-namespace", "openauth", "Redis key namespace.")
	flags.IntVarP(&cfg.Verbosity, "verbosity", "v", 0, "Log verbosity written to stderr.")
	flags.BoolVar(&cfg.FailInactive, "fail-inactive", false, "Exit non-zero when the token is inactive.")

	return introspectCmd
}

func (c introspectConfig) clientConfig(logger logr.Logger) (introspection.Config, error) {
	issuer := firstNonEmpty(c.Issuer, "OPENAUTH_ISSUER")
	if issuer == "" {
		return introspection.Config{}, errors.New("missing issuer: set --issuer or OPENAUTH_ISSUER")
	}

	keyFile := firstNonEmpty(c.KeyFile, "OPENAUTH_KEY_FILE")
	if keyFile == "" {
		return introspection.Config{}, errors.New("missing key file: set --key-file or OPENAUTH_KEY_FILE")
	}

	keyStore := strings.ToLower(firstNonEmpty(c.KeyStore, "OPENAUTH_KEYSTORE"))
	if keyStore == "" {
		keyStore = string(introspection.KeyStoreBackendPEM)
	}

	storage := strings.ToLower(firstNonEmpty(c.Storage, "OPENAUTH_STORAGE"))
	if storage == "" {
		storage = string(introspection.StorageBackendPostgres)
	}

	runtime := introspection.RuntimeConfig{
		KeyStore: introspection.KeyStoreConfig{
			Backend:   introspection.KeyStoreBackend(keyStore),
			URI:       keyFile,
			KeyID:     firstNonEmpty(c.KeyID, "OPENAUTH_KEY_ID"),
			Algorithm: c.KeyAlgorithm,
		},
		Storage: introspection.StorageConfig{
			Backend: introspection.StorageBackend(storage),
		},
		Cache: introspection.CacheConfig{
			Backend: introspection.CacheBackend(strings.ToLower(firstNonEmpty(c.Cache, "OPENAUTH_CACHE"))),
			Redis: introspection.RedisCacheConfig{
				Address:   firstNonEmpty(c.RedisAddress, "OPENAUTH_REDIS_ADDR"),
				Namespace: c.RedisNamespace,
			},
		},
	}

	if runtime.Storage.Backend == introspection.StorageBackendPostgres {
		databaseURL := firstNonEmpty(c.DatabaseURL, "OPENAUTH_DATABASE_URL")
		if databaseURL == "" {
			return introspection.Config{}, errors.New("missing database URL: set --database-url or OPENAUTH_DATABASE_URL")
		}
		runtime.Storage.Postgres = introspection.PostgresConfig{DSN: databaseURL}
	}

	config := introspection.Config{
		Issuer:            issuer,
		TrustedAlgorithms: c.TrustedAlgorithms,
		Audiences:         c.Audiences,
		Leeway:            c.Leeway,
		Logger:            logger,
		Runtime:           runtime,
	}
	if pepper := firstNonEmpty(c.Pepper, "OPENAUTH_FINGERPRINT_PEPPER"); pepper != "" {
		config.Fingerprinter = ocrypto.NewSHA256Fingerprinter([]byte(pepper))
	}

	return config, nil
}

func readTokenArg(arg string, stdin io.Reader) (string, error) {
	if arg != "-" {
		return strings.TrimSpace(arg), nil
	}

	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read token from stdin: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func newCLILogger(w io.Writer, verbosity int) logr.Logger {
	return funcr.New(func(prefix, args string) {
		if prefix != "" {
			fmt.Fprintf(w, "%s: %s\n", prefix, args)
			return
		}
		fmt.Fprintln(w, args)
	}, funcr.Options{Verbosity: verbosity})
}
