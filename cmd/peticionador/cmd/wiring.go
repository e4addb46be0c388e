package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/forolabs/peticionador/captcha"
	"github.com/forolabs/peticionador/credential"
	bboltcreds "github.com/forolabs/peticionador/credential/bbolt"
	memorycreds "github.com/forolabs/peticionador/credential/memory"
	postgrescreds "github.com/forolabs/peticionador/credential/postgres"
	"github.com/forolabs/peticionador/events"
	"github.com/forolabs/peticionador/queue"
	memoryq "github.com/forolabs/peticionador/queue/memory"
	"github.com/forolabs/peticionador/vault"
)

// passphraseEnv holds the vault passphrase. It is never accepted as a flag
// so it cannot leak through process listings or shell history.
const passphraseEnv = "PETICIONADOR_PASSPHRASE"

var (
	redisAddr       string
	dataDir         string
	credentialStore string
	postgresDSN     string
	captchaURL      string
	captchaKey      string
	serviceTimeout  time.Duration
	manualTimeout   time.Duration
	noManualCaptcha bool
)

func addInfraFlags(c *cobra.Command) {
	c.Flags().StringVar(&redisAddr, "redis-addr", "", "Redis address for the queue and event bus (empty runs in-memory)")
	c.Flags().StringVar(&dataDir, "data-dir", "./data", "Directory for persistent data")
	c.Flags().StringVar(&credentialStore, "credential-store", "bbolt", "Credential storage backend: memory, bbolt or postgres")
	c.Flags().StringVar(&postgresDSN, "postgres-dsn", "", "PostgreSQL DSN for the credential store")
	c.Flags().StringVar(&captchaURL, "captcha-url", "", "Captcha solving service base URL")
	c.Flags().StringVar(&captchaKey, "captcha-api-key", "", "Captcha solving service API key")
	c.Flags().DurationVar(&serviceTimeout, "captcha-service-timeout", time.Minute, "Bound on one automatic solving attempt")
	c.Flags().DurationVar(&manualTimeout, "manual-captcha-timeout", 2*time.Minute, "How long to wait for a human captcha answer")
	c.Flags().BoolVar(&noManualCaptcha, "no-manual-captcha", false, "Disable the manual captcha fallback")
}

// infra bundles the backing services both commands run on.
type infra struct {
	creds  *credential.Service
	jobs   queue.Queue
	bus    events.Bus
	solver *captcha.Solver
	rdb    *redis.Client // nil when running in-memory

	closers []func()
}

func (i *infra) close() {
	for n := len(i.closers) - 1; n >= 0; n-- {
		i.closers[n]()
	}
}

func buildInfra(ctx context.Context) (*infra, error) {
	passphrase := os.Getenv(passphraseEnv)
	if passphrase == "" {
		return nil, fmt.Errorf("%s environment variable is not set", passphraseEnv)
	}
	v, err := vault.New(passphrase)
	if err != nil {
		return nil, fmt.Errorf("initializing vault: %w", err)
	}

	i := &infra{}

	repo, err := buildCredentialRepo(ctx, i)
	if err != nil {
		i.close()
		return nil, err
	}
	i.creds = credential.NewService(repo, v)

	if redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			i.close()
			return nil, fmt.Errorf("connecting to redis at %s: %w", redisAddr, err)
		}
		i.closers = append(i.closers, func() { rdb.Close() })
		i.rdb = rdb

		bus := events.NewRedisBus(rdb)
		i.closers = append(i.closers, bus.Close)
		i.bus = bus
		i.jobs = queue.NewRedisQueue(rdb, queue.DefaultRetention())
	} else {
		i.bus = events.NewMemoryBus()
		i.jobs = memoryq.New()
	}

	var provider captcha.Provider
	if captchaURL != "" {
		provider = captcha.NewHTTPProvider(captchaURL, captchaKey)
	}
	i.solver = captcha.NewSolver(provider, i.bus, captcha.Config{
		ServiceTimeout:   serviceTimeout,
		FallbackToManual: !noManualCaptcha,
		ManualTimeout:    manualTimeout,
	})
	i.closers = append(i.closers, i.solver.Close)

	return i, nil
}

func buildCredentialRepo(ctx context.Context, i *infra) (credential.Repository, error) {
	switch credentialStore {
	case "memory":
		return memorycreds.NewRepository(), nil
	case "bbolt":
		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		store, err := bboltcreds.NewRepositoryFromFile(dataDir+"/credentials.db", nil)
		if err != nil {
			return nil, fmt.Errorf("opening credential store: %w", err)
		}
		i.closers = append(i.closers, func() { store.Close() })
		return store, nil
	case "postgres":
		if postgresDSN == "" {
			return nil, fmt.Errorf("--postgres-dsn is required with --credential-store=postgres")
		}
		store, err := postgrescreds.NewRepositoryFromDSN(ctx, postgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		i.closers = append(i.closers, store.Close)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown credential store %q", credentialStore)
	}
}
