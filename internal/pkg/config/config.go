package config

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
	"golang.org/x/crypto/bcrypt"
)

const (
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	minSigningKeyLen = 32
)

type Config struct {
	Port            string        `env:"PORT,             default=8080"`
	Env             string        `env:"ENV,              default=development"`
	LogLevel        string        `env:"LOG_LEVEL,        default=info"`
	LogPretty       bool          `env:"LOG_PRETTY,       default=false"`
	StoreDriver     string        `env:"STORE_DRIVER,     default=mongo"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT, default=10s"`

	Token    TokenConfig
	Accounts AccountsConfig
	Password PasswordConfig
	Mongo    MongoConfig
	Postgres PostgresConfig
	Redis    RedisConfig
}

// TokenConfig holds the access-token signing settings.
type TokenConfig struct {
	Secret   string        `env:"JWT_SECRET"`
	Issuer   string        `env:"JWT_ISSUER,   default=account-service"`
	Audience string        `env:"JWT_AUDIENCE, default=account-service-clients"`
	Lifetime time.Duration `env:"JWT_LIFETIME, default=2376h"`
}

type AccountsConfig struct {
	// DefaultRole is granted to every new identity.
	DefaultRole string `env:"DEFAULT_ROLE, default=ROLE_MODERATOR"`
	// BootstrapRoles are created if missing but never granted automatically.
	BootstrapRoles []string `env:"BOOTSTRAP_ROLES, default=ROLE_ADMIN"`
	// ListUsersRoles restricts the user listing to these roles; empty means
	// any authenticated caller.
	ListUsersRoles []string `env:"LIST_USERS_ROLES"`
}

type PasswordConfig struct {
	MinLength     int  `env:"PASSWORD_MIN_LENGTH,     default=6"`
	RequireDigit  bool `env:"PASSWORD_REQUIRE_DIGIT,  default=true"`
	RequireLower  bool `env:"PASSWORD_REQUIRE_LOWER,  default=true"`
	RequireUpper  bool `env:"PASSWORD_REQUIRE_UPPER,  default=true"`
	RequireSymbol bool `env:"PASSWORD_REQUIRE_SYMBOL, default=false"`
	BcryptCost    int  `env:"BCRYPT_COST,             default=10"`
}

type MongoConfig struct {
	URI      string `env:"MONGO_URI, default=mongodb://localhost:27017"`
	Database string `env:"MONGO_DB,  default=account_service"`
}

type PostgresConfig struct {
	DSN          string `env:"POSTGRES_DSN"`
	MaxOpenConns int    `env:"POSTGRES_MAX_OPEN_CONNS, default=10"`
}

type RedisConfig struct {
	// Addr left empty disables the role cache.
	Addr         string        `env:"REDIS_ADDR"`
	Password     string        `env:"REDIS_PASSWORD"`
	DB           int           `env:"REDIS_DB,       default=0"`
	RoleCacheTTL time.Duration `env:"ROLE_CACHE_TTL, default=10m"`
	KeyPrefix    string        `env:"REDIS_KEY_PREFIX, default=account-service"`
}

// Load reads configuration from environment variables using go-envconfig
// and validates it.
func Load(ctx context.Context) (*Config, error) {
	return load(ctx, envconfig.OsLookuper())
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Token.Secret) < minSigningKeyLen {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d bytes", minSigningKeyLen))
	}
	if c.Token.Lifetime <= 0 {
		errs = append(errs, errors.New("JWT_LIFETIME must be positive"))
	}
	if strings.TrimSpace(c.Accounts.DefaultRole) == "" {
		errs = append(errs, errors.New("DEFAULT_ROLE must not be empty"))
	}
	if c.Password.BcryptCost < bcrypt.MinCost || c.Password.BcryptCost > bcrypt.MaxCost {
		errs = append(errs, fmt.Errorf("BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost))
	}

	switch c.StoreDriver {
	case StoreMongo, StoreMemory:
	case StorePostgres:
		if c.Postgres.DSN == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required when STORE_DRIVER=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// RoleCacheNamespace scopes cached role ids to the store they were read from,
// so a cache shared across databases never hands out another store's ids.
// The in-memory store gets no namespace and should run without the cache.
func (c *Config) RoleCacheNamespace() string {
	var target string
	switch c.StoreDriver {
	case StoreMongo:
		target = c.Mongo.URI + "/" + c.Mongo.Database
	case StorePostgres:
		target = c.Postgres.DSN
	default:
		return ""
	}

	h := fnv.New32a()
	h.Write([]byte(target))
	return fmt.Sprintf("%s:%s:%08x", c.Redis.KeyPrefix, c.StoreDriver, h.Sum32())
}
