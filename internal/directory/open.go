package directory

import (
	"fmt"
	"time"

	"github.com/vnatgroup/wabridge/internal/config"
)

// Open builds the Directory selected by config, wrapping it with the Redis
// read-through cache when an address is configured.
func Open(cfg config.DirectoryConfig) (Directory, error) {
	var (
		dir Directory
		err error
	)

	switch cfg.Backend {
	case "postgres":
		dir, err = OpenPostgres(cfg.PostgresDSN)
	case "sqlite":
		dir, err = OpenSQLite(config.ExpandHome(cfg.SQLitePath))
	case "memory":
		dir = NewMemory()
	default:
		return nil, fmt.Errorf("unknown directory backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	if cfg.RedisAddr != "" {
		dir = NewRedisCache(dir, cfg.RedisAddr, cfg.RedisPassword,
			time.Duration(cfg.RedisCacheTTLSec)*time.Second)
	}
	return dir, nil
}
