package database

import (
	"fmt"
	"net/url"

	"github.com/rickgao/bfx-stream/internal/config"
)

// BuildConnString builds a PostgreSQL connection URL from config.
// Credentials are escaped by net/url.
func BuildConnString(cfg config.DBConfig, application string) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = config.DefaultDBSSLMode
	}

	query := url.Values{}
	query.Set("sslmode", sslMode)
	if application != "" {
		query.Set("application_name", application)
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:     "/" + cfg.Name,
		RawQuery: query.Encode(),
	}
	return u.String()
}
