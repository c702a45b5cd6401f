package database

import (
	"net"
	"net/url"
	"strconv"

	"github.com/quantfeed/corpus-data/internal/config"
)

// BuildConnString renders the store DSN in URL form. Userinfo is
// escaped so passwords may carry reserved characters.
func BuildConnString(cfg config.DBConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.Name,
		RawQuery: url.Values{"sslmode": {sslMode}}.Encode(),
	}
	return u.String()
}
