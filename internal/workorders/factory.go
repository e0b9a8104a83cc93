package workorders

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Backend names accepted by NewReader.
const (
	SourceSQL  = "sql"
	SourceREST = "rest"
)

// ErrNoDatabase is returned for the SQL backend when no pool is available.
var ErrNoDatabase = errors.New("work order SQL source requires a database connection")

// Options selects and configures the work order backend.
type Options struct {
	Source string
	APIURL string
	APIKey string
}

// NewReader builds the backend named by opts.Source. An empty source means
// SQL, matching the plant's default deployment.
func NewReader(opts Options, pool *pgxpool.Pool, logger *slog.Logger) (Reader, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Source)) {
	case "", SourceSQL:
		if pool == nil {
			return nil, ErrNoDatabase
		}
		return NewSQLReader(pool), nil
	case SourceREST:
		r, err := NewRESTReader(RESTConfig{BaseURL: opts.APIURL, APIKey: opts.APIKey, Logger: logger})
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown work order source %q", opts.Source)
	}
}
