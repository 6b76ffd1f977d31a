package client

import (
	"context"
	"fmt"

	"github.com/konnektr-io/twx-cli/config"
	"github.com/konnektr-io/twx-cli/pkg/logging"
)

// Open builds the backend for a configured connection. The secret is the
// bearer token for adt connections and the password for neo4j; age
// connections carry credentials in the endpoint connection string, so the
// secret is ignored there.
func Open(ctx context.Context, conn *config.Connection, secret string, log logging.Logger) (Backend, error) {
	if conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if err := conn.Validate(); err != nil {
		return nil, fmt.Errorf("invalid connection %q: %w", conn.Name, err)
	}

	switch conn.Kind {
	case config.KindADT:
		tlsConfig, err := LoadTLSConfig(conn.TLS)
		if err != nil {
			return nil, fmt.Errorf("connection %q: %w", conn.Name, err)
		}
		return NewRESTBackend(RESTOptions{
			Endpoint: conn.Endpoint,
			Token:    secret,
			TLS:      tlsConfig,
			Logger:   log,
		})
	case config.KindAGE:
		return NewAGEBackend(ctx, AGEOptions{
			ConnString: conn.Endpoint,
			Graph:      conn.Graph,
			Logger:     log,
		})
	case config.KindNeo4j:
		return NewNeo4jBackend(ctx, Neo4jOptions{
			URI:      conn.Endpoint,
			Username: conn.Username,
			Password: secret,
			Database: conn.Database,
			Logger:   log,
		})
	default:
		return nil, fmt.Errorf("unsupported connection kind %q", conn.Kind)
	}
}
