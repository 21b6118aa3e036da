// Package connections resolves connection references into authenticated
// HTTP clients for step calls.
package connections

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fluxway/fluxway/pkg/models"
	"github.com/fluxway/fluxway/pkg/persistence"
)

// ErrCredentialUnavailable marks connections whose stored credentials are
// missing or incomplete. Step failures caused by it are not retryable.
var ErrCredentialUnavailable = errors.New("connection credentials unavailable")

func IsCredentialUnavailable(err error) bool {
	return errors.Is(err, ErrCredentialUnavailable)
}

// Endpoint is a resolved connection: a base URL plus a client that
// injects the connection's authentication on every request.
type Endpoint struct {
	BaseURL string
	Client  *http.Client
}

type Resolver interface {
	Resolve(ctx context.Context, connectionID string) (*Endpoint, error)
}

type StoreResolver struct {
	connections persistence.ConnectionRepository
	timeout     time.Duration
}

func NewStoreResolver(connections persistence.ConnectionRepository) *StoreResolver {
	return &StoreResolver{
		connections: connections,
		timeout:     0, // per-step timeouts come from the request context
	}
}

func (r *StoreResolver) Resolve(ctx context.Context, connectionID string) (*Endpoint, error) {
	connection, err := r.connections.ConnectionByID(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load connection %s: %w", connectionID, err)
	}

	transport, err := newAuthTransport(connection)
	if err != nil {
		return nil, err
	}

	return &Endpoint{
		BaseURL: connection.BaseURL,
		Client: &http.Client{
			Transport: transport,
			Timeout:   r.timeout,
		},
	}, nil
}

type authTransport struct {
	base  http.RoundTripper
	apply func(req *http.Request)
}

func newAuthTransport(connection *models.Connection) (*authTransport, error) {
	transport := &authTransport{base: http.DefaultTransport}

	switch connection.Type {
	case models.ConnectionTypeNone:
		transport.apply = func(*http.Request) {}
	case models.ConnectionTypeAPIKey:
		key := connection.Credentials["key"]
		if key == "" {
			return nil, fmt.Errorf("connection %s: missing api key: %w", connection.ID, ErrCredentialUnavailable)
		}

		header := connection.Credentials["header"]
		if header == "" {
			header = "X-API-Key"
		}

		transport.apply = func(req *http.Request) {
			req.Header.Set(header, key)
		}
	case models.ConnectionTypeBearer:
		token := connection.Credentials["token"]
		if token == "" {
			return nil, fmt.Errorf("connection %s: missing bearer token: %w", connection.ID, ErrCredentialUnavailable)
		}

		transport.apply = func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	case models.ConnectionTypeBasic:
		username := connection.Credentials["username"]
		password := connection.Credentials["password"]

		if username == "" {
			return nil, fmt.Errorf("connection %s: missing basic auth username: %w", connection.ID, ErrCredentialUnavailable)
		}

		transport.apply = func(req *http.Request) {
			req.SetBasicAuth(username, password)
		}
	default:
		return nil, fmt.Errorf("connection %s: unknown type %q: %w", connection.ID, connection.Type, ErrCredentialUnavailable)
	}

	return transport, nil
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone so retried requests never share mutated headers.
	cloned := req.Clone(req.Context())
	t.apply(cloned)

	return t.base.RoundTrip(cloned)
}
