package auth

import (
	"context"
	"net/http"
)

type AuthEngine interface {

	// AuthenticateRequest inspects the given HTTP request for valid
	// authentication credentials. It returns false when the credentials are
	// missing or wrong, and an error only if the request could not be
	// processed.
	AuthenticateRequest(ctx context.Context, rq *http.Request) (bool, error)
}

// AllowAll accepts every request. It is used when no credentials are
// configured.
type AllowAll struct{}

func (AllowAll) AuthenticateRequest(context.Context, *http.Request) (bool, error) {
	return true, nil
}
