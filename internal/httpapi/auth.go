package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"boardmarket/chatservice/internal/chat"
)

// Identity is the verified participant handed to the chat core at handshake.
type Identity struct {
	UserID string
	Role   chat.Role
}

// Authenticator extracts the verified identity from an upgrade request. The
// chat core never validates credentials itself; deployments sit behind a
// gateway that authenticates upstream and forwards the result.
type Authenticator interface {
	Authenticate(r *http.Request) (Identity, error)
}

// QueryAuthenticator trusts the user_id and user_type query parameters set by
// the upstream gateway after it verified the session.
type QueryAuthenticator struct{}

// Authenticate reads the forwarded identity from the request query.
func (QueryAuthenticator) Authenticate(r *http.Request) (Identity, error) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		return Identity{}, errors.New("missing user_id")
	}
	role, err := chat.ParseRole(strings.TrimSpace(r.URL.Query().Get("user_type")))
	if err != nil {
		return Identity{}, err
	}
	return Identity{UserID: userID, Role: role}, nil
}

// HeaderAuthenticator trusts identity headers stamped by a fronting proxy.
type HeaderAuthenticator struct {
	UserIDHeader string
	RoleHeader   string
}

// Authenticate reads the forwarded identity from proxy headers, falling back
// to the conventional X-Chat-User / X-Chat-Role names.
func (a HeaderAuthenticator) Authenticate(r *http.Request) (Identity, error) {
	userHeader := a.UserIDHeader
	if userHeader == "" {
		userHeader = "X-Chat-User"
	}
	roleHeader := a.RoleHeader
	if roleHeader == "" {
		roleHeader = "X-Chat-Role"
	}
	userID := strings.TrimSpace(r.Header.Get(userHeader))
	if userID == "" {
		return Identity{}, errors.New("missing identity header")
	}
	role, err := chat.ParseRole(strings.TrimSpace(r.Header.Get(roleHeader)))
	if err != nil {
		return Identity{}, err
	}
	return Identity{UserID: userID, Role: role}, nil
}
