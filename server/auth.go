package server

import "context"

// AuthenticatedUser is what a successful AuthProvider call resolves
// a token to.
type AuthenticatedUser struct {
	UserID      string
	DisplayName string
}

// AuthProvider authenticates an Auth{token} message. Implementations
// may hit a database or token service, hence the context.
type AuthProvider interface {
	Authenticate(ctx context.Context, token string) (AuthenticatedUser, error)
}

// AcceptAllAuthProvider authenticates every token, deriving a display
// name from the token itself. This is the default, matching a
// permissive demo posture suitable for local development.
type AcceptAllAuthProvider struct{}

func (AcceptAllAuthProvider) Authenticate(_ context.Context, token string) (AuthenticatedUser, error) {
	name := token
	if name == "" {
		name = "anonymous"
	}
	return AuthenticatedUser{UserID: token, DisplayName: name}, nil
}

// SimpleAuthProvider authenticates against a fixed, in-process table
// of token → user mappings, for local multi-user testing without a
// real identity provider.
type SimpleAuthProvider struct {
	users map[string]AuthenticatedUser
}

// NewSimpleAuthProvider builds a provider from a token → user table.
func NewSimpleAuthProvider(users map[string]AuthenticatedUser) *SimpleAuthProvider {
	return &SimpleAuthProvider{users: users}
}

func (p *SimpleAuthProvider) Authenticate(_ context.Context, token string) (AuthenticatedUser, error) {
	u, ok := p.users[token]
	if !ok {
		return AuthenticatedUser{}, &MessageError{Code: ErrCodeMessageError, Message: "unknown token"}
	}
	return u, nil
}
