package backend

import (
	"context"
	"time"
)

// User is an account known to the identity service.
type User struct {
	ID        string  `json:"id"`
	Email     string  `json:"email"`
	FirstName string  `json:"firstName"`
	LastName  string  `json:"lastName"`
	Phone     string  `json:"phone,omitempty"`
	Address   Address `json:"address"`
}

// Session is an authenticated session.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      User      `json:"user"`
}

// RegisterRequest creates an account.
type RegisterRequest struct {
	Email     string  `json:"email"`
	Password  string  `json:"password"`
	FirstName string  `json:"firstName"`
	LastName  string  `json:"lastName"`
	Phone     string  `json:"phone,omitempty"`
	Address   Address `json:"address"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login exchanges credentials for a session.
func (c *Client) Login(ctx context.Context, email, password string) (Session, error) {
	var session Session
	err := c.post(ctx, "/auth/login", loginRequest{Email: email, Password: password}, &session, requestOptions{})
	return session, err
}

// Register creates an account and returns it.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (User, error) {
	var user User
	err := c.post(ctx, "/auth/register", req, &user, requestOptions{})
	return user, err
}

// ResolveSession returns the user behind token.
func (c *Client) ResolveSession(ctx context.Context, token string) (User, error) {
	var user User
	err := c.get(ctx, "/auth/session", &user, requestOptions{bearer: token})
	return user, err
}
