package platform

import (
	"context"
	"net/http"
	"strings"

	"github.com/gregtusar/perpdesk/pkg/models"
)

func (c *Client) SignUp(ctx context.Context, req models.SignUpRequest) (*models.TokenPair, error) {
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return nil, validationError("email and password are required")
	}
	var out models.TokenPair
	if err := c.send(ctx, "auth.sign_up", http.MethodPost, "/api/Auth/sign-up", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Login(ctx context.Context, req models.LoginRequest) (*models.TokenPair, error) {
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return nil, validationError("email and password are required")
	}
	var out models.TokenPair
	if err := c.send(ctx, "auth.login", http.MethodPost, "/api/Auth/login", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Me(ctx context.Context) (*models.UserProfile, error) {
	var out models.UserProfile
	if err := c.send(ctx, "auth.me", http.MethodGet, "/api/Auth/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RefreshToken exchanges a refresh token for a new pair.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	if refreshToken == "" {
		return nil, validationError("refresh token is required")
	}
	var out models.TokenPair
	body := models.RefreshRequest{RefreshToken: refreshToken}
	if err := c.send(ctx, "auth.refresh", http.MethodPost, "/api/Auth/refresh-token", body, &out); err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, &APIError{Kind: KindAuth, Detail: "refresh response has no access token"}
	}
	return &out, nil
}
