package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"marketplace-gateway/internal/config"
	"marketplace-gateway/internal/errs"
	"marketplace-gateway/internal/model"
	"marketplace-gateway/internal/util"
)

// Client talks to a GoTrue-compatible identity provider over HTTP. Ordinary
// calls carry the public anon key; admin and role lookups carry the service
// key. Every call is bounded by the client timeout; a timed-out call is a
// failed call.
type Client struct {
	baseURL    string
	anonKey    string
	serviceKey string
	refreshTTL time.Duration
	httpClient *http.Client
}

var _ Provider = (*Client)(nil)

func NewClient(cfg *config.Config) *Client {
	identity := cfg.Identity
	return &Client{
		baseURL:    identity.BaseURL,
		anonKey:    identity.AnonKey,
		serviceKey: identity.ServiceKey,
		refreshTTL: identity.RefreshTTL,
		httpClient: &http.Client{Timeout: identity.Timeout},
	}
}

type tokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int       `json:"expires_in"`
	User         *UserInfo `json:"user"`
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, *UserInfo, error) {
	body := map[string]string{"email": email, "password": password}

	var resp tokenResponse
	status, err := c.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=password", c.anonKey, "", body, &resp)
	if err != nil {
		return nil, nil, err
	}
	switch {
	case status == http.StatusOK:
	case status == http.StatusBadRequest, status == http.StatusUnauthorized:
		return nil, nil, fmt.Errorf("%w: invalid credentials", errs.ErrAuthentication)
	default:
		return nil, nil, fmt.Errorf("%w: identity provider returned %d on sign-in", errs.ErrInternal, status)
	}
	if resp.User == nil {
		return nil, nil, fmt.Errorf("%w: sign-in response missing user", errs.ErrInternal)
	}

	return c.sessionFromToken(&resp, resp.User.ID), resp.User, nil
}

func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*model.Session, error) {
	body := map[string]string{"refresh_token": refreshToken}

	var resp tokenResponse
	status, err := c.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=refresh_token", c.anonKey, "", body, &resp)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusOK:
	case status == http.StatusBadRequest, status == http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: invalid refresh token", errs.ErrAuthentication)
	default:
		return nil, fmt.Errorf("%w: identity provider returned %d on refresh", errs.ErrInternal, status)
	}

	userID := ""
	if resp.User != nil {
		userID = resp.User.ID
	}
	return c.sessionFromToken(&resp, userID), nil
}

func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	status, err := c.do(ctx, http.MethodPost, "/auth/v1/logout", c.anonKey, accessToken, nil, nil)
	if err != nil {
		return err
	}
	if status != http.StatusNoContent && status != http.StatusOK {
		return fmt.Errorf("%w: identity provider returned %d on sign-out", errs.ErrInternal, status)
	}
	return nil
}

func (c *Client) UserFromToken(ctx context.Context, accessToken string) (*UserInfo, error) {
	var user UserInfo
	status, err := c.do(ctx, http.MethodGet, "/auth/v1/user", c.anonKey, accessToken, nil, &user)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
		return &user, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("%w: invalid access token", errs.ErrAuthentication)
	default:
		return nil, fmt.Errorf("%w: identity provider returned %d on user lookup", errs.ErrInternal, status)
	}
}

func (c *Client) VerifyFactor(ctx context.Context, accessToken, factorID, code string) error {
	var challenge struct {
		ID string `json:"id"`
	}
	path := fmt.Sprintf("/auth/v1/factors/%s/challenge", url.PathEscape(factorID))
	status, err := c.do(ctx, http.MethodPost, path, c.anonKey, accessToken, map[string]string{}, &challenge)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return fmt.Errorf("%w: identity provider returned %d on factor challenge", errs.ErrInternal, status)
	}

	body := map[string]string{"challenge_id": challenge.ID, "code": code}
	path = fmt.Sprintf("/auth/v1/factors/%s/verify", url.PathEscape(factorID))
	status, err = c.do(ctx, http.MethodPost, path, c.anonKey, accessToken, body, nil)
	if err != nil {
		return err
	}
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusBadRequest, status == http.StatusUnauthorized, status == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: second factor rejected", errs.ErrAuthentication)
	default:
		return fmt.Errorf("%w: identity provider returned %d on factor verify", errs.ErrInternal, status)
	}
}

func (c *Client) AdminUserByEmail(ctx context.Context, email string) (*UserInfo, error) {
	var resp struct {
		Users []UserInfo `json:"users"`
	}
	path := "/auth/v1/admin/users?email=" + url.QueryEscape(email)
	status, err := c.do(ctx, http.MethodGet, path, c.serviceKey, c.serviceKey, nil, &resp)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: identity provider returned %d on admin user lookup", errs.ErrInternal, status)
	}
	for i := range resp.Users {
		if resp.Users[i].Email == email {
			return &resp.Users[i], nil
		}
	}
	return nil, fmt.Errorf("%w: no account for email", errs.ErrNotFound)
}

func (c *Client) AdminUpdatePassword(ctx context.Context, userID, newPassword string) error {
	body := map[string]string{"password": newPassword}
	path := "/auth/v1/admin/users/" + url.PathEscape(userID)
	status, err := c.do(ctx, http.MethodPut, path, c.serviceKey, c.serviceKey, body, nil)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("%w: no account for user", errs.ErrNotFound)
	default:
		return fmt.Errorf("%w: identity provider returned %d on password update", errs.ErrInternal, status)
	}
}

func (c *Client) RoleRecord(ctx context.Context, userID string) (*model.RoleRecord, error) {
	var rows []model.RoleRecord
	path := "/rest/v1/profiles?select=id,email,name,role,email_verified&id=eq." + url.QueryEscape(userID)
	status, err := c.do(ctx, http.MethodGet, path, c.serviceKey, c.serviceKey, nil, &rows)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: identity provider returned %d on role lookup", errs.ErrInternal, status)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no role record for user", errs.ErrNotFound)
	}
	return &rows[0], nil
}

func (c *Client) sessionFromToken(resp *tokenResponse, userID string) *model.Session {
	now := time.Now().UTC()
	return &model.Session{
		UserID:           userID,
		AccessToken:      resp.AccessToken,
		RefreshToken:     resp.RefreshToken,
		AccessExpiresAt:  now.Add(time.Duration(resp.ExpiresIn) * time.Second),
		RefreshExpiresAt: now.Add(c.refreshTTL),
	}
}

// do executes one provider call. apiKey goes into the apikey header; the
// bearer token, when present, into Authorization. out may be nil when the
// response body is irrelevant.
func (c *Client) do(ctx context.Context, method, path, apiKey, bearer string, body, out interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("%w: failed to encode request: %v", errs.ErrInternal, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to build request: %v", errs.ErrInternal, err)
	}
	req.Header.Set("apikey", apiKey)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		util.Error("Identity provider call failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err))
		return 0, fmt.Errorf("%w: identity provider unreachable: %v", errs.ErrInternal, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < http.StatusMultipleChoices {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			return resp.StatusCode, fmt.Errorf("%w: failed to decode response: %v", errs.ErrInternal, err)
		}
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}

	return resp.StatusCode, nil
}
