package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// credentialResponse is the wire shape shared by login and refresh.
type credentialResponse struct {
	Token          string    `json:"token"`
	RefreshToken   string    `json:"refreshToken"`
	TokenExpiresAt time.Time `json:"tokenExpiresAt"`
}

// asToken converts the wire credential to the stored oauth2.Token shape.
func (r credentialResponse) asToken() (*oauth2.Token, error) {
	if r.Token == "" || r.RefreshToken == "" {
		return nil, fmt.Errorf("api: credential response missing token fields")
	}

	return &oauth2.Token{
		AccessToken:  r.Token,
		RefreshToken: r.RefreshToken,
		Expiry:       r.TokenExpiresAt,
	}, nil
}

// loginRequest is the login payload.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// refreshRequest is the credential refresh payload.
type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// profileResponse carries the display fields cached into token metadata.
type profileResponse struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

// Login exchanges email and password for a credential. Unauthenticated.
func (c *Client) Login(ctx context.Context, email, password string) (*oauth2.Token, error) {
	var out credentialResponse

	body := loginRequest{Email: email, Password: password}
	if err := c.doUnauthedJSON(ctx, "/auth/login", body, &out); err != nil {
		return nil, err
	}

	return out.asToken()
}

// Refresh exchanges a refresh token for a new credential. A 401/403 here
// means the refresh token itself is invalid (CredentialInvalid returns
// true for the error) and the caller must force a logout.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	var out credentialResponse

	body := refreshRequest{RefreshToken: refreshToken}
	if err := c.doUnauthedJSON(ctx, "/auth/refresh", body, &out); err != nil {
		return nil, err
	}

	return out.asToken()
}

// Profile fetches the user profile. It doubles as the session-liveness
// probe: any 2xx means the credential is valid, 401 means expired.
func (c *Client) Profile(ctx context.Context) (map[string]string, error) {
	var out profileResponse
	if err := c.doJSON(ctx, http.MethodGet, "/auth/profile", nil, &out); err != nil {
		return nil, err
	}

	meta := map[string]string{}
	if out.Email != "" {
		meta["email"] = out.Email
	}

	if out.DisplayName != "" {
		meta["display_name"] = out.DisplayName
	}

	return meta, nil
}

// doUnauthedJSON posts a JSON body without a bearer token and decodes the
// JSON response. Auth endpoints must not require the very credential they
// issue.
func (c *Client) doUnauthedJSON(ctx context.Context, path string, body, out any) error {
	payload, err := jsonMarshal(body)
	if err != nil {
		return err
	}

	resp, err := c.do(ctx, http.MethodPost, path, payload, "application/json", false)
	if err != nil {
		return err
	}

	defer resp.Body.Close()

	return decodeJSON(resp, path, out)
}
