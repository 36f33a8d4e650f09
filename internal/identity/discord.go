package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

const (
	DefaultDiscordBaseURL = "https://discord.com/api"

	discordScope    = "identify"
	maxIdentityBody = 64 << 10
)

// Discord implements Provider against the Discord OAuth2 API.
type Discord struct {
	oauth   *oauth2.Config
	baseURL string
	client  *http.Client
}

type DiscordOption func(*Discord)

// WithBaseURL points the provider at another API root, such as a test server.
func WithBaseURL(base string) DiscordOption {
	return func(d *Discord) {
		if base != "" {
			d.baseURL = strings.TrimRight(base, "/")
		}
	}
}

func WithHTTPClient(client *http.Client) DiscordOption {
	return func(d *Discord) {
		if client != nil {
			d.client = client
		}
	}
}

type DiscordConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

func NewDiscord(cfg DiscordConfig, opts ...DiscordOption) (*Discord, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("discord client id is required")
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("discord client secret is required")
	}
	if cfg.RedirectURL == "" {
		return nil, fmt.Errorf("discord redirect url is required")
	}

	d := &Discord{baseURL: DefaultDiscordBaseURL, client: http.DefaultClient}
	for _, opt := range opts {
		opt(d)
	}
	d.oauth = &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       []string{discordScope},
		Endpoint: oauth2.Endpoint{
			AuthURL:   d.baseURL + "/oauth2/authorize",
			TokenURL:  d.baseURL + "/oauth2/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	return d, nil
}

func (d *Discord) AuthCodeURL(state string) string {
	return d.oauth.AuthCodeURL(state)
}

func (d *Discord) Exchange(ctx context.Context, code string) (*Identity, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, d.client)

	tok, err := d.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExchange, err)
	}
	return d.fetchIdentity(ctx, tok)
}

type discordUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

func (d *Discord) fetchIdentity(ctx context.Context, tok *oauth2.Token) (*Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/users/@me", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	tok.SetAuthHeader(req)
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrFetch, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxIdentityBody))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	var user discordUser
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("%w: decode user: %w", ErrFetch, err)
	}
	if user.ID == "" {
		return nil, fmt.Errorf("%w: user id missing", ErrFetch)
	}
	return &Identity{ID: user.ID, Username: user.Username}, nil
}
