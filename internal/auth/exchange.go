package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

var ErrMissingCode = errors.New("no code received from GitHub")

// ExchangeConfig describes the OAuth application.
type ExchangeConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	// WebURL is the identity provider's web origin, e.g. https://github.com.
	WebURL string
	Scopes []string
}

// Exchanger swaps an authorization code for a bearer token.
type Exchanger struct {
	config     *oauth2.Config
	httpClient *http.Client
}

func NewExchanger(cfg ExchangeConfig) *Exchanger {
	webURL := strings.TrimRight(cfg.WebURL, "/")
	if webURL == "" {
		webURL = "https://github.com"
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"repo"}
	}
	return &Exchanger{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   webURL + "/login/oauth/authorize",
				TokenURL:  webURL + "/login/oauth/access_token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// AuthorizeURL is where the browser is sent to sign in.
func (e *Exchanger) AuthorizeURL(state string) string {
	return e.config.AuthCodeURL(state)
}

// Exchange returns the access token for code.
func (e *Exchanger) Exchange(ctx context.Context, code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", ErrMissingCode
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)
	token, err := e.config.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("exchange code: %w", err)
	}
	if token.AccessToken == "" {
		return "", errors.New("GitHub authentication failed")
	}
	return token.AccessToken, nil
}
