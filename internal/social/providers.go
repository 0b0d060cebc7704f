package social

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/resource-watch/authentication-sub000/internal/config"
	"github.com/resource-watch/authentication-sub000/internal/identity"
)

const appleIssuer = "https://appleid.apple.com"

// CallbackURL returns the redirect URI registered with provider.
func CallbackURL(publicURL string, provider identity.Provider) string {
	return strings.TrimRight(publicURL, "/") + "/auth/" + string(provider) + "/callback"
}

// AdaptersFromConfig builds an adapter for every provider with credentials.
// A provider whose discovery fails is skipped and logged so one outage does
// not take down the other logins.
func AdaptersFromConfig(ctx context.Context, cfg *config.Config, logger zerolog.Logger) []Adapter {
	client := &http.Client{Timeout: cfg.HTTPClientTimeout}
	var adapters []Adapter

	oidcProviders := []OIDCConfig{
		{
			Provider:     identity.ProviderGoogle,
			IssuerURL:    "https://accounts.google.com",
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
		},
		{
			Provider:     identity.ProviderApple,
			IssuerURL:    appleIssuer,
			ClientID:     cfg.AppleClientID,
			ClientSecret: cfg.AppleClientSecret,
			Scopes:       []string{"openid", "name", "email"},
			AuthParams:   map[string]string{"response_mode": "form_post"},
		},
		{
			Provider:     identity.ProviderOkta,
			IssuerURL:    cfg.OktaURL,
			ClientID:     cfg.OktaClientID,
			ClientSecret: cfg.OktaClientSecret,
		},
	}
	for _, oc := range oidcProviders {
		if oc.ClientID == "" || oc.ClientSecret == "" || oc.IssuerURL == "" {
			continue
		}
		oc.RedirectURL = CallbackURL(cfg.PublicURL, oc.Provider)
		oc.HTTPClient = client
		a, err := NewOIDCAdapter(ctx, oc)
		if err != nil {
			logger.Error().Err(err).Str("provider", string(oc.Provider)).Msg("social provider disabled")
			continue
		}
		adapters = append(adapters, a)
	}

	if cfg.FacebookClientID != "" && cfg.FacebookClientSecret != "" {
		adapters = append(adapters, NewFacebookAdapter(OAuthConfig{
			ClientID:     cfg.FacebookClientID,
			ClientSecret: cfg.FacebookClientSecret,
			RedirectURL:  CallbackURL(cfg.PublicURL, identity.ProviderFacebook),
			HTTPClient:   client,
		}))
	}
	if cfg.TwitterClientID != "" && cfg.TwitterClientSecret != "" {
		adapters = append(adapters, NewTwitterAdapter(OAuthConfig{
			ClientID:     cfg.TwitterClientID,
			ClientSecret: cfg.TwitterClientSecret,
			RedirectURL:  CallbackURL(cfg.PublicURL, identity.ProviderTwitter),
			HTTPClient:   client,
		}))
	}

	for _, a := range adapters {
		logger.Info().Str("provider", string(a.Provider())).Msg("social provider enabled")
	}
	return adapters
}
