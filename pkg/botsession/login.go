// Copyright 2024-2026 Aiku AI

package botsession

import (
	"context"
	"errors"
	"fmt"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"
)

var ErrNoCredentials = errors.New("botsession: no token or username configured")

// Credentials selects how the relay account logs in. A personal access token
// takes precedence over username and password.
type Credentials struct {
	ServerURL string `yaml:"server_url"`
	Token     string `yaml:"token"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

// Login authenticates against the server and returns a connected session.
func Login(ctx context.Context, creds Credentials, log zerolog.Logger) (*MattermostSession, error) {
	if creds.ServerURL == "" {
		return nil, errors.New("botsession: server_url is required")
	}
	client := model.NewAPIv4Client(creds.ServerURL)
	switch {
	case creds.Token != "":
		client.SetToken(creds.Token)
	case creds.Username != "":
		// Login stores the session token on the client.
		if _, resp, err := client.Login(ctx, creds.Username, creds.Password); err != nil {
			return nil, wrapErr("log in as "+creds.Username, resp, err)
		}
	default:
		return nil, ErrNoCredentials
	}

	session := NewMattermostSession(client, log)
	if err := session.Connect(ctx); err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}
	return session, nil
}
