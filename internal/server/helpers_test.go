package server

import "github.com/desertthunder/eighttrack/internal/tokens"

func tokensFor(access string) tokens.TokenResponse {
	return tokens.TokenResponse{AccessToken: access, ExpiresIn: 3600}
}
