package auth

import "github.com/desertthunder/eighttrack/internal/tokens"

func tokensResponse(access, refresh string, expiresIn int64) tokens.TokenResponse {
	return tokens.TokenResponse{AccessToken: access, RefreshToken: refresh, ExpiresIn: expiresIn}
}
