// Package auth drives the OAuth2 Authorization Code flow with PKCE against Spotify.
//
// # Phases
//
// The [Controller] has no state field of its own. What phase a session is in is
// implied by its storage scope: a pending verifier means an authorization is in
// flight, a token bundle means the session is authenticated.
//
//  1. [Controller.Initiate] stores a fresh code verifier and sends the
//     browser to the authorize endpoint with the S256 challenge.
//  2. [Controller.CompleteFromRedirect] runs on every load of the redirect
//     page. Without a code it does nothing; with one it consumes the verifier,
//     exchanges the code and saves the tokens.
//  3. [Controller.Refresh] trades a refresh token for a new access token and
//     merges it into the stored bundle.
//
// # Browser capabilities
//
// The current page URL and navigation are behind [Location]; randomness, the
// clock and the HTTP transport are injected through [Options]. Nothing here
// reaches for process globals, so a controller can be built per request.
//
// # Errors
//
// Failures are returned, never logged and dropped:
//   - [ErrProviderDenied] : the redirect carried error=..., see [ProviderDeniedError]
//   - [ErrMissingVerifier] : a code arrived but no verifier is pending (other tab, cleared storage, replay)
//   - [ErrTokenExchangeFailed] / [ErrRefreshFailed] : non-2xx from the token endpoint, see [TokenError]
package auth
