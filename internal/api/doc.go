// Package api performs authenticated requests against the Spotify Web API.
//
// A [Client] presents the session's live access token. When the provider answers
// 401 and a refresh token is stored, the client refreshes once and repeats the
// request once; any other outcome, including a second 401, is handed back as is.
package api
