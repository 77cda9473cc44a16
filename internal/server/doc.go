// Package server provides HTTP routing, middleware, and the pieces that let the auth flow run behind a web page.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation uses [http.ServeMux] method patterns.
//
// # Sessions
//
// [Sessions] gives every browser a UUID in a cookie. [Flows] turns that id into an auth controller and
// API client over the session's storage scope, sharing one refresh group so concurrent 401s in a session
// trigger a single refresh.
//
// # Locations
//
// The controller navigates through an auth.Location. A page load gets a [RequestLocation], which records
// navigation for the handler to render; the CLI uses auth.BrowserLocation and a [CallbackHandler] that
// serves the redirect URI once and reports on a channel.
package server
