// authsession manages the client side of an OAuth2/OpenID Connect
// authorization-code (with PKCE) sign-in lifecycle: dispatching the
// authorization redirect, capturing the provider's response, exchanging
// codes and refresh tokens, persisting the resulting token, and revoking
// it on sign-out.
//
// See the authflow package for the session, flow and storage types, and
// authflow/callback for the http glue.
package authsession
