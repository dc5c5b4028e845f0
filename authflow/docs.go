/*
authflow manages the lifecycle of an OAuth2/OpenID Connect
authorization-code (with PKCE) flow for a single-page style client:
initiating sign-in, capturing the authorization response via redirect,
exchanging an authorization code or refresh token for an access token,
persisting that token, validating its freshness, and revoking it on
sign-out.

Primary types provided by the package

  - TokenRecord: the persisted result of a successful token exchange,
    with its validity rules (required fields plus unexpired lifetime).

  - Storage / TokenStore: the client-side persistence seam and the
    component that owns the token's storage key. MemStorage and
    BoltStorage are provided.

  - Config / ConfigCache: the static client configuration and the
    in-memory cache of the provider's discovered ServiceConfiguration.

  - AuthRequest / AuthorizationFlow: one outbound authorization request
    (state + PKCE verifier) and the component that dispatches it via a
    Navigator and later completes it from the redirect response. A
    completion is produced exactly once per authorization: the persisted
    pending request is consumed when it is read.

  - TokenExchange: code and refresh-token exchanges against the token
    endpoint, plus RFC 7009 revocation.

  - Session: the orchestrator coordinating all of the above, exposing
    SignIn, SignOut, RefreshToken, IsAuthorizedUser, GetToken and
    CheckForAuthorizationResponse to the UI and routing layers.

  - RedirectHandler: the route handler for the designated redirect path,
    dispatching on an explicit Disposition (needs-normalization /
    has-authorization-response / no-response-present).

The package also provides a TestProvider: a local https server
implementing discovery, authorization, token and revocation endpoints
for tests.
*/
package authflow
