/*
callback provides http glue for the authflow package: an http.HandlerFunc
for the application's designated redirect path, and a Navigator that
performs navigation by writing http redirects.

A server never sees a URL fragment, so the handler works in two legs.
A GET carrying a query string is handed to the RedirectHandler, whose
normalization step navigates to the fragment-based form of the URL. A GET
without a query string is answered with a small capture page that submits
location.hash back as a POST, which is then handed to the RedirectHandler
as the fragment of the current location. An empty posted fragment takes
the no-response-present path, so direct navigation to the redirect path
still resolves.
*/
package callback
