package callback

import (
	"context"
	"net/http"
	"net/url"

	"github.com/oauthkit/authsession/authflow"
)

// ErrorResponseFunc is used by RedirectEntry to create a response when
// handling the entry fails. The function should use the
// http.ResponseWriter to send back whatever content it wishes to the
// client that originated the flow.
type ErrorResponseFunc func(e error, w http.ResponseWriter, req *http.Request)

// capturePage submits location.hash back to the redirect path as a POST,
// making the fragment visible to the server. An absent hash submits an
// empty fragment.
const capturePage = `<!DOCTYPE html>
<html>
<body>
<form id="f" method="POST">
<input type="hidden" name="fragment" id="fragment" value="">
</form>
<script>
document.getElementById("fragment").value = window.location.hash.slice(1);
document.getElementById("f").action = window.location.pathname;
document.getElementById("f").submit();
</script>
</body>
</html>`

// RedirectEntry creates the http handler for the application's
// designated redirect path, delegating the flow decisions to the given
// authflow.RedirectHandler.
//
// The ErrorResponseFunc is used to create a response when handling
// fails.
func RedirectEntry(ctx context.Context, h *authflow.RedirectHandler, eFn ErrorResponseFunc) (http.HandlerFunc, error) {
	const op = "callback.RedirectEntry"
	if h == nil {
		return nil, authflow.ErrNilParameter
	}
	if eFn == nil {
		eFn = func(e error, w http.ResponseWriter, req *http.Request) {
			http.Error(w, e.Error(), http.StatusInternalServerError)
		}
	}
	return func(w http.ResponseWriter, req *http.Request) {
		switch {
		case req.Method == http.MethodGet && req.URL.RawQuery != "":
			// query-string leg: the normalization step rewrites to the
			// fragment-based URL and the browser comes back without a query
			loc := &url.URL{Path: req.URL.Path, RawQuery: req.URL.RawQuery}
			nav := NewNavigator(w, req)
			if err := h.Handle(ctx, loc, nav); err != nil {
				eFn(err, w, req)
			}
		case req.Method == http.MethodGet:
			// fragment leg: the fragment never reaches the server, serve
			// the capture page which posts it back
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(capturePage))
		case req.Method == http.MethodPost:
			if err := req.ParseForm(); err != nil {
				eFn(err, w, req)
				return
			}
			loc := &url.URL{Path: req.URL.Path, Fragment: req.PostFormValue("fragment")}
			nav := NewNavigator(w, req)
			if err := h.Handle(ctx, loc, nav); err != nil {
				eFn(err, w, req)
			}
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}, nil
}
