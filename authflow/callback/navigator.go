package callback

import (
	"net/http"
	"sync"
)

// Navigator performs navigation by writing a 303 redirect to the
// response. The first assignment wins: navigation ends the page's
// execution context, so later calls are ignored.
type Navigator struct {
	w   http.ResponseWriter
	req *http.Request

	mu       sync.Mutex
	assigned string
}

// NewNavigator creates a Navigator for one request/response pair.
func NewNavigator(w http.ResponseWriter, req *http.Request) *Navigator {
	return &Navigator{w: w, req: req}
}

// Assign navigates to the given URL, once.
func (n *Navigator) Assign(url string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.assigned != "" {
		return
	}
	n.assigned = url
	http.Redirect(n.w, n.req, url, http.StatusSeeOther)
}

// Assigned returns the URL navigated to, or "" when no navigation has
// happened.
func (n *Navigator) Assigned() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.assigned
}
