// authdemo is a small relying-party application demonstrating the
// authflow session lifecycle: a home page with sign-in, sign-out and
// refresh actions, and the designated redirect route the identity
// provider sends the browser back to.
package main

import (
	"context"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-hclog"

	"github.com/oauthkit/authsession/authflow"
	"github.com/oauthkit/authsession/authflow/callback"
)

type appConfig struct {
	Issuer      string `env:"AUTH_ISSUER" envDefault:"https://accounts.google.com"`
	ClientID    string `env:"AUTH_CLIENT_ID,required"`
	RedirectURL string `env:"AUTH_REDIRECT_URL" envDefault:"http://localhost:8000/token"`
	Listen      string `env:"AUTH_LISTEN" envDefault:"localhost:8000"`
	StatePath   string `env:"AUTH_STATE_PATH"`
}

var homeTemplate = template.Must(template.New("home").Parse(`<!DOCTYPE html>
<html>
<body>
<form method="POST" action="/signin"><button>Login</button></form>
<form method="POST" action="/signout"><button>Logout</button></form>
<form method="POST" action="/refresh"><button>Refresh Token</button></form>
<div>
<div><strong>Logged In</strong>: {{.Authorized}}</div>
<div><strong>Has refresh token</strong>: {{.HasRefresh}}</div>
</div>
</body>
</html>`))

func main() {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "authdemo",
		Level: hclog.Debug,
	})

	if err := run(logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(logger hclog.Logger) error {
	ctx := context.Background()

	var cfg appConfig
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("parsing environment: %w", err)
	}
	if cfg.StatePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolving home directory: %w", err)
		}
		cfg.StatePath = filepath.Join(home, ".authdemo", "state.db")
	}

	clientConfig, err := authflow.NewConfig(cfg.Issuer, cfg.ClientID, cfg.RedirectURL)
	if err != nil {
		return err
	}
	storage, err := authflow.OpenBoltStorage(cfg.StatePath)
	if err != nil {
		return err
	}
	defer storage.Close()

	session, err := authflow.NewSession(clientConfig, storage, authflow.WithLogger(logger))
	if err != nil {
		return err
	}
	redirectHandler, err := authflow.NewRedirectHandler(session, "/token", "/")
	if err != nil {
		return err
	}
	tokenRoute, err := callback.RedirectEntry(ctx, redirectHandler, nil)
	if err != nil {
		return err
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)

	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		token := session.GetToken()
		data := struct {
			Authorized bool
			HasRefresh bool
		}{
			Authorized: session.IsAuthorizedUser(),
			HasRefresh: token.HasRefreshToken(),
		}
		_ = homeTemplate.Execute(w, data)
	})
	r.Post("/signin", func(w http.ResponseWriter, req *http.Request) {
		nav := callback.NewNavigator(w, req)
		_ = session.SignIn(ctx, nav)
		nav.Assign("/")
	})
	r.Post("/signout", func(w http.ResponseWriter, req *http.Request) {
		_ = session.SignOut(ctx)
		http.Redirect(w, req, "/", http.StatusSeeOther)
	})
	r.Post("/refresh", func(w http.ResponseWriter, req *http.Request) {
		_ = session.RefreshToken(ctx)
		http.Redirect(w, req, "/", http.StatusSeeOther)
	})
	r.Get("/ensure", func(w http.ResponseWriter, req *http.Request) {
		nav := callback.NewNavigator(w, req)
		_ = session.EnsureAuthenticated(ctx, nav)
		nav.Assign("/")
	})
	r.Get("/token", tokenRoute)
	r.Post("/token", tokenRoute)

	logger.Info("listening", "addr", cfg.Listen, "issuer", cfg.Issuer)
	return http.ListenAndServe(cfg.Listen, r)
}
