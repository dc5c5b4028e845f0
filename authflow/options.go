package authflow

import (
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/text/language"
)

// Option defines a common functional options type
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil {
			continue
		}
		o(opts)
	}
}

// WithNow provides an optional func for determining what the current time it
// is. Supported by: TokenRecord validation, TokenStore, TokenExchange.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if now == nil {
			return
		}
		switch v := o.(type) {
		case *tokenOptions:
			v.withNowFunc = now
		case *tokenStoreOptions:
			v.withNowFunc = now
		case *exchangeOptions:
			v.withNowFunc = now
		}
	}
}

// WithLogger provides an optional hclog.Logger. Supported by: TokenStore,
// ConfigCache, AuthorizationFlow, TokenExchange, Session.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if l == nil {
			return
		}
		switch v := o.(type) {
		case *tokenStoreOptions:
			v.withLogger = l
		case *configCacheOptions:
			v.withLogger = l
		case *flowOptions:
			v.withLogger = l
		case *exchangeOptions:
			v.withLogger = l
		case *sessionOptions:
			v.withLogger = l
		}
	}
}

// WithUILocales provides an optional list of language tags, ordered by
// preference, which are added to the authorization request as the
// ui_locales parameter.
func WithUILocales(locales ...language.Tag) Option {
	return func(o interface{}) {
		if v, ok := o.(*reqOptions); ok {
			v.withUILocales = locales
		}
	}
}
