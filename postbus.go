// Package postbus is a namespaced message bus between two contexts, a host
// and the frame it controls, with correlated request/response on top of a
// fire-and-forget transport.
package postbus

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/RidgeA/postbus/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	ActionInitMicroApp = "INIT_MICRO_APP"
	ActionUnloadOpener = "UNLOAD_OPENER"
)

var (
	ErrNoPeer         = transport.ErrNoPeer
	ErrInvalidOrigin  = errors.New("postbus: invalid origin")
	ErrNotInitialized = errors.New("postbus: not initialized")
)

type (
	LogFunc = transport.LogFunc

	// HandlerFunc is a subscriber. On the host side a non-empty return value
	// is sent back as the reply to a correlated request.
	HandlerFunc func(payload json.RawMessage, d transport.Delivery) (json.RawMessage, error)

	// IDGenerator produces correlation keys.
	IDGenerator func() string

	OptionsFunc func(*facade)

	Config struct {
		// TargetOrigin pins outgoing messages to the peer origin. Empty means "*".
		TargetOrigin string
		// AllowedOrigin filters inbound deliveries. Empty falls back to TargetOrigin.
		AllowedOrigin string
		UseLogger     *bool
	}

	// UnloadInfo is the payload of ActionUnloadOpener.
	UnloadInfo struct {
		Name string `json:"name"`
		URL  string `json:"url"`
	}

	// facade is the state shared by Host and Embedded.
	facade struct {
		mu            sync.Mutex
		initialized   bool
		inbox         transport.Inbox
		targetOrigin  string
		allowedOrigin string
		unsubscribe   func()

		log     *logger
		newID   IDGenerator
		timeout time.Duration

		table   *dispatchTable
		pending *pending
	}
)

// Bool is a helper for Config.UseLogger.
func Bool(v bool) *bool {
	return &v
}

func SetLogger(l zerolog.Logger) OptionsFunc {
	return func(f *facade) {
		f.log.useZerolog(l)
	}
}

func SetError(lf LogFunc) OptionsFunc {
	return func(f *facade) {
		if lf != nil {
			f.log.errorf = lf
		}
	}
}

func SetWarn(lf LogFunc) OptionsFunc {
	return func(f *facade) {
		if lf != nil {
			f.log.warn = lf
		}
	}
}

func SetInfo(lf LogFunc) OptionsFunc {
	return func(f *facade) {
		if lf != nil {
			f.log.info = lf
		}
	}
}

func SetDebug(lf LogFunc) OptionsFunc {
	return func(f *facade) {
		if lf != nil {
			f.log.debug = lf
		}
	}
}

func SetIDGenerator(g IDGenerator) OptionsFunc {
	return func(f *facade) {
		if g != nil {
			f.newID = g
		}
	}
}

// SetRequestTimeout bounds every Request. Zero waits until the caller's
// context ends.
func SetRequestTimeout(d time.Duration) OptionsFunc {
	return func(f *facade) {
		f.timeout = d
	}
}

func newFacade(component string, inbox transport.Inbox, opts ...OptionsFunc) *facade {
	f := &facade{
		inbox:         inbox,
		targetOrigin:  transport.Wildcard,
		allowedOrigin: transport.Wildcard,
		log:           newLogger(defaultZerolog(component)),
		newID:         uuid.NewString,
		table:         newDispatchTable(),
		pending:       newPending(),
	}

	for _, setter := range opts {
		setter(f)
	}
	return f
}

// configure applies cfg and flips the initialized flag. It reports false when
// the facade was already initialized.
func (f *facade) configure(cfg Config) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.initialized {
		return false, nil
	}

	target := cfg.TargetOrigin
	if target == "" {
		target = transport.Wildcard
	}
	allowed := cfg.AllowedOrigin
	if allowed == "" {
		allowed = target
	}
	target, err := normalizeOrigin(target)
	if err != nil {
		return false, err
	}
	allowed, err = normalizeOrigin(allowed)
	if err != nil {
		return false, err
	}

	if cfg.UseLogger != nil {
		f.log.setEnabled(*cfg.UseLogger)
	}
	f.targetOrigin = target
	f.allowedOrigin = allowed
	f.initialized = true
	return true, nil
}

func (f *facade) isInitialized() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initialized
}

func (f *facade) origins() (target, allowed string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.targetOrigin, f.allowedOrigin
}

func (f *facade) subscribe(h transport.HandlerFunc) {
	_, allowed := f.origins()
	unsubscribe := transport.Subscribe(f.inbox, allowed, h, transport.WithDropLog(f.log.Debug))
	f.mu.Lock()
	f.unsubscribe = unsubscribe
	f.mu.Unlock()
}

func (f *facade) close() {
	f.mu.Lock()
	unsubscribe := f.unsubscribe
	f.unsubscribe = nil
	f.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// normalizeOrigin reduces origin to the scheme://host[:port] form carriers
// compare against. Paths other than "/" and queries are rejected.
func normalizeOrigin(origin string) (string, error) {
	if origin == transport.Wildcard {
		return origin, nil
	}
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" || (u.Path != "" && u.Path != "/") || u.RawQuery != "" || u.Fragment != "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidOrigin, origin)
	}
	return u.Scheme + "://" + u.Host, nil
}

func defaultZerolog(component string) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(output).With().Timestamp().Str("component", component).Logger()
}
