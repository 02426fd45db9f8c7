package tokenfile

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// Holder is the in-memory home of the current credential. It is the single
// shared instance the stream client reads bearer tokens from and the
// refresher swaps new tokens into. Persistence goes through Save/Remove on
// the path the holder was loaded from.
type Holder struct {
	mu     sync.RWMutex
	path   string
	tok    *oauth2.Token
	meta   map[string]string
	logger *slog.Logger
}

// NewHolder loads the credential file at path into a Holder. A missing
// file yields a holder with no credential, not an error.
func NewHolder(path string, logger *slog.Logger) (*Holder, error) {
	if logger == nil {
		logger = slog.Default()
	}

	tok, meta, err := Load(path)
	if err != nil {
		return nil, err
	}

	return &Holder{path: path, tok: tok, meta: meta, logger: logger}, nil
}

// Path returns the credential file path backing this holder.
func (h *Holder) Path() string {
	return h.path
}

// Token returns the current credential, or nil when logged out.
func (h *Holder) Token() *oauth2.Token {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.tok
}

// Bearer returns the current access token string, or "" when logged out.
// Satisfies the TokenSource interfaces defined by api/ and stream/.
func (h *Holder) Bearer() (string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.tok == nil {
		return "", nil
	}

	return h.tok.AccessToken, nil
}

// Meta returns the cached profile metadata, or nil.
func (h *Holder) Meta() map[string]string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.meta
}

// Set replaces the credential and persists it. A persistence failure keeps
// the new token in memory — the session continues, the next refresh tries
// the disk again.
func (h *Holder) Set(tok *oauth2.Token) {
	h.mu.Lock()
	h.tok = tok
	meta := h.meta
	h.mu.Unlock()

	if err := Save(h.path, tok, meta); err != nil {
		h.logger.Warn("failed to persist refreshed credential",
			slog.String("path", h.path),
			slog.String("error", err.Error()),
		)

		return
	}

	h.logger.Debug("persisted credential",
		slog.String("path", h.path),
		slog.Time("expiry", tok.Expiry),
	)
}

// SetMeta replaces the cached profile metadata and persists it alongside
// the current token. No-op when logged out.
func (h *Holder) SetMeta(meta map[string]string) {
	h.mu.Lock()
	tok := h.tok
	h.meta = meta
	h.mu.Unlock()

	if tok == nil {
		return
	}

	if err := Save(h.path, tok, meta); err != nil {
		h.logger.Warn("failed to persist credential metadata",
			slog.String("path", h.path),
			slog.String("error", err.Error()),
		)
	}
}

// Clear drops the in-memory credential without touching the file. Used
// when the file was already removed externally (logout from another
// process, detected via the token-file watcher).
func (h *Holder) Clear() {
	h.mu.Lock()
	h.tok = nil
	h.meta = nil
	h.mu.Unlock()
}

// Logout drops the credential and removes the file.
func (h *Holder) Logout() error {
	h.Clear()

	return Remove(h.path)
}

// ExpiresWithin reports whether the credential expires within d of now.
// False when logged out or when the server sent no expiry.
func (h *Holder) ExpiresWithin(now time.Time, d time.Duration) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.tok == nil || h.tok.Expiry.IsZero() {
		return false
	}

	return h.tok.Expiry.Sub(now) <= d
}
