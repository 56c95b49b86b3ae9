// Package connection resolves where the Jupyter server lives and how to
// authenticate against it.
package connection

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"cellrun/internal/host"
)

// Names of the host-side values a URL is read from.
const (
	BlockProperty = "jupyter"
	SettingKey    = "jupyter_server_url"
)

// Resolution failures. Each carries the message shown to the user.
var (
	ErrSettingsAbsent = errors.New("Jupyter settings are not configured")
	ErrURLUnset       = errors.New("Jupyter server URL is not set")
	ErrURLMalformed   = errors.New("Jupyter server URL is not a valid URL")
	ErrIncompleteURL  = errors.New("Jupyter server URL must include host and token, e.g. http://localhost:8888/?token=...")
)

// Info is what a kernel session needs to reach the server.
type Info struct {
	BaseURL string `json:"baseUrl"`
	Token   string `json:"token"`
}

// Resolver derives connection info for one invocation.
type Resolver interface {
	Resolve(ctx context.Context, block host.Block) (Info, error)
}

// IsConfigError reports whether err is a resolution failure.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrSettingsAbsent) ||
		errors.Is(err, ErrURLUnset) ||
		errors.Is(err, ErrURLMalformed) ||
		errors.Is(err, ErrIncompleteURL)
}

// ParseURL splits a server URL of the form http://host:port/?token=T into
// its origin and token. Both must be present.
func ParseURL(raw string) (Info, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Info{}, ErrURLUnset
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrURLMalformed, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return Info{}, ErrIncompleteURL
	}

	token := u.Query().Get("token")
	if token == "" {
		return Info{}, ErrIncompleteURL
	}

	return Info{
		BaseURL: u.Scheme + "://" + u.Host,
		Token:   token,
	}, nil
}

// PropertyResolver reads the URL from the block's "jupyter" property.
type PropertyResolver struct {
	Editor host.Editor
}

func (r PropertyResolver) Resolve(ctx context.Context, block host.Block) (Info, error) {
	raw, err := r.Editor.BlockProperty(ctx, block.UUID, BlockProperty)
	if err != nil {
		return Info{}, fmt.Errorf("read block property %s: %w", BlockProperty, err)
	}
	return ParseURL(raw)
}

// SettingsResolver reads the URL from the plugin settings.
type SettingsResolver struct {
	Settings host.Settings
}

func (r SettingsResolver) Resolve(_ context.Context, _ host.Block) (Info, error) {
	if r.Settings == nil {
		return Info{}, ErrSettingsAbsent
	}
	values, ok := r.Settings.Settings()
	if !ok || values == nil {
		return Info{}, ErrSettingsAbsent
	}

	v, ok := values[SettingKey]
	if !ok || v == nil {
		return Info{}, ErrURLUnset
	}
	raw, ok := v.(string)
	if !ok {
		return Info{}, fmt.Errorf("%w: %s is a %T", ErrURLMalformed, SettingKey, v)
	}
	return ParseURL(raw)
}

// Static always returns the same info. It backs an explicit --url flag.
type Static struct {
	URL string
}

func (s Static) Resolve(_ context.Context, _ host.Block) (Info, error) {
	return ParseURL(s.URL)
}
