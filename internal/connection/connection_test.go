package connection

import (
	"context"
	"errors"
	"testing"

	"cellrun/internal/host"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURL(t *testing.T) {
	tests := []struct {
		raw  string
		want Info
	}{
		{"http://localhost:8888/?token=abc", Info{BaseURL: "http://localhost:8888", Token: "abc"}},
		{"https://hub.example.com:443/lab?token=t0k&x=1", Info{BaseURL: "https://hub.example.com:443", Token: "t0k"}},
		{"  http://127.0.0.1:9999?token=z  ", Info{BaseURL: "http://127.0.0.1:9999", Token: "z"}},
	}

	for _, tt := range tests {
		got, err := ParseURL(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}
}

func TestParseURL_Failures(t *testing.T) {
	tests := []struct {
		raw  string
		want error
	}{
		{"", ErrURLUnset},
		{"   ", ErrURLUnset},
		{"http://[::1", ErrURLMalformed},
		{"http://localhost:8888/", ErrIncompleteURL},
		{"http://localhost:8888/?token=", ErrIncompleteURL},
		{"/just/a/path?token=abc", ErrIncompleteURL},
		{"localhost:8888/?token=abc", ErrIncompleteURL},
	}

	for _, tt := range tests {
		_, err := ParseURL(tt.raw)
		assert.ErrorIs(t, err, tt.want, tt.raw)
		assert.True(t, IsConfigError(err), tt.raw)
	}
}

func TestIsConfigError(t *testing.T) {
	assert.False(t, IsConfigError(nil))
	assert.False(t, IsConfigError(errors.New("dial tcp: refused")))
	assert.True(t, IsConfigError(ErrSettingsAbsent))
}

type fakeSettings struct {
	values map[string]any
	ok     bool
}

func (f fakeSettings) Settings() (map[string]any, bool) { return f.values, f.ok }

func TestSettingsResolver(t *testing.T) {
	r := SettingsResolver{Settings: fakeSettings{
		values: map[string]any{SettingKey: "http://localhost:8888/?token=abc"},
		ok:     true,
	}}

	info, err := r.Resolve(context.Background(), host.Block{})
	require.NoError(t, err)
	assert.Equal(t, Info{BaseURL: "http://localhost:8888", Token: "abc"}, info)
}

func TestSettingsResolver_Failures(t *testing.T) {
	tests := []struct {
		name     string
		settings host.Settings
		want     error
	}{
		{"nil collaborator", nil, ErrSettingsAbsent},
		{"never saved", fakeSettings{ok: false}, ErrSettingsAbsent},
		{"key missing", fakeSettings{values: map[string]any{}, ok: true}, ErrURLUnset},
		{"empty value", fakeSettings{values: map[string]any{SettingKey: ""}, ok: true}, ErrURLUnset},
		{"wrong type", fakeSettings{values: map[string]any{SettingKey: 42}, ok: true}, ErrURLMalformed},
		{"no token", fakeSettings{values: map[string]any{SettingKey: "http://h:1/"}, ok: true}, ErrIncompleteURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := SettingsResolver{Settings: tt.settings}
			_, err := r.Resolve(context.Background(), host.Block{})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

type propertyEditor struct {
	host.Editor
	props map[string]map[string]string
	err   error
}

func (p propertyEditor) BlockProperty(_ context.Context, blockID, key string) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	return p.props[blockID][key], nil
}

func TestPropertyResolver(t *testing.T) {
	ed := propertyEditor{props: map[string]map[string]string{
		"b1": {BlockProperty: "http://localhost:8888/?token=abc"},
	}}
	r := PropertyResolver{Editor: ed}

	info, err := r.Resolve(context.Background(), host.Block{UUID: "b1"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8888", info.BaseURL)
	assert.Equal(t, "abc", info.Token)

	_, err = r.Resolve(context.Background(), host.Block{UUID: "other"})
	assert.ErrorIs(t, err, ErrURLUnset)
}

func TestPropertyResolver_EditorError(t *testing.T) {
	r := PropertyResolver{Editor: propertyEditor{err: host.ErrBlockNotFound}}
	_, err := r.Resolve(context.Background(), host.Block{UUID: "x"})
	assert.ErrorIs(t, err, host.ErrBlockNotFound)
	assert.False(t, IsConfigError(err))
}

func TestStatic(t *testing.T) {
	info, err := Static{URL: "http://h:1/?token=t"}.Resolve(context.Background(), host.Block{})
	require.NoError(t, err)
	assert.Equal(t, "t", info.Token)
}
