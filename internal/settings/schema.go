// Package settings stores the plugin's persisted configuration in a YAML
// file and reloads it when the file changes.
package settings

// Setting keys.
const (
	KeyServerURL = "jupyter_server_url"
	KeyRunCell   = "jupyter_run_cell"
)

// DefaultRunCellBinding is the keybinding used until the user picks one.
const DefaultRunCellBinding = "mod+shift+enter"

// Item declares one setting for the host's settings UI.
type Item struct {
	Key         string `json:"key"`
	Type        string `json:"type"`
	Default     any    `json:"default"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Schema is the full list of settings, in display order.
var Schema = []Item{
	{
		Key:         KeyServerURL,
		Type:        "string",
		Default:     "",
		Title:       "Jupyter server URL",
		Description: "URL of a running Jupyter server including its token, e.g. http://localhost:8888/?token=...",
	},
	{
		Key:         KeyRunCell,
		Type:        "string",
		Default:     DefaultRunCellBinding,
		Title:       "Run cell keybinding",
		Description: "Keybinding that runs the python block under the cursor.",
	},
}

// Defaults returns the schema defaults as a settings map.
func Defaults() map[string]any {
	out := make(map[string]any, len(Schema))
	for _, item := range Schema {
		out[item.Key] = item.Default
	}
	return out
}

// Settings is the typed view of the settings map.
type Settings struct {
	ServerURL  string `mapstructure:"jupyter_server_url" yaml:"jupyter_server_url"`
	RunCellKey string `mapstructure:"jupyter_run_cell" yaml:"jupyter_run_cell"`
}
