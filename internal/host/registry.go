package host

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Registry is an in-process Registrar. Front ends that have no editor
// plugin (the CLI) register commands here and invoke them by name.
type Registry struct {
	mu       sync.RWMutex
	actions  map[string]Action
	bindings map[string]string // keybinding → command key
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		actions:  make(map[string]Action),
		bindings: make(map[string]string),
	}
}

func (r *Registry) RegisterSlashCommand(name string, action Action) error {
	return r.register(name, "", action)
}

func (r *Registry) RegisterCommandPalette(cmd PaletteCommand, action Action) error {
	return r.register(cmd.Key, cmd.Keybinding, action)
}

func (r *Registry) register(name, binding string, action Action) error {
	if name == "" {
		return fmt.Errorf("command name is required")
	}
	if action == nil {
		return fmt.Errorf("command %s has no action", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[name] = action
	// Re-registering replaces the command's previous keybinding.
	for key, bound := range r.bindings {
		if bound == name {
			delete(r.bindings, key)
		}
	}
	if binding != "" {
		r.bindings[binding] = name
	}
	return nil
}

// Invoke runs the command registered under name.
func (r *Registry) Invoke(ctx context.Context, name string) error {
	r.mu.RLock()
	action, ok := r.actions[name]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("command not registered: %s", name)
	}
	return action(ctx)
}

// Press runs the command bound to keybinding.
func (r *Registry) Press(ctx context.Context, keybinding string) error {
	r.mu.RLock()
	name, ok := r.bindings[keybinding]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("no command bound to %s", keybinding)
	}
	return r.Invoke(ctx, name)
}

// Names lists registered commands.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
