// Package agents manages portal login profiles. The registry file holds
// names and usernames only; passwords go through the Secrets store.
package agents

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/roach88/aegis/internal/model"
)

// ErrNotFound means no agent with that name is registered.
var ErrNotFound = eris.New("agents: not found")

// Secrets is the opaque secret store keyed by (agentName, field). The
// SQLite store's credentials table implements it.
type Secrets interface {
	GetSecret(ctx context.Context, agentName, field string) (string, bool, error)
	SetSecret(ctx context.Context, agentName, field, value string) error
	DeleteSecret(ctx context.Context, agentName string) error
}

// PasswordField is the secret-store field holding an agent's password.
const PasswordField = "password"

// Registry is the JSON-file-backed list of agents. It is read at startup
// and rewritten wholesale on every change.
type Registry struct {
	path    string
	secrets Secrets
}

// NewRegistry creates a Registry over the given file and secret store.
func NewRegistry(path string, secrets Secrets) *Registry {
	return &Registry{path: path, secrets: secrets}
}

// List returns all registered agents, sorted by name. A missing registry
// file is an empty registry.
func (r *Registry) List() ([]model.Agent, error) {
	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "agents: read registry %s", r.path)
	}

	var list []model.Agent
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, eris.Wrapf(err, "agents: parse registry %s", r.path)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list, nil
}

// Get returns the agent with the given display name.
func (r *Registry) Get(name string) (model.Agent, error) {
	list, err := r.List()
	if err != nil {
		return model.Agent{}, err
	}
	for _, a := range list {
		if a.Name == name {
			return a, nil
		}
	}
	return model.Agent{}, eris.Wrapf(ErrNotFound, "%s", name)
}

// Save registers or replaces an agent and stores its password in the secret
// store. The password never touches the registry file.
func (r *Registry) Save(ctx context.Context, agent model.Agent, password string) error {
	list, err := r.List()
	if err != nil {
		return err
	}

	replaced := false
	for i, a := range list {
		if a.Name == agent.Name {
			list[i] = agent
			replaced = true
			break
		}
	}
	if !replaced {
		list = append(list, agent)
	}

	if err := r.write(list); err != nil {
		return err
	}
	return r.secrets.SetSecret(ctx, agent.Name, PasswordField, password)
}

// Remove deletes an agent and its secrets. Removing an unknown agent fails
// with ErrNotFound.
func (r *Registry) Remove(ctx context.Context, name string) error {
	list, err := r.List()
	if err != nil {
		return err
	}

	kept := list[:0]
	for _, a := range list {
		if a.Name != name {
			kept = append(kept, a)
		}
	}
	if len(kept) == len(list) {
		return eris.Wrapf(ErrNotFound, "%s", name)
	}

	if err := r.write(kept); err != nil {
		return err
	}
	return r.secrets.DeleteSecret(ctx, name)
}

// Password fetches an agent's password from the secret store.
func (r *Registry) Password(ctx context.Context, name string) (string, error) {
	pw, ok, err := r.secrets.GetSecret(ctx, name, PasswordField)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", eris.Wrapf(ErrNotFound, "no password for %s", name)
	}
	return pw, nil
}

func (r *Registry) write(list []model.Agent) error {
	if list == nil {
		list = []model.Agent{}
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return eris.Wrap(err, "agents: marshal registry")
	}
	if dir := filepath.Dir(r.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "agents: create dir %s", dir)
		}
	}
	return eris.Wrapf(os.WriteFile(r.path, data, 0o600), "agents: write registry %s", r.path)
}
