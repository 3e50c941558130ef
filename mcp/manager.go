package mcp

import (
	"context"
	"sync"

	"github.com/gaialab/gaia/errors"
	"github.com/gaialab/gaia/logging"
	"github.com/gaialab/gaia/tools"
)

// Manager owns the named provider connections and their persisted
// configuration. A connection's identity is its name; reconnecting spawns a
// fresh child process under the same name.
type Manager struct {
	mu      sync.Mutex
	clients map[string]*Client
	store   *Store

	// newTransport is swapped out by tests.
	newTransport func(spec ServerSpec) Transport
}

// NewManager creates a manager over the given store. A nil store uses the
// default document locations.
func NewManager(store *Store) *Manager {
	if store == nil {
		store = DefaultStore()
	}
	return &Manager{
		clients: make(map[string]*Client),
		store:   store,
		newTransport: func(spec ServerSpec) Transport {
			return NewStdioTransport(spec)
		},
	}
}

func validateSpec(spec ServerSpec) error {
	if spec.Command == "" {
		return errors.New("server config has no command")
	}
	if spec.Type != "" && spec.Type != TransportStdio {
		return errors.New("unsupported transport type %q (only %q is supported)", spec.Type, TransportStdio)
	}
	return nil
}

// connect brings up one provider: spawn, handshake, tool listing.
func (m *Manager) connect(ctx context.Context, name string, spec ServerSpec) (*Client, error) {
	client := NewClient(name, m.newTransport(spec))
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	if _, err := client.ListTools(ctx, false); err != nil {
		client.Disconnect()
		return nil, &ConnectError{Provider: name, Err: err}
	}
	return client, nil
}

// AddServer validates the spec, connects the provider eagerly, and persists
// the config only once the connection succeeded. Duplicate names are
// rejected before anything is spawned.
func (m *Manager) AddServer(ctx context.Context, name string, spec ServerSpec) error {
	if err := validateSpec(spec); err != nil {
		return err
	}

	m.mu.Lock()
	if _, exists := m.clients[name]; exists {
		m.mu.Unlock()
		return errors.New("server %q already exists", name)
	}
	m.mu.Unlock()

	client, err := m.connect(ctx, name, spec)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if _, exists := m.clients[name]; exists {
		m.mu.Unlock()
		client.Disconnect()
		return errors.New("server %q already exists", name)
	}
	m.clients[name] = client
	m.mu.Unlock()

	servers, err := m.store.Load()
	if err != nil {
		return err
	}
	servers[name] = spec
	if err := m.store.Save(servers); err != nil {
		return errors.Wrapf(err, "connected %q but could not persist its config", name)
	}

	logging.Component("mcp").Info().Str("provider", name).Msg("provider added")
	return nil
}

// LoadFromConfig connects every persisted provider. Unsupported transport
// kinds and individual connection failures are logged and skipped; one bad
// provider never blocks the rest.
func (m *Manager) LoadFromConfig(ctx context.Context) error {
	servers, err := m.store.Load()
	if err != nil {
		return err
	}

	log := logging.Component("mcp")
	for name, spec := range servers {
		if err := validateSpec(spec); err != nil {
			log.Warn().Str("provider", name).Err(err).Msg("skipping provider with unsupported config")
			continue
		}

		m.mu.Lock()
		_, exists := m.clients[name]
		m.mu.Unlock()
		if exists {
			continue
		}

		client, err := m.connect(ctx, name, spec)
		if err != nil {
			log.Warn().Str("provider", name).Err(err).Msg("provider failed to connect")
			continue
		}

		m.mu.Lock()
		m.clients[name] = client
		m.mu.Unlock()
		log.Info().Str("provider", name).Int("tools", len(client.Descriptors())).Msg("provider loaded")
	}
	return nil
}

// Get returns a connected client by name.
func (m *Manager) Get(name string) (*Client, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[name]
	return c, ok
}

// Names lists the connected providers.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.clients))
	for name := range m.clients {
		names = append(names, name)
	}
	return names
}

// RegisterTools registers every connected provider's tools into the
// registry under their namespaced names.
func (m *Manager) RegisterTools(reg *tools.Registry) error {
	m.mu.Lock()
	clients := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.mu.Unlock()

	for _, c := range clients {
		for _, t := range c.Tools() {
			if err := reg.Register(t); err != nil {
				return err
			}
		}
	}
	return nil
}

// DisconnectAll tears down every connection.
func (m *Manager) DisconnectAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, c := range m.clients {
		if err := c.Disconnect(); err != nil {
			logging.Component("mcp").Warn().Str("provider", name).Err(err).Msg("disconnect failed")
		}
		delete(m.clients, name)
	}
}
