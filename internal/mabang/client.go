package mabang

import (
	"go.uber.org/zap"
)

// Client bundles the session manager and dispatcher for one account. Business
// services (order, product, shipping) are constructed on top of it and talk
// through the embedded Dispatcher.
type Client struct {
	*Dispatcher

	cfg      *Config
	eps      *Endpoints
	Sessions *SessionManager
}

// Option customizes client construction.
type Option func(*Client)

// WithEndpoints replaces the default endpoint table, e.g. to point at a test
// backend.
func WithEndpoints(eps *Endpoints) Option {
	return func(c *Client) { c.eps = eps }
}

// New creates a client for the given account configuration.
func New(cfg *Config, log *zap.Logger, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Client{cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}
	if c.eps == nil {
		c.eps = DefaultEndpoints(cfg)
	}
	sessions, err := NewSessionManager(cfg, c.eps, log)
	if err != nil {
		return nil, err
	}
	c.Sessions = sessions
	c.Dispatcher = NewDispatcher(sessions, c.eps, log)
	return c, nil
}

// Endpoints returns the immutable endpoint table the client was built with.
func (c *Client) Endpoints() *Endpoints {
	return c.eps
}
