package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/loykin/hexanator"
	"github.com/loykin/hexanator/pkg/client"
)

// controller is what the CLI needs from either the local ledger or a remote
// control API.
type controller interface {
	Start(ctx context.Context, name string) (client.StartResponse, error)
	Stop(ctx context.Context, name string) error
	List(ctx context.Context) ([]string, error)
	// Reconcile returns the base URL of every started server.
	Reconcile(ctx context.Context, names []string) (map[string]string, error)
	Artifacts(ctx context.Context, name string) (any, error)
	Close() error
}

type command struct {
	flags *GlobalFlags
}

func (c command) loadConfig() (hexanator.Config, error) {
	cfg, err := hexanator.LoadConfig(c.flags.ConfigPath)
	if err != nil {
		return hexanator.Config{}, err
	}
	if c.flags.LogLevel != "" {
		cfg.Log.Level = c.flags.LogLevel
	}
	return cfg, nil
}

// childArgs repeats the flags a launched child needs to find the same
// ledger and data directory.
func (c command) childArgs() ([]string, error) {
	var args []string
	if c.flags.ConfigPath != "" {
		abs, err := filepath.Abs(c.flags.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		args = append(args, "--config", abs)
	}
	if c.flags.LogLevel != "" {
		args = append(args, "--log-level", c.flags.LogLevel)
	}
	return args, nil
}

func (c command) openLocal(ctx context.Context) (*hexanator.Supervisor, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	args, err := c.childArgs()
	if err != nil {
		return nil, err
	}
	return hexanator.Open(ctx, cfg, hexanator.Options{ChildArgs: args})
}

func (c command) controller(ctx context.Context) (controller, error) {
	if c.flags.APIURL != "" {
		return remoteController{client.New(c.clientConfig())}, nil
	}
	sup, err := c.openLocal(ctx)
	if err != nil {
		return nil, err
	}
	return localController{sup}, nil
}

func (c command) clientConfig() client.Config {
	cfg := client.Config{
		BaseURL:  c.flags.APIURL,
		Timeout:  c.flags.APITimeout,
		Token:    c.flags.APIToken,
		Username: c.flags.APIUser,
		Password: c.flags.APIPassword,
		Insecure: c.flags.APIInsecure,
	}
	if c.flags.APICACert != "" {
		cfg.TLS = &client.TLSClientConfig{Enabled: true, CACert: c.flags.APICACert}
	}
	return cfg
}

type localController struct {
	sup *hexanator.Supervisor
}

func (l localController) Start(ctx context.Context, name string) (client.StartResponse, error) {
	port, err := l.sup.EnsureStarted(ctx, name)
	if err != nil {
		return client.StartResponse{}, err
	}
	return client.StartResponse{Name: name, Port: port, URL: l.sup.Publisher("").URL(port)}, nil
}

func (l localController) Stop(ctx context.Context, name string) error {
	return l.sup.EnsureStopped(ctx, name)
}

func (l localController) List(ctx context.Context) ([]string, error) {
	return l.sup.ListServerNames(ctx)
}

func (l localController) Reconcile(ctx context.Context, names []string) (map[string]string, error) {
	ports, err := l.sup.Reconcile(ctx, names)
	return l.sup.Publisher("").URLs(ports), err
}

func (l localController) Artifacts(_ context.Context, name string) (any, error) {
	arts, err := l.sup.Artifacts(name)
	if arts == nil {
		arts = []hexanator.Artifact{}
	}
	return arts, err
}

func (l localController) Close() error { return l.sup.Close() }

type remoteController struct {
	c *client.Client
}

func (r remoteController) Start(ctx context.Context, name string) (client.StartResponse, error) {
	return r.c.Start(ctx, name)
}

func (r remoteController) Stop(ctx context.Context, name string) error {
	return r.c.Stop(ctx, name)
}

func (r remoteController) List(ctx context.Context) ([]string, error) {
	return r.c.List(ctx)
}

func (r remoteController) Reconcile(ctx context.Context, names []string) (map[string]string, error) {
	res, err := r.c.Reconcile(ctx, names)
	return res.Servers, err
}

func (r remoteController) Artifacts(ctx context.Context, name string) (any, error) {
	arts, err := r.c.Artifacts(ctx, name)
	if arts == nil {
		arts = []client.Artifact{}
	}
	return arts, err
}

func (r remoteController) Close() error { return nil }
