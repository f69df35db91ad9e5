package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/10d3/nexora/internal/connectivity"
	"github.com/10d3/nexora/internal/crud"
	"github.com/10d3/nexora/internal/engine"
	"github.com/10d3/nexora/internal/entity"
	"github.com/10d3/nexora/internal/mirror"
	"github.com/10d3/nexora/internal/queue"
	"github.com/10d3/nexora/internal/remote"
	"github.com/10d3/nexora/internal/schema"
)

// app is the wired offline stack for one command.
type app struct {
	cfg      Config
	logger   *zap.Logger
	out      *OutputFormatter
	registry *schema.Registry
	store    *mirror.Store
	source   connectivity.Source
	monitor  *connectivity.Monitor
	queue    *queue.Manager
	coord    *engine.Coordinator
	client   *remote.Client

	customers *crud.Resource[entity.CustomerProfile]
	closers   []func() error
}

// newApp loads configuration and opens the mirror. Remote-backed
// operations are registered only when remote.url is set.
func newApp(opts *RootOptions, cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(opts.ConfigFile, cmd.Flags())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	logger, err := newLogger(cfg.Log, opts.Verbose, cmd.ErrOrStderr())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	a := &app{
		cfg:    cfg,
		logger: logger,
		out: &OutputFormatter{
			Format:    opts.Format,
			Writer:    cmd.OutOrStdout(),
			ErrWriter: cmd.ErrOrStderr(),
			Verbose:   opts.Verbose,
		},
	}

	a.registry, err = schema.Default()
	if err != nil {
		return nil, WrapExitError(ExitFailure, "compile entity schema", err)
	}
	a.store, err = mirror.Open(cfg.DB, a.registry)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open mirror", err)
	}
	a.closers = append(a.closers, a.store.Close)

	a.source, err = a.connectivitySource()
	if err != nil {
		a.Close()
		return nil, WrapExitError(ExitCommandError, "connectivity source", err)
	}
	a.monitor = connectivity.New(a.source, connectivity.WithLogger(logger.Named("connectivity")))
	a.queue = queue.New(a.store, queue.WithLogger(logger.Named("queue")))
	a.coord = engine.New(a.store, a.monitor, a.queue, engine.WithLogger(logger.Named("engine")))

	if cfg.Remote.URL != "" {
		ropts := []remote.Option{remote.WithTimeout(cfg.Remote.Timeout), remote.WithLogger(logger.Named("remote"))}
		if cfg.Remote.Token != "" {
			ropts = append(ropts, remote.WithHeader("Authorization", "Bearer "+cfg.Remote.Token))
		}
		a.client, err = remote.NewClient(cfg.Remote.URL, ropts...)
		if err != nil {
			a.Close()
			return nil, WrapExitError(ExitCommandError, "invalid remote.url", err)
		}
		if err := a.registerResources(); err != nil {
			a.Close()
			return nil, WrapExitError(ExitFailure, "register operations", err)
		}
	}
	return a, nil
}

// connectivitySource picks the forced, marker-file or default source.
// Without a remote there is nothing to be online to.
func (a *app) connectivitySource() (connectivity.Source, error) {
	switch {
	case a.cfg.Offline:
		return connectivity.NewManualSource(false), nil
	case a.cfg.Connectivity.Marker != "":
		fs, err := connectivity.NewFileSource(a.cfg.Connectivity.Marker, a.logger.Named("marker"))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, fs.Close)
		return fs, nil
	default:
		return connectivity.NewManualSource(a.cfg.Remote.URL != ""), nil
	}
}

func (a *app) registerResources() error {
	views := crud.NewViews()
	views.OnRevalidate("customers", func(context.Context) {
		a.logger.Debug("view revalidated", zap.String("view", "customers"))
	})
	helper := crud.NewHelper(a.coord, a.registry, crud.DefaultRoles(), views,
		crud.WithLogger(a.logger.Named("crud")))
	var err error
	a.customers, err = crud.Register(helper, crud.Config[entity.CustomerProfile]{
		Remote: remote.CRUD[entity.CustomerProfile](a.client, "customer"),
		Views:  []string{"customers"},
	})
	return err
}

// user is the operator configured for CRUD commands.
func (a *app) user() crud.User {
	return crud.User{ID: a.cfg.User.ID, TenantID: a.cfg.Tenant, Role: a.cfg.User.Role}
}

// requireRemote fails commands that need registered operations.
func (a *app) requireRemote() error {
	if a.client == nil {
		return NewExitError(ExitCommandError, "remote.url is not configured")
	}
	return nil
}

// requireTenant fails commands scoped to a tenant when none is set.
func (a *app) requireTenant() error {
	if a.cfg.Tenant == "" {
		return NewExitError(ExitCommandError, "tenant is not configured (set tenant or NEXORA_TENANT)")
	}
	return nil
}

// Close releases everything newApp opened, in reverse order.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}
