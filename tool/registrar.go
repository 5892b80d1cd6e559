package tool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// HostHandler is the callback a host transport invokes for one tool call.
type HostHandler func(ctx context.Context, args Args) Result

// Host is the registration contract of the protocol layer that exposes tools
// to remote callers. RegisterTool may reject invalid metadata. UpdateTool
// replaces the advertised description of a tool already registered; the
// bound handler stays in place.
type Host interface {
	RegisterTool(name, description string, handler HostHandler) error
	UpdateTool(name, description string) error
}

// RegistrarConfig configures a Registrar.
type RegistrarConfig struct {
	Registry   *Registry
	Dispatcher *Dispatcher
	Host       Host
	// Catalog optionally records every registration and rebuild.
	Catalog Catalog
	// If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Registrar binds descriptors to the host and the registry.
type Registrar struct {
	registry   *Registry
	dispatcher *Dispatcher
	host       Host
	catalog    Catalog
	logger     *slog.Logger
}

// NewRegistrar creates a registrar. Registry and Dispatcher are required.
func NewRegistrar(cfg RegistrarConfig) (*Registrar, error) {
	if cfg.Registry == nil {
		return nil, errors.New("tool: registrar requires a registry")
	}
	if cfg.Dispatcher == nil {
		return nil, errors.New("tool: registrar requires a dispatcher")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Registrar{
		registry:   cfg.Registry,
		dispatcher: cfg.Dispatcher,
		host:       cfg.Host,
		catalog:    cfg.Catalog,
		logger:     cfg.Logger,
	}, nil
}

// Register adds d to the registry and binds it to the host. A duplicate name
// is skipped and the first registration kept. Exceeding the ceiling returns
// an error wrapping ErrCeilingExceeded that callers must treat as fatal.
func (r *Registrar) Register(ctx context.Context, d Descriptor) error {
	name := d.Name
	bind := func() error {
		if r.host == nil {
			return nil
		}
		if err := r.host.RegisterTool(name, d.Description, r.handlerFor(name)); err != nil {
			return newToolError(ToolErrorCodeInvalidRequest, fmt.Sprintf("tool: host rejected %q: %v", name, err), false, err)
		}
		return nil
	}

	err := r.registry.Add(d, bind)
	obs := RegistrationObservation{ToolName: name, Kind: d.Kind, Origin: d.Origin}
	switch {
	case err == nil:
		obs.Outcome = RegistrationRegistered
		r.logger.Info("tool: registered",
			slog.String("tool", name),
			slog.String("kind", string(d.Kind)),
			slog.Int("count", r.registry.Count()),
		)
		r.record(ctx, d)
	case errors.Is(err, ErrCeilingExceeded):
		obs.Outcome = RegistrationCeiling
		r.logger.Error("tool: registration ceiling exceeded",
			slog.String("tool", name),
			slog.Int("max_tools", r.registry.Max()),
		)
	case errors.Is(err, ErrRegistrationConflict):
		obs.Outcome = RegistrationConflict
		r.logger.Warn("tool: duplicate tool name skipped",
			slog.String("tool", name),
			slog.String("origin", d.Origin),
		)
	default:
		obs.Outcome = RegistrationRejected
		r.logger.Warn("tool: registration rejected",
			slog.String("tool", name),
			slog.Any("error", err),
		)
	}
	emitRegistrationObservation(obs)
	return err
}

// RegisterAll registers descs in order. Conflicts and host rejections are
// logged and skipped; the ceiling error stops the loop and is returned.
func (r *Registrar) RegisterAll(ctx context.Context, descs []Descriptor) (int, error) {
	registered := 0
	for _, d := range descs {
		err := r.Register(ctx, d)
		switch {
		case err == nil:
			registered++
		case errors.Is(err, ErrCeilingExceeded):
			return registered, err
		}
	}
	return registered, nil
}

// SyncResult summarizes a Sync pass.
type SyncResult struct {
	Added   int
	Rebuilt int
	Failed  int
}

// Sync reconciles a fresh discovery with the registry: unknown names are
// registered and known names whose unit changed are rebuilt in place. Names
// missing from descs are left registered.
func (r *Registrar) Sync(ctx context.Context, descs []Descriptor) (SyncResult, error) {
	var out SyncResult
	for _, d := range descs {
		current, ok := r.registry.Get(d.Name)
		if !ok {
			err := r.Register(ctx, d)
			switch {
			case err == nil:
				out.Added++
			case errors.Is(err, ErrCeilingExceeded):
				out.Failed++
				return out, err
			default:
				out.Failed++
			}
			continue
		}
		if current.Origin == d.Origin && !d.ModTime.After(current.ModTime) {
			continue
		}
		if _, err := r.Rebuild(ctx, d); err != nil {
			out.Failed++
			continue
		}
		out.Rebuilt++
	}
	return out, nil
}

// Rebuild replaces the descriptor of a registered tool and republishes its
// description to the host. Calls already in flight keep the handler they
// resolved.
func (r *Registrar) Rebuild(ctx context.Context, d Descriptor) (Descriptor, error) {
	stored, err := r.registry.Replace(d)
	if err != nil {
		r.logger.Warn("tool: rebuild failed",
			slog.String("tool", d.Name),
			slog.Any("error", err),
		)
		return Descriptor{}, err
	}
	if r.host != nil {
		if err := r.host.UpdateTool(stored.Name, stored.Description); err != nil {
			r.logger.Warn("tool: host kept the previous description",
				slog.String("tool", stored.Name),
				slog.Any("error", err),
			)
		}
	}
	r.logger.Info("tool: rebuilt",
		slog.String("tool", stored.Name),
		slog.Int("revision", stored.Revision),
	)
	emitRegistrationObservation(RegistrationObservation{
		ToolName: stored.Name,
		Kind:     stored.Kind,
		Origin:   stored.Origin,
		Outcome:  RegistrationRebuilt,
		Revision: stored.Revision,
	})
	r.record(ctx, stored)
	return stored, nil
}

func (r *Registrar) handlerFor(name string) HostHandler {
	return func(ctx context.Context, args Args) Result {
		return r.dispatcher.Call(ctx, name, args)
	}
}

func (r *Registrar) record(ctx context.Context, d Descriptor) {
	if r.catalog == nil {
		return
	}
	registeredAt, _ := r.registry.RegisteredAt(d.Name)
	rec := CatalogRecord{
		Name:         d.Name,
		Kind:         d.Kind,
		Description:  d.Description,
		Origin:       d.Origin,
		Revision:     d.Revision,
		RegisteredAt: registeredAt,
		UpdatedAt:    time.Now().UTC(),
	}
	if d.Kind == KindCLI {
		rec.Command = d.Command.String()
	}
	if err := r.catalog.Record(ctx, rec); err != nil {
		r.logger.Warn("tool: catalog record failed",
			slog.String("tool", d.Name),
			slog.Any("error", err),
		)
	}
}
