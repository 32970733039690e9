package dicomweb

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dicomweb-dimse/bridge/assocpool"
	"github.com/dicomweb-dimse/bridge/client"
	cfgpkg "github.com/dicomweb-dimse/bridge/config"
	"github.com/dicomweb-dimse/bridge/mediator"
	"github.com/dicomweb-dimse/bridge/pluginapi"
	"github.com/dicomweb-dimse/bridge/store"
)

// AETRuntime is the resolved runtime record for one configured AET: its
// backend (a live DIMSE pool, or an S3 store), plus the façade-level
// timeouts and retrieve mode that config.AETConfig only describes
// declaratively.
type AETRuntime struct {
	Name    string
	Backend cfgpkg.Backend

	Pool          *assocpool.Pool
	CallingAET    string
	CalledAET     string
	Address       string

	S3     *store.S3Store
	Plugin pluginapi.Backend

	QIDOTimeout time.Duration
	WADOTimeout time.Duration
	STOWTimeout time.Duration
	Mode        cfgpkg.RetrieveMode
	Receivers   []string
}

// Registry resolves AET name -> runtime record for the router. It also
// owns the mediator that correlates WADO retrieve's C-MOVE invocations
// with the sub-operations the Store-SCP listener publishes - the same
// instance must be handed to that listener's storescp.Handler.
type Registry struct {
	aets   map[string]*AETRuntime
	Med    *mediator.Mediator
	logger *zerolog.Logger
}

// NewRegistry builds runtime records for every configured AET. callingAET
// is this service's own AE title, used when dialing out. med is the
// mediator shared with the Store-SCP listener(s). plug is the loaded
// plugin backend, or nil when server.plugin-path is unset; AETs configured
// backend: Plugin route to it.
func NewRegistry(ctx context.Context, callingAET string, cfgs []cfgpkg.AETConfig, med *mediator.Mediator, plug pluginapi.Backend, logger *zerolog.Logger) (*Registry, error) {
	if logger == nil {
		logger = &log.Logger
	}
	reg := &Registry{aets: make(map[string]*AETRuntime, len(cfgs)), Med: med, logger: logger}

	for _, c := range cfgs {
		rt := &AETRuntime{
			Name:        c.AET,
			Backend:     c.Backend,
			CallingAET:  callingAET,
			CalledAET:   c.AET,
			QIDOTimeout: orDefault(c.QIDO.Timeout, 30*time.Second),
			WADOTimeout: orDefault(c.WADO.Timeout, 60*time.Second),
			STOWTimeout: orDefault(c.STOW.Timeout, 60*time.Second),
			Mode:        c.WADO.Mode,
			Receivers:   c.WADO.Receivers,
		}
		if rt.Mode == "" {
			rt.Mode = cfgpkg.ModeConcurrent
		}
		if rt.Mode == cfgpkg.ModeSequential && med != nil {
			// A Sequential AET retrieves through its (AET, None) fallback
			// topic, so at most one C-MOVE per AET may be in flight.
			med.EnableSequential(c.AET)
		}

		switch c.Backend {
		case cfgpkg.BackendS3:
			s3store, err := store.NewS3Store(ctx, c.S3.Bucket, c.S3.Prefix, c.S3.Region)
			if err != nil {
				return nil, fmt.Errorf("dicomweb: aet %s: %w", c.AET, err)
			}
			rt.S3 = s3store
		case cfgpkg.BackendPlugin:
			if plug == nil {
				return nil, fmt.Errorf("dicomweb: aet %s requires a plugin backend but none was loaded", c.AET)
			}
			rt.Plugin = plug
		default:
			rt.Address = fmt.Sprintf("%s:%d", c.DIMSE.Host, c.DIMSE.Port)
			poolSize := c.DIMSE.Pool.Size
			if poolSize <= 0 {
				poolSize = 4
			}
			poolTimeout := c.DIMSE.Pool.Timeout
			if poolTimeout <= 0 {
				poolTimeout = 10 * time.Second
			}
			rt.Pool = assocpool.New(assocpool.Options{
				MaxPerKey:      poolSize,
				AcquireTimeout: poolTimeout,
				Logger:         logger,
				Dial: func(ctx context.Context, key assocpool.Key) (*client.Association, error) {
					return client.Connect(key.Address, client.Config{
						CallingAETitle: key.CallingAET,
						CalledAETitle:  key.CalledAET,
						Logger:         logger,
					})
				},
			})
		}

		reg.aets[c.AET] = rt
	}

	return reg, nil
}

// Lookup returns the runtime record for aet, or (nil, false).
func (r *Registry) Lookup(aet string) (*AETRuntime, bool) {
	rt, ok := r.aets[aet]
	return rt, ok
}

// List returns every configured AET name, for GET /aets.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.aets))
	for name := range r.aets {
		names = append(names, name)
	}
	return names
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// PoolKey builds the assocpool.Key this AET dials under.
func (rt *AETRuntime) PoolKey() assocpool.Key {
	return assocpool.Key{CallingAET: rt.CallingAET, CalledAET: rt.CalledAET, Address: rt.Address}
}
