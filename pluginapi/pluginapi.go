// Package pluginapi defines the backend hook an externally built Go plugin
// can provide for an AE title, and the loader that resolves it from a .so
// file. A plugin serves the same three entry points the built-in DIMSE and
// S3 backends serve: QIDO search, WADO retrieve, and STOW store. Methods a
// plugin does not support return ErrNotSupported and the façade maps that
// to HTTP 503, the same way a disabled built-in service does.
package pluginapi

import (
	"context"
	"errors"
	"fmt"
	"plugin"

	"github.com/dicomweb-dimse/bridge/dicom"
)

// ErrNotSupported marks a capability the loaded plugin does not implement.
var ErrNotSupported = errors.New("pluginapi: operation not supported by plugin")

// SearchRequest is a QIDO-RS query handed to a plugin backend.
type SearchRequest struct {
	Level         string
	Match         map[dicom.Tag]string
	IncludeFields []dicom.Tag
	FuzzyMatching bool
	Limit         int
	Offset        int
}

// RetrieveRequest selects the instances a WADO-RS retrieve addresses. Empty
// UIDs widen the selection (an empty SeriesUID means the whole study).
type RetrieveRequest struct {
	StudyUID       string
	SeriesUID      string
	SOPInstanceUID string
}

// Backend is the symbol a plugin exports. Retrieve's channel yields one
// Part-10 file per instance and must be closed by the plugin when the
// selection is exhausted.
type Backend interface {
	Name() string
	Search(ctx context.Context, req *SearchRequest) ([]*dicom.Dataset, error)
	Retrieve(ctx context.Context, req *RetrieveRequest) (<-chan []byte, error)
	Store(ctx context.Context, instances [][]byte) (stored []string, failed []string, err error)
	HealthCheck(ctx context.Context) error
}

// Load opens the plugin at path and resolves its exported Backend symbol.
// The symbol may be declared either as `var Backend pluginapi.Backend` or as
// a value whose type implements the interface directly.
func Load(path string) (Backend, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pluginapi: open %s: %w", path, err)
	}
	sym, err := p.Lookup("Backend")
	if err != nil {
		return nil, fmt.Errorf("pluginapi: %s exports no Backend symbol: %w", path, err)
	}
	switch b := sym.(type) {
	case Backend:
		return b, nil
	case *Backend:
		if *b == nil {
			return nil, fmt.Errorf("pluginapi: %s exports a nil Backend", path)
		}
		return *b, nil
	default:
		return nil, fmt.Errorf("pluginapi: %s Backend symbol has type %T, want pluginapi.Backend", path, sym)
	}
}
