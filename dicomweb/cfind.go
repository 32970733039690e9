package dicomweb

import (
	"context"
	"fmt"

	"github.com/dicomweb-dimse/bridge/client"
	"github.com/dicomweb-dimse/bridge/dicom"
	"github.com/dicomweb-dimse/bridge/types"
)

// runFind leases an association from rt's pool, sends a single C-FIND with
// identifier against sopClass, and collects every matching dataset. The
// lease is released on success and discarded if the exchange errors, per
// the pool's recycle-on-reuse contract.
func runFind(ctx context.Context, rt *AETRuntime, sopClass string, identifier *dicom.Dataset) ([]*dicom.Dataset, error) {
	lease, err := rt.Pool.Acquire(ctx, rt.PoolKey())
	if err != nil {
		return nil, fmt.Errorf("dicomweb: acquire association: %w", err)
	}

	messageID := client.NextMessageID()
	result, err := lease.Worker().Execute(ctx, func(a *client.Association) (any, error) {
		return a.SendCFind(&client.CFindRequest{
			SOPClassUID: sopClass,
			MessageID:   messageID,
			Dataset:     identifier,
		})
	})
	if err != nil {
		lease.Discard()
		return nil, fmt.Errorf("dicomweb: c-find: %w", err)
	}
	lease.Release()

	responses := result.([]*client.CFindResponse)
	var matches []*dicom.Dataset
	for _, resp := range responses {
		if types.Classify(resp.Status) == types.ClassPending && resp.Dataset != nil {
			matches = append(matches, resp.Dataset)
			continue
		}
		if types.Classify(resp.Status) == types.ClassFailure {
			return matches, fmt.Errorf("dicomweb: c-find failed with status 0x%04X", resp.Status)
		}
	}
	return matches, nil
}
