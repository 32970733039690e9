// Package interfaces contains all service and handler interfaces
package interfaces

import (
	"context"

	"github.com/dicomweb-dimse/bridge/dicom"
	"github.com/dicomweb-dimse/bridge/types"
)

// MessageContext carries the per-message facts the PDU/DIMSE layer already
// knows and a service handler would otherwise have to re-derive: which
// presentation context the message arrived on, the transfer syntax
// negotiated for it, and (when a data set was present) its already-parsed
// form so a handler rarely needs to call dicom.ParseDatasetWithTransferSyntax
// itself.
type MessageContext struct {
	PresentationContextID byte
	TransferSyntaxUID     string
	Dataset               *dicom.Dataset
}

// ServiceHandler interface for handling DIMSE operations
type ServiceHandler interface {
	HandleDIMSE(ctx context.Context, msg *types.Message, data []byte, meta MessageContext) (*types.Message, *dicom.Dataset, error)
}

// StreamingServiceHandler interface for multi-response DIMSE operations
type StreamingServiceHandler interface {
	HandleDIMSEStreaming(ctx context.Context, msg *types.Message, data []byte, meta MessageContext, responder ResponseSender) error
}

// ResponseSender interface for sending intermediate responses
type ResponseSender interface {
	SendResponse(msg *types.Message, dataset *dicom.Dataset, transferSyntaxUID string) error
}

// CGetResponder interface for C-GET operations that need to send C-STORE sub-operations
type CGetResponder interface {
	ResponseSender
	// SendCStore sends a C-STORE sub-operation on the same association
	SendCStore(sopClassUID, sopInstanceUID string, data []byte) error
}
