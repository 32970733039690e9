// Package storescp implements the passive Store-SCP: a C-STORE-RQ handler
// that wraps each received data set as a synthetic Part-10 file and
// publishes it to the mediator so the WADO-retrieve façade waiting on the
// triggering C-MOVE can stream it back over HTTP.
package storescp

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dicomweb-dimse/bridge/dicom"
	"github.com/dicomweb-dimse/bridge/dimse"
	dicomerrors "github.com/dicomweb-dimse/bridge/errors"
	"github.com/dicomweb-dimse/bridge/interfaces"
	"github.com/dicomweb-dimse/bridge/mediator"
	"github.com/dicomweb-dimse/bridge/metrics"
	"github.com/dicomweb-dimse/bridge/types"
)

// Handler implements interfaces.ServiceHandler for C-STORE-RQ, publishing
// each sub-operation to a Mediator under one topic per configured
// subscriber AET, keyed by the request's optional MoveOriginatorMessageID
// (zero when the peer omits it, which resolves through the AET-only
// fallback topic).
type Handler struct {
	med         *mediator.Mediator
	subscribers []string
	logger      *zerolog.Logger
}

// New builds a Store-SCP handler publishing onto med. subscribers is the
// list of configured AE titles whose retrieve façades rendezvous through
// this listener; every received sub-operation is offered to each of them.
func New(med *mediator.Mediator, subscribers []string, logger *zerolog.Logger) *Handler {
	if logger == nil {
		logger = &log.Logger
	}
	return &Handler{med: med, subscribers: subscribers, logger: logger}
}

// HandleDIMSE accepts a C-STORE-RQ, synthesizes a Part-10 file from the
// negotiated presentation context's transfer syntax and the command's SOP
// identifiers, and publishes it to every configured subscriber. The
// response always carries status Success: the SCP's job is to accept
// promiscuously, not to gatekeep on behalf of the retrieving client.
//
// A MissingCallback publish failure is logged and skipped (that subscriber
// has no retrieve in flight); a ChannelClosed failure aborts the peer
// connection, since the one consumer that existed is gone.
func (h *Handler) HandleDIMSE(ctx context.Context, msg *types.Message, data []byte, meta interfaces.MessageContext) (*types.Message, *dicom.Dataset, error) {
	if msg.CommandField != dimse.CStoreRQ {
		return nil, nil, fmt.Errorf("storescp: unsupported command 0x%04X", msg.CommandField)
	}

	file := synthesizeFile(msg, data, meta.TransferSyntaxUID)
	for _, subscriber := range h.subscribers {
		topic := mediator.Topic{Originator: subscriber, MessageID: msg.MoveOriginatorMessageID}
		err := h.med.Publish(ctx, topic, mediator.Item{SOPUID: msg.AffectedSOPInstanceUID, Data: file})
		switch {
		case err == nil:
			metrics.MoveSubOperations.WithLabelValues("delivered").Inc()
		case dicomerrors.IsMediatorChannelClosed(err):
			metrics.MoveSubOperations.WithLabelValues("channel_closed").Inc()
			return nil, nil, fmt.Errorf("storescp: subscriber %s dropped mid-retrieve: %w", subscriber, err)
		default:
			metrics.MoveSubOperations.WithLabelValues("missing_callback").Inc()
			h.logger.Warn().Str("topic", topic.String()).Str("sop_instance", msg.AffectedSOPInstanceUID).Err(err).
				Msg("mediator publish failed for C-STORE sub-operation")
		}
	}

	response := &types.Message{
		CommandField:              dimse.CStoreRSP,
		MessageIDBeingRespondedTo: msg.MessageID,
		AffectedSOPClassUID:       msg.AffectedSOPClassUID,
		AffectedSOPInstanceUID:    msg.AffectedSOPInstanceUID,
		CommandDataSetType:        0x0101, // No dataset present
		Status:                    dimse.StatusSuccess,
	}
	return response, nil, nil
}

// synthesizeFile attaches a File Meta Information header (group 0x0002) to
// a received data set, since DIMSE's wire format never transmits one:
// Media Storage SOP Class/Instance UID come from the command, the transfer
// syntax from the negotiated presentation context.
func synthesizeFile(msg *types.Message, dataset []byte, transferSyntaxUID string) []byte {
	if transferSyntaxUID == "" {
		transferSyntaxUID = dicom.TransferSyntaxImplicitVRLittleEndian
	}
	return dicom.BuildPart10(msg.AffectedSOPClassUID, msg.AffectedSOPInstanceUID, transferSyntaxUID, dataset)
}
