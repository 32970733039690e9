package client

import (
	"fmt"

	"github.com/dicomweb-dimse/bridge/dicom"
	"github.com/dicomweb-dimse/bridge/dimse"
	"github.com/dicomweb-dimse/bridge/types"
)

// CMoveRequest encapsulates a C-MOVE-RQ: the identifier selects which
// instances to move, MoveDestination names the AET the SCP should push
// the matching instances to (normally a co-hosted Store-SCP) over a
// separate association.
type CMoveRequest struct {
	SOPClassUID     string
	MessageID       uint16
	Priority        uint16
	MoveDestination string
	Dataset         *dicom.Dataset
}

// CMoveResponse represents a single C-MOVE-RSP. The SCU never receives
// instance data itself; NumberOfXxxSuboperations tracks sub-operation
// progress, and the actual files arrive out-of-band at the Store-SCP.
type CMoveResponse struct {
	Status                         uint16
	MessageID                      uint16
	NumberOfRemainingSuboperations *uint16
	NumberOfCompletedSuboperations *uint16
	NumberOfFailedSuboperations    *uint16
	NumberOfWarningSuboperations   *uint16
}

// SendCMove performs a DICOM C-MOVE operation, returning every response up
// to and including the terminal one. Callers correlate the sub-operations
// delivered to the Store-SCP using this request's MessageID as the
// MoveOriginatorMessageID topic key.
func (a *Association) SendCMove(req *CMoveRequest) ([]*CMoveResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("c-move request cannot be nil")
	}
	if req.Dataset == nil {
		return nil, fmt.Errorf("c-move request requires a dataset")
	}
	if req.MoveDestination == "" {
		return nil, fmt.Errorf("c-move request requires a move destination AET")
	}

	sopClass := req.SOPClassUID
	if sopClass == "" {
		sopClass = types.StudyRootQueryRetrieveInformationModelMove
	}

	messageID := req.MessageID
	if messageID == 0 {
		messageID = 1
	}

	priority := req.Priority
	if priority == 0 {
		priority = 0x0000 // Medium priority per DICOM PS3.7
	}

	presContextID, err := a.GetPresentationContextID(sopClass)
	if err != nil {
		return nil, err
	}

	datasetBytes := req.Dataset.EncodeDataset()

	command := &types.Message{
		CommandField:        dimse.CMoveRQ,
		MessageID:           messageID,
		Priority:            priority,
		AffectedSOPClassUID: sopClass,
		MoveDestination:     req.MoveDestination,
		CommandDataSetType:  0x0102, // Dataset present
	}

	commandData, err := dimse.EncodeCommand(command)
	if err != nil {
		return nil, fmt.Errorf("failed to encode C-MOVE command: %w", err)
	}

	if err := dimse.SendDIMSEMessage(a.conn, presContextID, a.maxPDULength, commandData, datasetBytes); err != nil {
		return nil, fmt.Errorf("failed to send C-MOVE request: %w", err)
	}

	var responses []*CMoveResponse
	for {
		responseCmd, _, err := dimse.ReceiveDIMSEMessage(a.conn)
		if err != nil {
			return responses, fmt.Errorf("failed to receive C-MOVE response: %w", err)
		}

		if responseCmd.CommandField != dimse.CMoveRSP {
			return responses, fmt.Errorf("unexpected response command: 0x%04X (expected C-MOVE-RSP)", responseCmd.CommandField)
		}

		response := &CMoveResponse{
			Status:                         responseCmd.Status,
			MessageID:                      responseCmd.MessageIDBeingRespondedTo,
			NumberOfRemainingSuboperations: responseCmd.NumberOfRemainingSuboperations,
			NumberOfCompletedSuboperations: responseCmd.NumberOfCompletedSuboperations,
			NumberOfFailedSuboperations:    responseCmd.NumberOfFailedSuboperations,
			NumberOfWarningSuboperations:   responseCmd.NumberOfWarningSuboperations,
		}
		responses = append(responses, response)

		if types.Classify(responseCmd.Status) != types.ClassPending {
			break
		}
	}

	return responses, nil
}
