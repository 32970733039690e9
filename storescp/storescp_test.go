package storescp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dicomweb-dimse/bridge/dicom"
	"github.com/dicomweb-dimse/bridge/interfaces"
	"github.com/dicomweb-dimse/bridge/mediator"
	"github.com/dicomweb-dimse/bridge/types"
)

func storeRQ() *types.Message {
	return &types.Message{
		CommandField:            types.CStoreRQ,
		MessageID:               42,
		AffectedSOPClassUID:     "1.2.840.10008.5.1.4.1.1.2",
		AffectedSOPInstanceUID:  "1.2.3.4.5",
		MoveOriginatorAET:       "DICOM-RST",
		MoveOriginatorMessageID: 7,
	}
}

func TestHandleDIMSEPublishesToSubscriberTopic(t *testing.T) {
	med := mediator.New()
	topic := mediator.Topic{Originator: "ORTHANC", MessageID: 7}
	items, unsub := med.Subscribe(topic)
	defer unsub()

	h := New(med, []string{"ORTHANC"}, nil)
	resp, ds, err := h.HandleDIMSE(context.Background(), storeRQ(), []byte{0x01, 0x02}, interfaces.MessageContext{
		PresentationContextID: 3,
		TransferSyntaxUID:     dicom.TransferSyntaxExplicitVRLittleEndian,
	})
	require.NoError(t, err)
	assert.Nil(t, ds)

	assert.Equal(t, uint16(types.CStoreRSP), uint16(resp.CommandField))
	assert.Equal(t, uint16(42), resp.MessageIDBeingRespondedTo)
	assert.Equal(t, "1.2.3.4.5", resp.AffectedSOPInstanceUID)
	assert.Equal(t, uint16(types.StatusSuccess), uint16(resp.Status))

	item := <-items
	assert.False(t, item.Done)
	assert.Equal(t, "1.2.3.4.5", item.SOPUID)
	// The published bytes are a synthetic Part-10 file, not the raw data
	// set: the peer never sends File Meta Information over DIMSE.
	assert.True(t, dicom.HasPart10Header(item.Data))
}

func TestHandleDIMSEBroadcastsToEverySubscriber(t *testing.T) {
	med := mediator.New()
	itemsA, unsubA := med.Subscribe(mediator.Topic{Originator: "ORTHANC", MessageID: 7})
	defer unsubA()
	itemsB, unsubB := med.Subscribe(mediator.Topic{Originator: "SEQPACS", MessageID: 7})
	defer unsubB()

	h := New(med, []string{"ORTHANC", "SEQPACS"}, nil)
	_, _, err := h.HandleDIMSE(context.Background(), storeRQ(), nil, interfaces.MessageContext{})
	require.NoError(t, err)

	assert.Equal(t, "1.2.3.4.5", (<-itemsA).SOPUID)
	assert.Equal(t, "1.2.3.4.5", (<-itemsB).SOPUID)
}

func TestHandleDIMSEFallsBackToAETOnlyTopic(t *testing.T) {
	med := mediator.New()
	items, unsub := med.Subscribe(mediator.Topic{Originator: "ORTHANC"})
	defer unsub()

	msg := storeRQ()
	msg.MoveOriginatorMessageID = 0 // peer dropped the optional attribute

	h := New(med, []string{"ORTHANC"}, nil)
	_, _, err := h.HandleDIMSE(context.Background(), msg, nil, interfaces.MessageContext{})
	require.NoError(t, err)

	item := <-items
	assert.Equal(t, "1.2.3.4.5", item.SOPUID)
}

func TestHandleDIMSERejectsNonStoreCommands(t *testing.T) {
	h := New(mediator.New(), []string{"ORTHANC"}, nil)
	msg := storeRQ()
	msg.CommandField = types.CFindRQ

	_, _, err := h.HandleDIMSE(context.Background(), msg, nil, interfaces.MessageContext{})
	assert.Error(t, err)
}

func TestHandleDIMSESucceedsWithNoSubscription(t *testing.T) {
	// A missing callback is the Store-SCP's cue to keep serving the peer:
	// the response still reports Success even though no subscriber had a
	// retrieve in flight.
	h := New(mediator.New(), []string{"ORTHANC"}, nil)
	resp, _, err := h.HandleDIMSE(context.Background(), storeRQ(), nil, interfaces.MessageContext{})
	require.NoError(t, err)
	assert.Equal(t, uint16(types.StatusSuccess), uint16(resp.Status))
}

func TestHandleDIMSEAbortsOnDroppedSubscriber(t *testing.T) {
	med := mediator.New()
	topic := mediator.Topic{Originator: "ORTHANC", MessageID: 7}
	_, unsub := med.Subscribe(topic)

	h := New(med, []string{"ORTHANC"}, nil)
	// Fill the subscription's buffer so the handler's publish blocks, then
	// drop the subscription mid-delivery: the publish must fail with a
	// closed channel and the handler must abort the peer loop.
	require.NoError(t, med.Publish(context.Background(), topic, mediator.Item{SOPUID: "1.1"}))
	go func() {
		time.Sleep(20 * time.Millisecond)
		unsub()
	}()

	_, _, err := h.HandleDIMSE(context.Background(), storeRQ(), nil, interfaces.MessageContext{})
	assert.Error(t, err)
}
