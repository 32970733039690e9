package assocpool

import (
	"context"
	"testing"
	"time"

	"github.com/dicomweb-dimse/bridge/client"
	"github.com/stretchr/testify/assert"
)

func TestKeyString(t *testing.T) {
	k := Key{CallingAET: "BRIDGE", CalledAET: "PACS", Address: "10.0.0.1:104"}
	assert.Equal(t, "BRIDGE->PACS@10.0.0.1:104", k.String())
}

func TestAcquireTimesOutWhenBucketIsFull(t *testing.T) {
	p := New(Options{
		MaxPerKey:      1,
		AcquireTimeout: 20 * time.Millisecond,
		Dial: func(ctx context.Context, key Key) (*client.Association, error) {
			t.Fatal("dial should not be reached when the bucket is saturated")
			return nil, nil
		},
	})

	key := Key{CallingAET: "BRIDGE", CalledAET: "PACS", Address: "pacs:104"}
	b := p.bucketFor(key)
	b.sem <- struct{}{} // occupy the only slot

	_, err := p.Acquire(context.Background(), key)
	assert.Error(t, err)
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	p := New(Options{
		MaxPerKey: 1,
		Dial: func(ctx context.Context, key Key) (*client.Association, error) {
			t.Fatal("dial should not be reached")
			return nil, nil
		},
	})

	key := Key{CallingAET: "BRIDGE", CalledAET: "PACS", Address: "pacs:104"}
	b := p.bucketFor(key)
	b.sem <- struct{}{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Acquire(ctx, key)
	assert.Error(t, err)
}
