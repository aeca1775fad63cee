package builderclient

import (
	"context"
	"sync"
	"time"

	builderApiV1 "github.com/attestantio/go-builder-client/api/v1"
	"github.com/attestantio/go-eth2-client/spec/phase0"
	ethcommon "github.com/ethereum/go-ethereum/common"
)

type MockBuilderClient struct {
	mu sync.Mutex

	MockBid           *Bid
	MockErr           error
	MockStatusErr     error
	MockUnblinded     *UnblindedPayload
	ResponseDelay     time.Duration
	Registrations     []*builderApiV1.SignedValidatorRegistration
	NumHeaderRequests int
}

func (c *MockBuilderClient) URL() string {
	return "mock-builder"
}

func (c *MockBuilderClient) GetHeader(ctx context.Context, slot uint64, parentHash ethcommon.Hash, pubkey phase0.BLSPubKey) (*Bid, error) {
	c.mu.Lock()
	c.NumHeaderRequests++
	bid, err, delay := c.MockBid, c.MockErr, c.ResponseDelay
	c.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return bid, err
}

func (c *MockBuilderClient) Status(ctx context.Context) error {
	return c.MockStatusErr
}

func (c *MockBuilderClient) RegisterValidators(ctx context.Context, registrations []*builderApiV1.SignedValidatorRegistration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Registrations = append(c.Registrations, registrations...)
	return c.MockErr
}

func (c *MockBuilderClient) SubmitBlindedBlock(ctx context.Context, version string, signedBlindedBlock []byte) (*UnblindedPayload, error) {
	return c.MockUnblinded, c.MockErr
}
