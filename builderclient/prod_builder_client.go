// Package builderclient talks to an external block builder over the builder-api
package builderclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	builderApiV1 "github.com/attestantio/go-builder-client/api/v1"
	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/buger/jsonparser"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	pathStatus             = "/eth/v1/builder/status"
	pathRegisterValidators = "/eth/v1/builder/validators"
	pathBlindedBlocks      = "/eth/v1/builder/blinded_blocks"

	headerConsensusVersion = "Eth-Consensus-Version"
)

type IBuilderClient interface {
	// GetHeader returns (nil, nil) if the builder has no bid for the slot
	GetHeader(ctx context.Context, slot uint64, parentHash ethcommon.Hash, pubkey phase0.BLSPubKey) (*Bid, error)
	Status(ctx context.Context) error
	RegisterValidators(ctx context.Context, registrations []*builderApiV1.SignedValidatorRegistration) error
	SubmitBlindedBlock(ctx context.Context, version string, signedBlindedBlock []byte) (*UnblindedPayload, error)
	URL() string
}

// UnblindedPayload is the builder's answer to a signed blinded block
type UnblindedPayload struct {
	Version string          `json:"version"`
	Data    json.RawMessage `json:"data"`
}

// BlockHash extracts the execution block hash from either the bare payload or the deneb payload-and-blobs container
func (p *UnblindedPayload) BlockHash() (ethcommon.Hash, error) {
	for _, path := range [][]string{{"block_hash"}, {"execution_payload", "block_hash"}} {
		value, err := jsonparser.GetString(p.Data, path...)
		if err == nil {
			return ethcommon.HexToHash(value), nil
		}
	}
	return ethcommon.Hash{}, fmt.Errorf("%w: payload without block hash", ErrInvalidResponse)
}

type ProdBuilderClient struct {
	log    *logrus.Entry
	url    string
	client *http.Client
}

func NewProdBuilderClient(log *logrus.Entry, builderURL string, timeout time.Duration) *ProdBuilderClient {
	builderURL = strings.TrimRight(builderURL, "/")
	return &ProdBuilderClient{
		log:    log.WithField("builder", builderURL),
		url:    builderURL,
		client: &http.Client{Timeout: timeout},
	}
}

func (c *ProdBuilderClient) URL() string {
	return c.url
}

// GetHeader - https://ethereum.github.io/builder-specs/#/Builder/getHeader
func (c *ProdBuilderClient) GetHeader(ctx context.Context, slot uint64, parentHash ethcommon.Hash, pubkey phase0.BLSPubKey) (*Bid, error) {
	uri := fmt.Sprintf("%s/eth/v1/builder/header/%d/%s/%s", c.url, slot, parentHash.Hex(), pubkey.String())
	c.log.WithFields(logrus.Fields{
		"slot":       slot,
		"parentHash": parentHash.Hex(),
	}).Debug("requesting header")
	code, body, err := fetch(ctx, c.client, http.MethodGet, uri, nil, nil)
	if err != nil {
		return nil, err
	}
	if code == http.StatusNoContent || len(body) == 0 {
		return nil, nil
	}
	return parseBid(body)
}

// Status - https://ethereum.github.io/builder-specs/#/Builder/status
func (c *ProdBuilderClient) Status(ctx context.Context) error {
	_, _, err := fetch(ctx, c.client, http.MethodGet, c.url+pathStatus, nil, nil)
	return err
}

// RegisterValidators - https://ethereum.github.io/builder-specs/#/Builder/registerValidator
func (c *ProdBuilderClient) RegisterValidators(ctx context.Context, registrations []*builderApiV1.SignedValidatorRegistration) error {
	payload, err := json.Marshal(registrations)
	if err != nil {
		return errors.Wrap(err, "could not marshal validator registrations")
	}
	_, _, err = fetch(ctx, c.client, http.MethodPost, c.url+pathRegisterValidators, payload, nil)
	return err
}

// SubmitBlindedBlock - https://ethereum.github.io/builder-specs/#/Builder/submitBlindedBlock
func (c *ProdBuilderClient) SubmitBlindedBlock(ctx context.Context, version string, signedBlindedBlock []byte) (*UnblindedPayload, error) {
	headers := http.Header{}
	headers.Set(headerConsensusVersion, version)
	_, body, err := fetch(ctx, c.client, http.MethodPost, c.url+pathBlindedBlocks, signedBlindedBlock, headers)
	if err != nil {
		return nil, err
	}

	resp := new(UnblindedPayload)
	if err := json.Unmarshal(body, resp); err != nil {
		return nil, errors.Wrap(ErrInvalidResponse, err.Error())
	}
	if len(resp.Data) == 0 {
		return nil, errors.Wrap(ErrInvalidResponse, "empty data")
	}
	return resp, nil
}
