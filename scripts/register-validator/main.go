package main

//
// Signs a validator registration with a fresh key and posts it to a running bridge
//

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	builderApiV1 "github.com/attestantio/go-builder-client/api/v1"
	"github.com/flashbots/execution-bridge/common"
	"github.com/flashbots/go-boost-utils/bls"
	"github.com/flashbots/go-boost-utils/ssz"
	"github.com/flashbots/go-boost-utils/utils"
)

var (
	bridgeURI    = common.GetEnv("BRIDGE_URI", "http://localhost:18550")
	forkVersion  = common.GetEnv("GENESIS_FORK_VERSION", "0x00000000")
	feeRecipient = common.GetEnv("FEE_RECIPIENT", "0xdb65fEd33dc262Fe09D9a2Ba8F80b329BA25f941")
	gasLimit     = common.GetEnvInt("GAS_LIMIT", 30000000)
)

func Perr(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {
	domain, err := common.ComputeBuilderDomain(forkVersion)
	Perr(err)

	sk, pubkey, err := bls.GenerateNewKeypair()
	Perr(err)

	registration := builderApiV1.ValidatorRegistration{ //nolint:exhaustruct
		GasLimit:  uint64(gasLimit),
		Timestamp: time.Now().UTC().Truncate(time.Second),
	}
	registration.Pubkey, err = utils.HexToPubkey(fmt.Sprintf("0x%x", bls.PublicKeyToBytes(pubkey)))
	Perr(err)
	registration.FeeRecipient, err = utils.HexToAddress(feeRecipient)
	Perr(err)

	sig, err := ssz.SignMessage(&registration, domain, sk)
	Perr(err)

	payload, err := json.Marshal([]*builderApiV1.SignedValidatorRegistration{{
		Message:   &registration,
		Signature: sig,
	}})
	Perr(err)

	url := strings.TrimRight(bridgeURI, "/") + "/eth/v1/bridge/validators"
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload)) //nolint:gosec,noctx
	Perr(err)
	defer resp.Body.Close()

	fmt.Println("pubkey:", registration.Pubkey.String())
	fmt.Println("sig:   ", sig.String())
	fmt.Println("status:", resp.Status)
}
