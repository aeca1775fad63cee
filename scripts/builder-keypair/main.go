// builder-keypair creates a BLS keypair for a local test builder and prints
// the signing domain its bids have to be signed for.
package main

import (
	"fmt"
	"log"

	"github.com/flashbots/execution-bridge/common"
	"github.com/flashbots/go-boost-utils/bls"
)

func main() {
	forkVersion := common.GetEnv("GENESIS_FORK_VERSION", "0x00000000")
	domain, err := common.ComputeBuilderDomain(forkVersion)
	if err != nil {
		log.Fatal(err.Error())
	}

	sk, pk, err := bls.GenerateNewKeypair()
	if err != nil {
		log.Fatal(err.Error())
	}

	fmt.Printf("secret key:     0x%x\n", bls.SecretKeyToBytes(sk))
	fmt.Printf("BUILDER_PUBKEY: 0x%x\n", bls.PublicKeyToBytes(pk))
	fmt.Printf("builder domain: 0x%x (fork version %s)\n", domain[:], forkVersion)
}
