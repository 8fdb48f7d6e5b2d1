// Command payload builds signed contribution attestations for the
// whitelist admin: given the admin key, a contributor address, a
// contribution limit and the current sale cap, it prints the signature the
// contributor must attach to their contribution.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/fosgate29/sale-box/pkgs/whitelist"
)

func main() {
	keyHex := flag.String("key", "", "admin private key (hex, no 0x prefix)")
	contributor := flag.String("contributor", "", "contributor address")
	limitStr := flag.String("limit", "", "contribution limit in wei")
	capStr := flag.String("cap", "", "current sale cap in wei")
	flag.Parse()

	if *keyHex == "" || *contributor == "" || *limitStr == "" || *capStr == "" {
		flag.Usage()
		os.Exit(2)
	}

	if !common.IsHexAddress(*contributor) {
		fatal("contributor is not a valid address: %s", *contributor)
	}
	limit, ok := new(big.Int).SetString(*limitStr, 10)
	if !ok || limit.Sign() <= 0 {
		fatal("limit is not a valid positive amount: %s", *limitStr)
	}
	saleCap, ok := new(big.Int).SetString(*capStr, 10)
	if !ok || saleCap.Sign() < 0 {
		fatal("cap is not a valid amount: %s", *capStr)
	}

	key, err := crypto.HexToECDSA(*keyHex)
	if err != nil {
		fatal("invalid admin key: %v", err)
	}

	addr := common.HexToAddress(*contributor)
	sig, err := whitelist.SignContribution(key, addr, limit, saleCap)
	if err != nil {
		fatal("signing failed: %v", err)
	}

	fmt.Printf("admin:       %s\n", crypto.PubkeyToAddress(key.PublicKey).Hex())
	fmt.Printf("contributor: %s\n", addr.Hex())
	fmt.Printf("limit:       %s\n", limit.String())
	fmt.Printf("cap:         %s\n", saleCap.String())
	fmt.Printf("hash:        0x%s\n", hex.EncodeToString(whitelist.ContributionHash(addr, limit, saleCap)))
	fmt.Printf("signature:   0x%s\n", hex.EncodeToString(sig))
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
