package custody

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

// NetworkParams is the public derivation data for a currency-network pair.
// The purpose/coin-type/account legs are hardened and therefore already
// baked into the account xpub by the custody system; only the change and
// address-index legs are derived here.
type NetworkParams struct {
	Purpose  uint32
	CoinType uint32
	Account  uint32
	Change   uint32
	Xpub     string
}

// AddressDeriver turns (network params, index) into a public deposit
// address. Implementations must never require or expose private key
// material; signing and custody live outside this service.
type AddressDeriver interface {
	Derive(params NetworkParams, index uint32) (string, error)
}

// XpubDeriver derives child addresses from a neutered account extended
// public key. Deriving from an xpub can only ever produce public keys, so
// this satisfies the no-key-material boundary by construction.
type XpubDeriver struct {
	chain *chaincfg.Params
}

func NewXpubDeriver(chain *chaincfg.Params) *XpubDeriver {
	if chain == nil {
		chain = &chaincfg.MainNetParams
	}
	return &XpubDeriver{chain: chain}
}

func (d *XpubDeriver) Derive(params NetworkParams, index uint32) (string, error) {
	if params.Xpub == "" {
		return "", fmt.Errorf("currency network has no account xpub configured")
	}
	accountKey, err := hdkeychain.NewKeyFromString(params.Xpub)
	if err != nil {
		return "", fmt.Errorf("invalid account xpub: %w", err)
	}
	if accountKey.IsPrivate() {
		return "", fmt.Errorf("refusing to derive from a private extended key")
	}

	changeKey, err := accountKey.Derive(params.Change)
	if err != nil {
		return "", err
	}
	childKey, err := changeKey.Derive(index)
	if err != nil {
		return "", err
	}

	address, err := childKey.Address(d.chain)
	if err != nil {
		return "", err
	}
	return address.EncodeAddress(), nil
}
