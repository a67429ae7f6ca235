package custody

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
)

// BIP32 test vector 1, master public key. Non-hardened child derivation from
// it is all the deriver needs.
const testXpub = "xpub661MyMwAqRbcFtXgS5sYJABqqG9YLmC4Q1Rdap9gSE8NqtwybGhePY2gZ29ESFjqJoCu1Rupje8YtGqsefD265TMg7usUDFdp6W1EGMcet8"

// matching private key, must be refused
const testXprv = "xprv9s21ZrQH143K3QTDL4LXw2F7HEK3wJUD2nW2nRk4stbPy6cq3jPPqjiChkVvvNKmPGJxWUtg6LnF5kejMRNNU3TGtRBeJgk33yuGBxrMPHi"

func TestDeriveDeterministic(t *testing.T) {
	deriver := NewXpubDeriver(&chaincfg.MainNetParams)
	params := NetworkParams{Change: 0, Xpub: testXpub}

	first, err := deriver.Derive(params, 0)
	assert.NoError(t, err)
	second, err := deriver.Derive(params, 0)
	assert.NoError(t, err)
	assert.Equal(t, first, second)
	assert.NotEmpty(t, first)
}

func TestDeriveDistinctIndexes(t *testing.T) {
	deriver := NewXpubDeriver(&chaincfg.MainNetParams)
	params := NetworkParams{Change: 0, Xpub: testXpub}

	seen := map[string]bool{}
	for index := uint32(0); index < 10; index++ {
		address, err := deriver.Derive(params, index)
		assert.NoError(t, err)
		assert.False(t, seen[address], "index %d produced a duplicate address", index)
		seen[address] = true
	}
}

func TestDeriveDistinctChangeLegs(t *testing.T) {
	deriver := NewXpubDeriver(&chaincfg.MainNetParams)

	external, err := deriver.Derive(NetworkParams{Change: 0, Xpub: testXpub}, 0)
	assert.NoError(t, err)
	internal, err := deriver.Derive(NetworkParams{Change: 1, Xpub: testXpub}, 0)
	assert.NoError(t, err)
	assert.NotEqual(t, external, internal)
}

func TestDeriveRefusesPrivateKey(t *testing.T) {
	deriver := NewXpubDeriver(&chaincfg.MainNetParams)
	_, err := deriver.Derive(NetworkParams{Xpub: testXprv}, 0)
	assert.Error(t, err)
}

func TestDeriveRequiresXpub(t *testing.T) {
	deriver := NewXpubDeriver(&chaincfg.MainNetParams)
	_, err := deriver.Derive(NetworkParams{}, 0)
	assert.Error(t, err)
}

func TestDeriveRejectsGarbage(t *testing.T) {
	deriver := NewXpubDeriver(&chaincfg.MainNetParams)
	_, err := deriver.Derive(NetworkParams{Xpub: "not-an-xpub"}, 0)
	assert.Error(t, err)
}
