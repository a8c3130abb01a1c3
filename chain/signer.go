package chain

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// KeySigner signs with an in-memory ECDSA key
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
	signer  types.Signer
}

// NewKeySigner parses a hex private key (without 0x) for chainID.
func NewKeySigner(hexKey string, chainID *big.Int) (*KeySigner, error) {
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return NewKeySignerFromKey(key, chainID), nil
}

func NewKeySignerFromKey(key *ecdsa.PrivateKey, chainID *big.Int) *KeySigner {
	return &KeySigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		signer:  types.LatestSignerForChainID(chainID),
	}
}

func (s *KeySigner) Address() common.Address {
	return s.address
}

// SignTransaction signs tx and returns its binary encoding.
func (s *KeySigner) SignTransaction(tx *types.Transaction) ([]byte, error) {
	signed, err := types.SignTx(tx, s.signer, s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signed.MarshalBinary()
}
