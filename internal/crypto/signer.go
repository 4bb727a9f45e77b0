package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/divasettle/internal/domain"
)

// Signer signs offer digests with a maker's secp256k1 key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// GenerateSigner creates a Signer with a fresh random key.
func GenerateSigner() (*Signer, error) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: generating key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the Ethereum address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignDigest signs a 32-byte digest and returns the signature with v in
// {27,28}.
func (s *Signer) SignDigest(digest common.Hash) (domain.Signature, error) {
	sig, err := ethcrypto.Sign(digest.Bytes(), s.privateKey)
	if err != nil {
		return domain.Signature{}, fmt.Errorf("crypto/signer: signing: %w", err)
	}
	// go-ethereum returns v in {0,1}; EIP-712 expects v in {27,28}.
	return domain.Signature{
		R: common.BytesToHash(sig[:32]),
		S: common.BytesToHash(sig[32:64]),
		V: sig[64] + 27,
	}, nil
}

// SignOffer hashes o under d, signs the digest and stamps the domain, hash
// and signature onto o. The offer's maker must be the signer.
func (s *Signer) SignOffer(d Domain, o *domain.SignedOffer) error {
	if o.Maker() != s.address {
		return fmt.Errorf("crypto/signer: maker %s is not signer %s: %w", o.Maker().Hex(), s.address.Hex(), domain.ErrNotMaker)
	}
	digest, err := d.HashOffer(*o)
	if err != nil {
		return err
	}
	sig, err := s.SignDigest(digest)
	if err != nil {
		return err
	}
	o.ChainID = d.ChainID
	o.VerifyingContract = d.VerifyingContract
	o.OfferHash = digest
	o.Signature = sig
	return nil
}
