package crypto

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/divasettle/internal/domain"
)

// RecoverSigner returns the address that produced sig over digest. V must
// be 27 or 28 and the signature must be in canonical low-s form.
func RecoverSigner(digest common.Hash, sig domain.Signature) (common.Address, error) {
	if sig.V != 27 && sig.V != 28 {
		return common.Address{}, fmt.Errorf("crypto: recovery id %d: %w", sig.V, domain.ErrInvalidSignature)
	}
	r := new(big.Int).SetBytes(sig.R.Bytes())
	s := new(big.Int).SetBytes(sig.S.Bytes())
	if !ethcrypto.ValidateSignatureValues(sig.V-27, r, s, true) {
		return common.Address{}, fmt.Errorf("crypto: malformed signature: %w", domain.ErrInvalidSignature)
	}

	raw := sig.Bytes()
	raw[64] -= 27
	pub, err := ethcrypto.SigToPub(digest.Bytes(), raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: recover: %v: %w", err, domain.ErrInvalidSignature)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// VerifySignature succeeds iff sig over digest recovers to maker.
func VerifySignature(digest common.Hash, sig domain.Signature, maker common.Address) error {
	signer, err := RecoverSigner(digest, sig)
	if err != nil {
		return err
	}
	if signer != maker {
		return fmt.Errorf("crypto: signature does not match offer maker %s: %w", maker.Hex(), domain.ErrInvalidSignature)
	}
	return nil
}

// IsValidSignature is VerifySignature as a predicate.
func IsValidSignature(digest common.Hash, sig domain.Signature, maker common.Address) bool {
	return VerifySignature(digest, sig, maker) == nil
}

// VerifyOffer recomputes the offer hash under d, checks it against the
// stamped hash and domain, then verifies the maker's signature.
func VerifyOffer(d Domain, o domain.SignedOffer) (common.Hash, error) {
	if !d.Matches(o) {
		return common.Hash{}, fmt.Errorf("crypto: offer for chain %d contract %s: %w", o.ChainID, o.VerifyingContract.Hex(), domain.ErrDomainMismatch)
	}
	digest, err := d.HashOffer(o)
	if err != nil {
		return common.Hash{}, err
	}
	if o.OfferHash != (common.Hash{}) && o.OfferHash != digest {
		return common.Hash{}, fmt.Errorf("crypto: offer hash %s, computed %s: %w", o.OfferHash.Hex(), digest.Hex(), domain.ErrOfferHashMismatch)
	}
	if err := VerifySignature(digest, o.Signature, o.Maker()); err != nil {
		return common.Hash{}, err
	}
	return digest, nil
}
