package crypto

import (
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/divasettle/internal/domain"
)

// requestPrefix opens every signed request message so a request signature
// can never be replayed as some other personal message.
const requestPrefix = "divasettle request"

// RequestMessage is the text a caller signs to authorise an HTTP write:
//
//	divasettle request
//	<METHOD> <request URI>
//	<unix timestamp>
//	<nonce>
//	<keccak256(body) hex>
func RequestMessage(method, uri string, timestamp int64, nonce string, body []byte) string {
	return requestPrefix + "\n" +
		method + " " + uri + "\n" +
		strconv.FormatInt(timestamp, 10) + "\n" +
		nonce + "\n" +
		ethcrypto.Keccak256Hash(body).Hex()
}

// RequestDigest is the EIP-191 personal-message digest of RequestMessage.
func RequestDigest(method, uri string, timestamp int64, nonce string, body []byte) common.Hash {
	return common.BytesToHash(accounts.TextHash([]byte(RequestMessage(method, uri, timestamp, nonce, body))))
}

// SignRequest signs the digest of a request for s's address.
func (s *Signer) SignRequest(method, uri string, timestamp int64, nonce string, body []byte) (domain.Signature, error) {
	return s.SignDigest(RequestDigest(method, uri, timestamp, nonce, body))
}

// ParseSignature decodes a 65-byte r || s || v hex signature. v may be
// 0/1 or 27/28.
func ParseSignature(s string) (domain.Signature, error) {
	raw, err := hexutil.Decode(s)
	if err != nil || len(raw) != 65 {
		return domain.Signature{}, fmt.Errorf("crypto: parse signature: %w", domain.ErrInvalidSignature)
	}
	v := raw[64]
	if v < 27 {
		v += 27
	}
	return domain.Signature{
		V: v,
		R: common.BytesToHash(raw[:32]),
		S: common.BytesToHash(raw[32:64]),
	}, nil
}
