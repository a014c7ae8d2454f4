package jsonrpcserver

import (
	"crypto/ecdsa"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

const SignatureHeader = "X-Flashbots-Signature"

var (
	ErrMalformedSignature = errors.New("malformed signature header")
	ErrSignatureMismatch  = errors.New("signature does not match signer")
)

func bodyDigest(body []byte) []byte {
	return accounts.TextHash([]byte(crypto.Keccak256Hash(body).Hex()))
}

// SignBody returns the signature header value "<address>:<signature>" where the
// signature is an EIP-191 personal signature of the hex keccak256 of body.
func SignBody(body []byte, key *ecdsa.PrivateKey) (string, error) {
	sig, err := crypto.Sign(bodyDigest(body), key)
	if err != nil {
		return "", err
	}
	return crypto.PubkeyToAddress(key.PublicKey).Hex() + ":" + hexutil.Encode(sig), nil
}

// VerifySignature checks a signature header against body and returns the signer.
func VerifySignature(header string, body []byte) (common.Address, error) {
	split := strings.Split(header, ":")
	if len(split) != 2 || !common.IsHexAddress(split[0]) {
		return common.Address{}, ErrMalformedSignature
	}
	claimed := common.HexToAddress(split[0])

	sig, err := hexutil.Decode(split[1])
	if err != nil || len(sig) != crypto.SignatureLength {
		return common.Address{}, ErrMalformedSignature
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(bodyDigest(body), sig)
	if err != nil {
		return common.Address{}, ErrMalformedSignature
	}
	if crypto.PubkeyToAddress(*pub) != claimed {
		return common.Address{}, ErrSignatureMismatch
	}
	return claimed, nil
}
