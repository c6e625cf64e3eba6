// Package identity resolves and verifies the principals that act on the
// ledger. A principal is an Ethereum address; callers prove control of it
// either with an EIP-191 personal-sign signature or with an issued API key.
package identity

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// maxAuthSkew bounds how far a signed auth timestamp may drift from server
// time before the signature is rejected as stale.
const maxAuthSkew = 5 * time.Minute

// NormalizeAddress validates a hex Ethereum address and returns its EIP-55
// checksummed form. All principals are stored and compared in this form.
func NormalizeAddress(addr string) (string, error) {
	if !common.IsHexAddress(addr) {
		return "", fmt.Errorf("identity: invalid address %q", addr)
	}
	return common.HexToAddress(addr).Hex(), nil
}

// AuthMessage builds the canonical challenge a caller signs to authenticate
// as the given address at the given unix timestamp.
func AuthMessage(address string, timestamp int64) string {
	return "betpool auth " + address + " " + strconv.FormatInt(timestamp, 10)
}

// personalHash computes the EIP-191 personal-sign digest:
//
//	keccak256("\x19Ethereum Signed Message:\n" || len(msg) || msg)
func personalHash(msg []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(msg))
	return ethcrypto.Keccak256([]byte(prefix), msg)
}

// VerifySignature checks that sigHex is a valid personal-sign signature over
// the canonical auth message for address at timestamp, and that the timestamp
// is within the allowed skew of now. On success it returns the normalized
// address the signature recovers to.
func VerifySignature(address string, timestamp int64, sigHex string, now time.Time) (string, error) {
	normalized, err := NormalizeAddress(address)
	if err != nil {
		return "", err
	}

	skew := now.Unix() - timestamp
	if skew < 0 {
		skew = -skew
	}
	if skew > int64(maxAuthSkew.Seconds()) {
		return "", fmt.Errorf("identity: auth timestamp outside allowed window")
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return "", fmt.Errorf("identity: invalid signature hex: %w", err)
	}
	if len(sig) != 65 {
		return "", fmt.Errorf("identity: expected 65-byte signature, got %d bytes", len(sig))
	}

	// Wallets emit v in {27,28}; go-ethereum recovery expects {0,1}.
	recSig := make([]byte, 65)
	copy(recSig, sig)
	if recSig[64] >= 27 {
		recSig[64] -= 27
	}

	digest := personalHash([]byte(AuthMessage(normalized, timestamp)))
	pub, err := ethcrypto.SigToPub(digest, recSig)
	if err != nil {
		return "", fmt.Errorf("identity: recover signer: %w", err)
	}

	recovered := ethcrypto.PubkeyToAddress(*pub)
	if recovered != common.HexToAddress(normalized) {
		return "", fmt.Errorf("identity: signature does not match address %s", normalized)
	}
	return normalized, nil
}

// SignAuth signs the canonical auth message with a hex-encoded secp256k1
// private key, returning the 0x-prefixed 65-byte signature. Used by client
// tooling and tests.
func SignAuth(privateKeyHex, address string, timestamp int64) (string, error) {
	normalized, err := NormalizeAddress(address)
	if err != nil {
		return "", err
	}

	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return "", fmt.Errorf("identity: invalid private key: %w", err)
	}

	digest := personalHash([]byte(AuthMessage(normalized, timestamp)))
	sig, err := ethcrypto.Sign(digest, pk)
	if err != nil {
		return "", fmt.Errorf("identity: signing: %w", err)
	}

	// go-ethereum returns v in {0,1}; wallets emit {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// AddressFor returns the EIP-55 address derived from a hex-encoded private
// key. Used by client tooling and tests.
func AddressFor(privateKeyHex string) (string, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return "", fmt.Errorf("identity: invalid private key: %w", err)
	}
	return ethcrypto.PubkeyToAddress(pk.PublicKey).Hex(), nil
}
