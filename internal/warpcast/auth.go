package warpcast

import (
	"context"
	"crypto/ecdsa"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/goccy/go-json"
	"github.com/tyler-smith/go-bip39"

	logx "propbot/pkg/logx"
)

var ErrInvalidRecoveryKey = errors.New("warpcast: invalid recovery key")

// AuthToken is a read token minted by /v2/auth. ExpiresAt is unix millis.
type AuthToken struct {
	Secret    string `json:"secret"`
	ExpiresAt int64  `json:"expiresAt"`
}

func (t AuthToken) Expiry() time.Time { return time.UnixMilli(t.ExpiresAt) }

// Field order is alphabetical at every level: the signed bytes must be the
// canonical JSON form of the request.
type authRequest struct {
	Method string     `json:"method"`
	Params authParams `json:"params"`
}

type authParams struct {
	ExpiresAt int64 `json:"expiresAt"`
	Timestamp int64 `json:"timestamp"`
}

type authResponse struct {
	Result struct {
		Token AuthToken `json:"token"`
	} `json:"result"`
}

// DecodeRecoveryKey turns the base64 recovery key Warpcast exports into
// its BIP-39 mnemonic.
func DecodeRecoveryKey(encoded string) (string, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidRecoveryKey)
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRecoveryKey, err)
	}
	mnemonic := strings.Join(strings.Fields(string(raw)), " ")
	if !bip39.IsMnemonicValid(mnemonic) {
		return "", fmt.Errorf("%w: not a bip39 mnemonic", ErrInvalidRecoveryKey)
	}
	return mnemonic, nil
}

// KeyFromMnemonic derives the custody key at m/44'/60'/0'/0/0.
func KeyFromMnemonic(mnemonic string) (*ecdsa.PrivateKey, error) {
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecoveryKey, err)
	}
	key, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("master key: %w", err)
	}
	for _, idx := range accounts.DefaultBaseDerivationPath {
		if key, err = key.Derive(idx); err != nil {
			return nil, fmt.Errorf("derive %s: %w", accounts.DefaultBaseDerivationPath, err)
		}
	}
	priv, err := key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("private key: %w", err)
	}
	return crypto.ToECDSA(priv.Serialize())
}

// SignPersonal signs msg the way personal_sign does (EIP-191 version 0x45)
// and returns r || s || v with v in {27, 28}.
func SignPersonal(key *ecdsa.PrivateKey, msg []byte) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(msg), key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// GenerateAuthToken mints a read token valid until expiresAt. The request
// is authorized by an EIP-191 signature over its own body.
func (c *Client) GenerateAuthToken(ctx context.Context, key *ecdsa.PrivateKey, expiresAt time.Time) (AuthToken, error) {
	body, err := json.Marshal(authRequest{
		Method: "generateToken",
		Params: authParams{ExpiresAt: expiresAt.UnixMilli(), Timestamp: time.Now().UnixMilli()},
	})
	if err != nil {
		return AuthToken{}, fmt.Errorf("marshal auth request: %w", err)
	}
	sig, err := SignPersonal(key, body)
	if err != nil {
		return AuthToken{}, fmt.Errorf("sign auth request: %w", err)
	}
	bearer := "eip191:" + base64.StdEncoding.EncodeToString(sig)

	var resp authResponse
	if err := c.do(ctx, http.MethodPut, "/v2/auth", nil, body, bearer, &resp); err != nil {
		return AuthToken{}, err
	}
	if resp.Result.Token.Secret == "" {
		return AuthToken{}, &APIError{Message: "auth response carried no token"}
	}
	c.log.Info("auth token generated", logx.Time("expires_at", resp.Result.Token.Expiry()))
	return resp.Result.Token, nil
}
