package warpcast

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/", AuthToken: "read-token", APIKey: "send-key"})
}

func TestMeUsesBearerToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/me", r.URL.Path)
		assert.Equal(t, "Bearer read-token", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"result":{"user":{"fid":1234,"username":"builderbot"}}}`)
	})

	u, err := c.Me(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1234, u.FID)
}

func TestFollowersPaginatesToExhaustion(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "100", r.URL.Query().Get("limit"))
		switch r.URL.Query().Get("cursor") {
		case "":
			_, _ = io.WriteString(w, `{"result":{"users":[{"fid":1},{"fid":2}]},"next":{"cursor":"c2"}}`)
		case "c2":
			_, _ = io.WriteString(w, `{"result":{"users":[{"fid":3}]}}`)
		default:
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("cursor"))
		}
	})

	users, err := c.Followers(context.Background(), 1234)
	require.NoError(t, err)
	require.Len(t, users, 3)
	require.EqualValues(t, 3, users[2].FID)
	require.EqualValues(t, 2, calls.Load())
}

func TestErrorsArrayIsAnError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"errors":[{"message":"Unauthorized"}]}`)
	})

	_, err := c.Verifications(context.Background(), 7)
	var ae *APIError
	require.ErrorAs(t, err, &ae)
	require.Equal(t, "Unauthorized", ae.Message)
}

func TestUserByVerificationNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("address") == "0xabc" {
			_, _ = io.WriteString(w, `{"result":{"user":{"fid":77}}}`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"errors":[{"message":"No FID has connected 0xdef"}]}`)
	})

	u, ok, err := c.UserByVerification(context.Background(), "0xABC")
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 77, u.FID)

	_, ok, err = c.UserByVerification(context.Background(), "0xdef")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSendDirectCast(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/v2/ext-send-direct-cast", r.URL.Path)
		assert.Equal(t, "Bearer send-key", r.Header.Get("Authorization"))
		var body sendRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.EqualValues(t, 42, body.RecipientFID)
		assert.Equal(t, "hello", body.Message)
		assert.Equal(t, "key", body.IdempotencyKey)
		_, _ = io.WriteString(w, `{"result":{"success":true}}`)
	})

	res, err := c.SendDirectCast(context.Background(), 42, "hello", "key")
	require.NoError(t, err)
	require.True(t, res.Success)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "upstream down")
	})

	for i := 0; i < 5; i++ {
		_, err := c.Me(context.Background())
		require.Error(t, err)
		require.True(t, strings.Contains(err.Error(), "502"), "err=%v", err)
	}
	_, err := c.Me(context.Background())
	require.True(t, errors.Is(err, gobreaker.ErrOpenState), "err=%v", err)
	require.EqualValues(t, 5, hits.Load())
}

// Hardhat's default account 0.
const (
	testMnemonic = "test test test test test test test test test test test junk"
	testAddress  = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func TestDecodeRecoveryKey(t *testing.T) {
	enc := base64.StdEncoding.EncodeToString([]byte("  " + testMnemonic + "\n"))
	got, err := DecodeRecoveryKey(enc)
	require.NoError(t, err)
	assert.Equal(t, testMnemonic, got)

	for _, bad := range []string{"", "%%%", base64.StdEncoding.EncodeToString([]byte("not a mnemonic"))} {
		_, err := DecodeRecoveryKey(bad)
		assert.ErrorIs(t, err, ErrInvalidRecoveryKey, "input %q", bad)
	}
}

func TestKeyFromMnemonicUsesDefaultPath(t *testing.T) {
	key, err := KeyFromMnemonic(testMnemonic)
	require.NoError(t, err)
	assert.Equal(t, testAddress, crypto.PubkeyToAddress(key.PublicKey).Hex())
}

func TestGenerateAuthTokenSignsCanonicalBody(t *testing.T) {
	key, err := KeyFromMnemonic(testMnemonic)
	require.NoError(t, err)
	expires := time.UnixMilli(1_900_000_000_000)

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/v2/auth", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.Regexp(t, `^\{"method":"generateToken","params":\{"expiresAt":1900000000000,"timestamp":\d+\}\}$`, string(body))

		auth := r.Header.Get("Authorization")
		assert.True(t, strings.HasPrefix(auth, "Bearer eip191:"), auth)
		sig, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Bearer eip191:"))
		if assert.NoError(t, err) && assert.Len(t, sig, 65) {
			assert.Contains(t, []byte{27, 28}, sig[64])
			sig[64] -= 27
			pub, err := crypto.SigToPub(accounts.TextHash(body), sig)
			if assert.NoError(t, err) {
				assert.Equal(t, testAddress, crypto.PubkeyToAddress(*pub).Hex())
			}
		}

		_, _ = io.WriteString(w, `{"result":{"token":{"secret":"MK-abc","expiresAt":1900000000000}}}`)
	})

	tok, err := c.GenerateAuthToken(context.Background(), key, expires)
	require.NoError(t, err)
	assert.Equal(t, "MK-abc", tok.Secret)
	assert.True(t, tok.Expiry().Equal(expires))
}

func TestGenerateAuthTokenRejectsEmptyToken(t *testing.T) {
	key, err := KeyFromMnemonic(testMnemonic)
	require.NoError(t, err)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"result":{}}`)
	})
	_, err = c.GenerateAuthToken(context.Background(), key, time.Now().Add(time.Hour))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
}
