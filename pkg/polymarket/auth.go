package polymarket

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"
)

// Auth holds the CLOB L2 API credentials. Requests are signed with
// HMAC-SHA256 over timestamp + method + path + body; the venue's order
// signing protocol itself (EIP-712) is outside this client's contract.
type Auth struct {
	Address    string
	APIKey     string
	APISecret  string
	Passphrase string
}

// NewAuth creates credentials for order submission. All four values are
// required.
func NewAuth(address, apiKey, apiSecret, passphrase string) (*Auth, error) {
	if address == "" || apiKey == "" || apiSecret == "" || passphrase == "" {
		return nil, fmt.Errorf("incomplete CLOB credentials")
	}
	return &Auth{
		Address:    address,
		APIKey:     apiKey,
		APISecret:  apiSecret,
		Passphrase: passphrase,
	}, nil
}

// AddHeaders attaches the L2 auth headers to a request.
func (a *Auth) AddHeaders(req *http.Request, method, path, body string) {
	timestamp := fmt.Sprintf("%d", time.Now().Unix())
	req.Header.Set("POLY_ADDRESS", a.Address)
	req.Header.Set("POLY_SIGNATURE", a.sign(timestamp, method, path, body))
	req.Header.Set("POLY_TIMESTAMP", timestamp)
	req.Header.Set("POLY_API_KEY", a.APIKey)
	req.Header.Set("POLY_PASSPHRASE", a.Passphrase)
}

func (a *Auth) sign(timestamp, method, path, body string) string {
	// The API secret is issued base64url-encoded; fall back to the raw
	// bytes when it is not.
	secret, err := base64.URLEncoding.DecodeString(a.APISecret)
	if err != nil {
		secret = []byte(a.APISecret)
	}

	message := timestamp + method + path + body
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(h.Sum(nil))
}
