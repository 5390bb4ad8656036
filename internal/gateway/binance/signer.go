package binance

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"
)

// Signer signs requests for Binance futures endpoints: it stamps the
// query, appends an HMAC-SHA256 signature over it, and sets the API key
// header.
type Signer struct {
	apiKey    string
	secretKey string
}

// NewSigner creates a request signer from API credentials.
func NewSigner(apiKey, secretKey string) *Signer {
	return &Signer{apiKey: apiKey, secretKey: secretKey}
}

// SignRequest implements the http client's Signer interface.
func (s *Signer) SignRequest(req *http.Request) error {
	q := req.URL.Query()
	q.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	q.Set("recvWindow", "5000")

	mac := hmac.New(sha256.New, []byte(s.secretKey))
	mac.Write([]byte(q.Encode()))
	q.Set("signature", hex.EncodeToString(mac.Sum(nil)))

	req.URL.RawQuery = q.Encode()
	req.Header.Set("X-MBX-APIKEY", s.apiKey)
	return nil
}
