package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	ErrInvalid = errors.New("invalid token")
	ErrExpired = errors.New("token expired")
)

// payload structure for encoding/decoding. Field names are shortened to keep
// pixel URLs small.
type payload struct {
	ReqID    string `json:"r"`
	AdID     string `json:"a"`
	UserID   string `json:"u"`
	Location string `json:"l"`
	TS       int64  `json:"t"`
}

// Payload holds the verified identifiers carried by a pixel token.
type Payload struct {
	RequestID string
	AdID      string
	UserID    string
	Location  string
}

// Generate creates a signed pixel token binding a request, ad, user and
// display location together so counters cannot be inflated with forged URLs.
func Generate(requestID, adID, userID, location string, secret []byte) (string, error) {
	pl := payload{
		ReqID:    requestID,
		AdID:     adID,
		UserID:   userID,
		Location: location,
		TS:       time.Now().Unix(),
	}
	data, err := json.Marshal(pl)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(data)
	sig := mac.Sum(nil)

	enc := base64.RawURLEncoding
	return enc.EncodeToString(data) + "." + enc.EncodeToString(sig), nil
}

// Verify checks the token integrity and expiry and returns the payload values.
func Verify(token string, secret []byte, ttl time.Duration) (Payload, error) {
	var out Payload
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return out, ErrInvalid
	}
	enc := base64.RawURLEncoding
	data, err := enc.DecodeString(parts[0])
	if err != nil {
		return out, ErrInvalid
	}
	sig, err := enc.DecodeString(parts[1])
	if err != nil {
		return out, ErrInvalid
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(data)
	if !hmac.Equal(mac.Sum(nil), sig) {
		return out, ErrInvalid
	}

	var pl payload
	if err := json.Unmarshal(data, &pl); err != nil {
		return out, ErrInvalid
	}
	if ttl > 0 && time.Since(time.Unix(pl.TS, 0)) > ttl {
		return out, ErrExpired
	}
	out.RequestID = pl.ReqID
	out.AdID = pl.AdID
	out.UserID = pl.UserID
	out.Location = pl.Location
	return out, nil
}
