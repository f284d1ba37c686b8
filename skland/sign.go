package skland

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

const (
	signPlatform = "3"
	signVersion  = "1.0.0"

	// The API rejects timestamps ahead of its own clock.
	signClockSkew = 2
)

// signHeader must marshal with fields in this exact order.
type signHeader struct {
	Platform  string `json:"platform"`
	Timestamp string `json:"timestamp"`
	DID       string `json:"dId"`
	VName     string `json:"vName"`
}

// Sign computes the sign header for a request to path. payload is the raw
// query string for GET requests or the JSON body for POST requests.
func Sign(key, path, payload, timestamp, deviceID string) string {
	header, _ := json.Marshal(signHeader{
		Platform:  signPlatform,
		Timestamp: timestamp,
		DID:       deviceID,
		VName:     signVersion,
	})

	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(path + payload + timestamp + string(header)))
	inner := hex.EncodeToString(mac.Sum(nil))

	sum := md5.Sum([]byte(inner))
	return hex.EncodeToString(sum[:])
}
