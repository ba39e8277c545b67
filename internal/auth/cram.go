package auth

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/codewiresh/dcon/internal/protocol"
)

// md5Prefix marks a password that is already stored as its MD5 digest.
const md5Prefix = "[md5]"

// PasswordKey returns the HMAC key for a console password. The director
// keys the challenge with the hex MD5 digest of the password, so clear
// text passwords are hashed first.
func PasswordKey(password string) string {
	if digest, ok := strings.CutPrefix(password, md5Prefix); ok {
		return digest
	}
	sum := md5.Sum([]byte(password))
	return hex.EncodeToString(sum[:])
}

// Response computes the answer to challenge for the given key.
func Response(challenge, key string, compatible bool) string {
	mac := hmac.New(md5.New, []byte(key))
	mac.Write([]byte(challenge))
	return protocol.Base64(mac.Sum(nil), compatible)
}

// Respond answers a parsed director challenge.
func Respond(c protocol.Challenge, key string) string {
	return Response(c.Value, key, c.Compatible)
}

// Verify checks a peer's answer to our challenge. Peers that predate the
// compatible encoding answer in the legacy form, so both are accepted.
// Comparison is constant-time.
func Verify(challenge, key, answer string) bool {
	answer = strings.TrimRight(answer, "\r\n\x00")
	for _, compatible := range []bool{true, false} {
		want := Response(challenge, key, compatible)
		if subtle.ConstantTimeCompare([]byte(want), []byte(answer)) == 1 {
			return true
		}
	}
	return false
}

// NewChallenge creates a fresh challenge in the director's
// "<random.time@name>" form.
func NewChallenge(name string, tls protocol.TLSNeed) (protocol.Challenge, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(math.MaxUint32))
	if err != nil {
		return protocol.Challenge{}, fmt.Errorf("generating challenge: %w", err)
	}
	if name == "" {
		name = protocol.DefaultConsoleName
	}
	return protocol.Challenge{
		Value:      fmt.Sprintf("<%d.%d@%s>", n.Uint64(), time.Now().Unix(), protocol.BashSpaces(name)),
		TLS:        tls,
		Compatible: true,
	}, nil
}
