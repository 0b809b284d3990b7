package access

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// Keys and their identifiers are generated randomly from a 62-character pool.
const bearerCharacterPool = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

const (
	// The key identifier should not have collisions to prevent confusion.
	// However, collisions are handled gracefully when issuing grants.
	// The first character of the key identifier is never a digit to
	// prevent parsing issues. With 12 characters from the pool, one
	// alphabetic, the key identifier part has ~68 bits of entropy.
	BearerIDLength = 12
	// With 24 characters from the pool, the key part has ~140 bits of entropy.
	BearerKeyLength = 24
)

// RandSource produces a random string of the given length drawn from the
// given character pool. The engine threads it into bearer generation so
// tests can substitute a deterministic source.
type RandSource func(length int, pool string) (string, error)

// CryptoRandString is the default RandSource, backed by crypto/rand with
// rejection-free uniform selection from the pool.
func CryptoRandString(length int, pool string) (string, error) {
	if length <= 0 || len(pool) == 0 {
		return "", fmt.Errorf("invalid random string request: length=%d pool=%d", length, len(pool))
	}
	var b strings.Builder
	b.Grow(length)
	max := big.NewInt(int64(len(pool)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("read random source: %w", err)
		}
		b.WriteByte(pool[n.Int64()])
	}
	return b.String(), nil
}

// NewGrantBearer generates a fresh bearer grant payload. The key field
// holds the full plaintext token {prefix}-{id}-{secret}; it is the
// caller's responsibility to hash it before persistence.
func NewGrantBearer(prefix string, rnd RandSource) (GrantBearerData, error) {
	if rnd == nil {
		rnd = CryptoRandString
	}
	// The pool for the first character of the key identifier excludes digits.
	head, err := rnd(1, bearerCharacterPool[10:])
	if err != nil {
		return GrantBearerData{}, err
	}
	tail, err := rnd(BearerIDLength-1, bearerCharacterPool)
	if err != nil {
		return GrantBearerData{}, err
	}
	secret, err := rnd(BearerKeyLength, bearerCharacterPool)
	if err != nil {
		return GrantBearerData{}, err
	}
	id := head + tail
	return GrantBearerData{
		ID:  id,
		Key: fmt.Sprintf("%s-%s-%s", prefix, id, secret),
	}, nil
}

// Hashed returns a copy of the payload with the plaintext key replaced by
// its storage form. The hash of the bearer key is stored to mitigate the
// impact of a read-only compromise. SHA-256 is used as the key needs to be
// verified performantly for every operation; unlike with passwords, brute
// force and rainbow tables are infeasible due to the key length. The
// prefix and key identifier are kept as salt by hashing the full token.
func (b GrantBearerData) Hashed() GrantBearerData {
	sum := sha256.Sum256([]byte(b.Key))
	return GrantBearerData{
		ID:  b.ID,
		Key: hex.EncodeToString(sum[:]),
	}
}

// HashBearerToken returns the storage form of a full plaintext bearer
// token string.
func HashBearerToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ParseBearerToken splits a presented token into prefix, key identifier
// and secret. The prefix may itself contain dashes; the final two
// segments are fixed length.
func ParseBearerToken(token string) (prefix, id, secret string, err error) {
	parts := strings.Split(token, "-")
	if len(parts) < 3 {
		return "", "", "", ErrInvalidToken
	}
	secret = parts[len(parts)-1]
	id = parts[len(parts)-2]
	prefix = strings.Join(parts[:len(parts)-2], "-")
	if prefix == "" || len(id) != BearerIDLength || len(secret) != BearerKeyLength {
		return "", "", "", ErrInvalidToken
	}
	return prefix, id, secret, nil
}
