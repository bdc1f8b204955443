package outcome

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
)

// NewServerSeed generates a random server seed and the hash that is published
// at round creation. The seed itself stays secret until the round resolves,
// so observers can verify after the fact that the outcome was committed
// before any bets were placed.
func NewServerSeed() (seed, hash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("failed to generate server seed: %w", err)
	}
	seed = hex.EncodeToString(b)
	return seed, HashSeed(seed), nil
}

// HashSeed returns the SHA-256 commitment for a server seed.
func HashSeed(seed string) string {
	h := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(h[:])
}

// roll derives a float in [0, 1) from HMAC-SHA256(serverSeed, clientSeed|nonce).
// The same seed material always yields the same roll, which is what makes a
// watchdog retry of a stuck round land on the identical outcome.
func roll(serverSeed, clientSeed, nonce string) float64 {
	mac := hmac.New(sha256.New, []byte(serverSeed))
	mac.Write([]byte(clientSeed + "|" + nonce))
	sum := mac.Sum(nil)

	n := new(big.Int).SetBytes(sum[:8])
	max := new(big.Int).Lsh(big.NewInt(1), 64)
	f, _ := new(big.Rat).SetFrac(n, max).Float64()
	return f
}
