package names

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Random returns a display name such as "plucky-otter-42".
func Random() string {
	return fmt.Sprintf("%s-%s-%d",
		adjectives[randomIndex(len(adjectives))],
		creatures[randomIndex(len(creatures))],
		randomIndex(100),
	)
}

// randomIndex returns a uniformly distributed index in [0, n).
func randomIndex(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic(fmt.Sprintf("names: crypto/rand failed: %v", err))
	}
	return int(v.Int64())
}
