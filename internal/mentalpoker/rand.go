package mentalpoker

import "ocpoker/internal/ocrypto"

func randBytes(n int) ([]byte, error) {
	return ocrypto.RandBytes(n)
}
