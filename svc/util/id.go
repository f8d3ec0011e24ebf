package util

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/pkg/errors"
)

const (
	idAlphabet = "0123456789abcdef"
	idLength   = 16
)

// GenID returns a random lowercase hex id of 64 bits. gonanoid draws from
// crypto/rand.
func GenID() (string, error) {
	id, err := gonanoid.Generate(idAlphabet, idLength)
	if err != nil {
		return "", errors.Wrap(err, "rand fail")
	}
	return id, nil
}

// ValidID reports whether s could have been produced by GenID.
func ValidID(s string) bool {
	if len(s) != idLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
