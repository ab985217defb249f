package utils

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/gofrs/uuid/v5"
	"github.com/segmentio/ksuid"
)

// NewUID returns a random v4 UUID string used as the stable local identity id.
func NewUID() string {
	id, err := uuid.NewV4()
	if err != nil {
		return ksuid.New().String()
	}
	return id.String()
}

// NewFileToken returns a sortable unique token for generated file names.
func NewFileToken() string {
	return ksuid.New().String()
}

func RandString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
