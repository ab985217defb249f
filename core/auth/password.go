package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"

	"golang.org/x/crypto/argon2"

	"roadworks-hub/core/utils"
)

const (
	argonTime    uint32 = 1
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 4
	argonKeyLen  uint32 = 32
	saltLen             = 16
)

type PasswordHash struct {
	Hash string
	Salt string
}

func HashPassword(password, pepper string) (*PasswordHash, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	key := deriveKey(password, pepper, salt)
	return &PasswordHash{
		Hash: base64.RawStdEncoding.EncodeToString(key),
		Salt: base64.RawStdEncoding.EncodeToString(salt),
	}, nil
}

func VerifyPassword(password, pepper string, stored *PasswordHash) (bool, error) {
	if stored == nil || stored.Hash == "" || stored.Salt == "" {
		return false, errors.New("empty hash or salt")
	}
	salt, err := base64.RawStdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return false, err
	}
	expected, err := base64.RawStdEncoding.DecodeString(stored.Hash)
	if err != nil {
		return false, err
	}
	key := deriveKey(password, pepper, salt)
	return subtle.ConstantTimeCompare(key, expected) == 1, nil
}

// CheckPassword is VerifyPassword with every error reported as a mismatch.
func CheckPassword(password, pepper, hash, salt string) bool {
	ok, err := VerifyPassword(password, pepper, &PasswordHash{Hash: hash, Salt: salt})
	return err == nil && ok
}

// PlaceholderCredential hashes a random secret for identities imported from
// the remote service. Nobody knows the plaintext, so local login stays
// closed until the password is reset or refreshed by a remote login.
func PlaceholderCredential(pepper string) (*PasswordHash, error) {
	secret, err := utils.RandString(24)
	if err != nil {
		return nil, err
	}
	return HashPassword(secret, pepper)
}

func deriveKey(password, pepper string, salt []byte) []byte {
	input := append([]byte(password), []byte(pepper)...)
	return argon2.IDKey(input, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}
