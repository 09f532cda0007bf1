package directory

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/cloudvault/core/cverr"
)

const (
	pbkdf2Iterations = 120000
	kekSize          = 32
	saltSize         = 16
	gcmNonceSize     = 12
	folderKeySize    = 32
	gcmTagSize       = 16
)

func deriveKEK(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, kekSize, sha512.New)
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}

	return b, nil
}

// wrapFolderKey encrypts a fresh random 32-byte folder key under a
// PBKDF2-HMAC-SHA512-derived key-encryption-key, returning the manifest
// entry to persist.
func wrapFolderKey(passphrase string) (folderEntry, []byte, error) {
	folderKey, err := randomBytes(folderKeySize)
	if err != nil {
		return folderEntry{}, nil, cverr.Wrap(err, cverr.KindInternal, "generating folder key")
	}

	salt, err := randomBytes(saltSize)
	if err != nil {
		return folderEntry{}, nil, cverr.Wrap(err, cverr.KindInternal, "generating salt")
	}

	iv, err := randomBytes(gcmNonceSize)
	if err != nil {
		return folderEntry{}, nil, cverr.Wrap(err, cverr.KindInternal, "generating iv")
	}

	kek := deriveKEK(passphrase, salt)

	block, err := aes.NewCipher(kek)
	if err != nil {
		return folderEntry{}, nil, cverr.Wrap(err, cverr.KindInternal, "constructing cipher")
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return folderEntry{}, nil, cverr.Wrap(err, cverr.KindInternal, "constructing AEAD")
	}

	sealed := gcm.Seal(nil, iv, folderKey, nil)
	ciphertext := sealed[:len(sealed)-gcmTagSize]
	authTag := sealed[len(sealed)-gcmTagSize:]

	now := time.Now()

	return folderEntry{
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		IV:         base64.StdEncoding.EncodeToString(iv),
		AuthTag:    base64.StdEncoding.EncodeToString(authTag),
		Salt:       base64.StdEncoding.EncodeToString(salt),
		CreatedAt:  now,
		UpdatedAt:  now,
	}, folderKey, nil
}

// unwrapFolderKey decrypts entry's wrapped folder key using passphrase. An
// invalid passphrase and a structurally malformed entry return the same
// generic bad-request error, per the design's "no distinction... in
// attacker-observable responses" rule.
func unwrapFolderKey(entry folderEntry, passphrase string) ([]byte, error) {
	generic := cverr.BadRequest("invalid passphrase")

	salt, err := base64.StdEncoding.DecodeString(entry.Salt)
	if err != nil {
		return nil, generic
	}

	iv, err := base64.StdEncoding.DecodeString(entry.IV)
	if err != nil {
		return nil, generic
	}

	ciphertext, err := base64.StdEncoding.DecodeString(entry.Ciphertext)
	if err != nil {
		return nil, generic
	}

	authTag, err := base64.StdEncoding.DecodeString(entry.AuthTag)
	if err != nil {
		return nil, generic
	}

	kek := deriveKEK(passphrase, salt)

	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, generic
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, generic
	}

	sealed := append(append([]byte{}, ciphertext...), authTag...)

	folderKey, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, generic
	}

	return folderKey, nil
}
