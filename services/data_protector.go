package services

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/campushub/notify/models"
)

// DataProtector encrypts sensitive fields (push auth secrets) at rest.
type DataProtector struct {
	config *models.Config
}

// NewDataProtector creates an instance of DataProtector
func NewDataProtector(config *models.Config) *DataProtector {
	return &DataProtector{config: config}
}

func (d *DataProtector) Encrypt(stringToEncrypt string) (string, error) {
	// Since the key is a string, we need to convert it to bytes
	key := []byte(d.config.EncryptionKey)
	plaintext := []byte(stringToEncrypt)

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	// Nonce / Unique IV
	nonce := make([]byte, aesGCM.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	// We add the nonce as a prefix to the encrypted data. The first nonce argument in Seal is the prefix.
	ciphertext := aesGCM.Seal(nonce, nonce, plaintext, nil)
	return fmt.Sprintf("%x", ciphertext), nil
}

func (d *DataProtector) Decrypt(encryptedString string) (string, error) {
	key := []byte(d.config.EncryptionKey)
	enc, _ := hex.DecodeString(encryptedString)

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	// Get the nonce size for this cipher
	nonceSize := aesGCM.NonceSize()
	if len(enc) < nonceSize {
		return "", fmt.Errorf("encrypted value is too short")
	}

	// Extract the nonce from the encrypted data
	nonce, ciphertext := enc[:nonceSize], enc[nonceSize:]

	// Decrypt the data
	plaintext, err := aesGCM.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s", plaintext), nil
}
