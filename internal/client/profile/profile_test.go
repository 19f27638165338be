package profile

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecrypt(t *testing.T) {
	original := "This is a secret message"

	encrypted, err := encrypt([]byte(original))
	require.NoError(t, err)
	require.NotEmpty(t, encrypted)

	decrypted, err := decrypt(encrypted)
	require.NoError(t, err)
	assert.Equal(t, original, string(decrypted))
}

func TestDecryptRejectsGarbage(t *testing.T) {
	_, err := decrypt("not base64!!!")
	assert.Error(t, err)

	_, err = decrypt("c2hvcnQ=") // valid base64, too short for a nonce
	assert.Error(t, err)
}

func TestProfileRoundTrip(t *testing.T) {
	original := Profile{
		ServerURL:   "wss://chat.example.com",
		Token:       "tok-abc",
		DisplayName: "Ana",
		Email:       "ana@example.com",
	}

	data, err := json.Marshal(original)
	require.NoError(t, err)

	encrypted, err := encrypt(data)
	require.NoError(t, err)

	decrypted, err := decrypt(encrypted)
	require.NoError(t, err)

	var restored Profile
	require.NoError(t, json.Unmarshal(decrypted, &restored))
	assert.Equal(t, original, restored)
}
