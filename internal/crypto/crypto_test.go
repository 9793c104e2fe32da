package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKDFCost = 1024 // keep tests fast, production default is higher

func newTestCipher(t *testing.T) *Cipher {
	t.Helper()
	c, err := New("test-passphrase", "salt", testKDFCost)
	require.NoError(t, err)
	return c
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := newTestCipher(t)

	cases := []string{
		"hi",
		"",
		"Is this available?",
		"日本語のメッセージ 🙂",
		strings.Repeat("long message body ", 500),
		"with:colons:inside",
	}
	for _, plaintext := range cases {
		token, err := c.Encrypt(plaintext)
		require.NoError(t, err)
		require.NotEqual(t, plaintext, token)

		got, err := c.Decrypt(token)
		require.NoError(t, err)
		assert.Equal(t, plaintext, got)
	}
}

func TestEncryptUsesFreshIV(t *testing.T) {
	c := newTestCipher(t)

	first, err := c.Encrypt("same plaintext")
	require.NoError(t, err)
	second, err := c.Encrypt("same plaintext")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.NotEqual(t, strings.Split(first, ":")[0], strings.Split(second, ":")[0])
}

func TestDecryptRejectsTamperedToken(t *testing.T) {
	c := newTestCipher(t)

	token, err := c.Encrypt("do not touch")
	require.NoError(t, err)
	parts := strings.Split(token, ":")

	flip := func(s string) string {
		b := []byte(s)
		if b[0] == 'a' {
			b[0] = 'b'
		} else {
			b[0] = 'a'
		}
		return string(b)
	}

	for i := range parts {
		mangled := make([]string, len(parts))
		copy(mangled, parts)
		mangled[i] = flip(mangled[i])

		_, err := c.Decrypt(strings.Join(mangled, ":"))
		require.ErrorIs(t, err, ErrDecrypt, "component %d", i)
	}
}

func TestDecryptRejectsScrambledCiphertext(t *testing.T) {
	c := newTestCipher(t)

	token, err := c.Encrypt("scramble me")
	require.NoError(t, err)
	parts := strings.Split(token, ":")

	// Reverse the ciphertext hex characters.
	ct := []byte(parts[2])
	for i, j := 0, len(ct)-1; i < j; i, j = i+1, j-1 {
		ct[i], ct[j] = ct[j], ct[i]
	}
	parts[2] = string(ct)

	got, err := c.Decrypt(strings.Join(parts, ":"))
	require.ErrorIs(t, err, ErrDecrypt)
	assert.Empty(t, got)
}

func TestDecryptRejectsMalformedTokens(t *testing.T) {
	c := newTestCipher(t)

	cases := []string{
		"",
		"onlyonepart",
		"two:parts",
		"a:b:c:d",
		"zz:zz:zz",       // not hex
		"aabb:ccdd:eeff", // wrong component lengths
	}
	for _, token := range cases {
		_, err := c.Decrypt(token)
		assert.ErrorIs(t, err, ErrDecrypt, "token %q", token)
	}
}

func TestDecryptRejectsForeignKey(t *testing.T) {
	c := newTestCipher(t)
	other, err := New("another-passphrase", "salt", testKDFCost)
	require.NoError(t, err)

	token, err := c.Encrypt("secret")
	require.NoError(t, err)

	_, err = other.Decrypt(token)
	require.ErrorIs(t, err, ErrDecrypt)
}

func TestNewRejectsEmptyPassphrase(t *testing.T) {
	_, err := New("", "salt", testKDFCost)
	require.Error(t, err)
}
