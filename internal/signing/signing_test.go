package signing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSigner(t *testing.T) {
	s := NewSigner([]byte("topsecret"))
	sig := s.Sign("doc123", 1700000000)
	assert.NotEmpty(t, sig)
	assert.True(t, s.Validate("doc123", "1700000000", sig))
	assert.False(t, s.Validate("other", "1700000000", sig), "wrong document id")
	assert.False(t, s.Validate("doc123", "42", sig), "wrong expiry")
	assert.False(t, s.Validate("doc123", "soon", sig), "unparseable expiry")
}
