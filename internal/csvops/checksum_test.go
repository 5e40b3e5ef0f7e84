package csvops

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignerChecksumRoundTrip(t *testing.T) {
	signer := NewSigner("test-secret")

	sum := signer.Checksum("7", "block-v1:edX+Demo+2026+type@problem+block@abcd", "3")
	require.Len(t, sum, 8)
	require.True(t, signer.Verify(sum, "7", "block-v1:edX+Demo+2026+type@problem+block@abcd", "3"))
}

func TestSignerRejectsTamperedFields(t *testing.T) {
	signer := NewSigner("test-secret")

	sum := signer.Checksum("7", "block", "3")
	require.False(t, signer.Verify(sum, "7", "block", "4"), "changed previous points must fail")
	require.False(t, signer.Verify(sum, "8", "block", "3"), "changed user must fail")
	require.False(t, signer.Verify("", "7", "block", "3"))
}

func TestSignerSecretMatters(t *testing.T) {
	sum := NewSigner("secret-a").Checksum("7", "block", "3")
	require.False(t, NewSigner("secret-b").Verify(sum, "7", "block", "3"))
}

func TestSignerFieldBoundaries(t *testing.T) {
	signer := NewSigner("test-secret")
	// "ab"+"c" and "a"+"bc" must not collide
	require.NotEqual(t, signer.Checksum("ab", "c"), signer.Checksum("a", "bc"))
}
