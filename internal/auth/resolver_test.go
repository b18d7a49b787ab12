package auth

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type fakeVerifier struct {
	calls  atomic.Int64
	result *Verification
	err    error
}

func (f *fakeVerifier) Verify(_ context.Context, _ string) (*Verification, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func TestAuthenticate_CachesWithinTTL(t *testing.T) {
	verifier := &fakeVerifier{result: &Verification{Valid: true, Plan: "pro", UserID: "u1"}}
	resolver := NewResolver(verifier, zap.NewNop(), nil)

	first := resolver.Authenticate(context.Background(), "key-1")
	second := resolver.Authenticate(context.Background(), "key-1")

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), verifier.calls.Load(), "one verifier call per key per TTL window")
}

func TestAuthenticate_DistinctKeysVerifiedSeparately(t *testing.T) {
	verifier := &fakeVerifier{result: &Verification{Valid: true, Plan: "free"}}
	resolver := NewResolver(verifier, zap.NewNop(), nil)

	resolver.Authenticate(context.Background(), "key-a")
	resolver.Authenticate(context.Background(), "key-b")

	assert.Equal(t, int64(2), verifier.calls.Load())
}

func TestAuthenticate_VerifierErrorNeverThrows(t *testing.T) {
	verifier := &fakeVerifier{err: errors.New("identity service down")}
	resolver := NewResolver(verifier, zap.NewNop(), nil)

	got := resolver.Authenticate(context.Background(), "key-1")
	assert.False(t, got.Valid)
	assert.Equal(t, TierFree, got.Tier)
	assert.Equal(t, "authentication service unavailable", got.Error)
}

func TestAuthenticate_InvalidKeyDegradesToFree(t *testing.T) {
	verifier := &fakeVerifier{result: &Verification{Valid: false, Plan: "pro"}}
	resolver := NewResolver(verifier, zap.NewNop(), nil)

	got := resolver.Authenticate(context.Background(), "bogus")
	assert.False(t, got.Valid)
	assert.Equal(t, TierFree, got.Tier)
}

func TestMapTier(t *testing.T) {
	assert.Equal(t, TierPro, MapTier("pro"))
	assert.Equal(t, TierPro, MapTier("enterprise"))
	assert.Equal(t, TierAdmin, MapTier("admin"))
	assert.Equal(t, TierFree, MapTier("free"))
	assert.Equal(t, TierFree, MapTier("unknown-plan"))
}

func TestHasPermission(t *testing.T) {
	pro := Result{Valid: true, Tier: TierPro, Permissions: []string{"snapshots:write"}}
	admin := Result{Valid: true, Tier: TierAdmin}
	invalid := Result{Valid: false, Tier: TierFree}

	assert.True(t, HasPermission(pro, "snapshots:write"))
	assert.False(t, HasPermission(pro, "admin:ops"))
	assert.True(t, HasPermission(admin, "admin:ops"), "admin is a superset")
	assert.True(t, HasPermission(pro, ""), "tools without a mapping are open to valid principals")
	assert.False(t, HasPermission(invalid, ""))
}

func TestTier_AtLeastAndBackend(t *testing.T) {
	assert.True(t, TierAdmin.AtLeast(TierPro))
	assert.True(t, TierPro.AtLeast(TierFree))
	assert.False(t, TierFree.AtLeast(TierPro))
	assert.False(t, TierFree.CanUseBackend())
	assert.True(t, TierPro.CanUseBackend())
}
