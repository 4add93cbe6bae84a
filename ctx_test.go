package auth_test

import (
	"context"
	"testing"

	auth "github.com/goliatone/go-portal-auth"
	"github.com/stretchr/testify/assert"
)

func TestIdentityContext(t *testing.T) {
	_, ok := auth.FromContext(context.Background())
	assert.False(t, ok)

	identity := auth.NewIdentity("acc-1", "m@example.com", auth.RoleMember, auth.StatusActive)
	ctx := auth.WithContext(context.Background(), identity)

	got, ok := auth.FromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, identity, got)

	_, ok = auth.FromContext(auth.WithContext(context.Background(), nil))
	assert.False(t, ok)
}

func TestSummarizeIdentity(t *testing.T) {
	assert.Equal(t, auth.IdentitySummary{}, auth.SummarizeIdentity(nil))

	summary := auth.SummarizeIdentity(auth.NewIdentity("acc-1", "m@example.com", auth.RoleLeader, auth.StatusApproved))
	assert.Equal(t, auth.IdentitySummary{
		ID:     "acc-1",
		Email:  "m@example.com",
		Role:   auth.RoleLeader,
		Status: auth.StatusApproved,
	}, summary)
}
