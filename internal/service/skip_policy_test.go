package service

import (
	"testing"

	"github.com/angwiki/modqueue-backend/internal/config"
	"github.com/angwiki/modqueue-backend/internal/domain"
	"github.com/stretchr/testify/assert"
)

type fakeApproveState struct {
	approving bool
}

func (f *fakeApproveState) InApproveMode() bool { return f.approving }

func enabledConfig() config.ModerationConfig {
	return config.ModerationConfig{Enabled: true, RejectedHorizon: config.DefaultRejectedHorizon}
}

func TestCanSkipDisabled(t *testing.T) {
	cfg := enabledConfig()
	cfg.Enabled = false
	policy := NewSkipPolicy(cfg, &fakeApproveState{})

	assert.True(t, policy.CanSkip(domain.Actor{}, 0, -1))
}

func TestCanSkipApproveMode(t *testing.T) {
	state := &fakeApproveState{}
	policy := NewSkipPolicy(enabledConfig(), state)

	assert.False(t, policy.CanSkip(domain.Actor{}, 0, -1))

	state.approving = true
	assert.True(t, policy.CanSkip(domain.Actor{}, 0, -1),
		"replayed saves must pass through without requeueing")
}

func TestCanSkipCapabilities(t *testing.T) {
	policy := NewSkipPolicy(enabledConfig(), &fakeApproveState{})

	trusted := domain.Actor{ID: 7, Name: "trusted", Capabilities: []string{domain.CapSkipModeration}}
	assert.True(t, policy.CanSkip(trusted, 0, -1))

	reverter := domain.Actor{ID: 8, Name: "reverter", Capabilities: []string{domain.CapRollback}}
	assert.True(t, policy.CanSkip(reverter, 0, -1))

	plain := domain.Actor{ID: 9, Name: "plain"}
	assert.False(t, policy.CanSkip(plain, 0, -1))
}

func TestCanSkipBlockedActorStillQueued(t *testing.T) {
	// A block never exempts: the entry is queued (and auto-rejected later)
	policy := NewSkipPolicy(enabledConfig(), &fakeApproveState{})
	blocked := domain.Actor{ID: 10, Name: "blocked", Blocked: true}
	assert.False(t, policy.CanSkip(blocked, 0, -1))
}

func TestCanSkipIgnoredNamespaces(t *testing.T) {
	cfg := enabledConfig()
	cfg.IgnoreNamespaces = []int{2, 3}
	policy := NewSkipPolicy(cfg, &fakeApproveState{})

	actor := domain.Actor{ID: 1, Name: "user"}
	assert.True(t, policy.CanSkip(actor, 2, -1))
	assert.True(t, policy.CanSkip(actor, 3, -1))
	assert.False(t, policy.CanSkip(actor, 0, -1))
}

func TestCanSkipOnlyNamespaces(t *testing.T) {
	cfg := enabledConfig()
	cfg.OnlyNamespaces = []int{0}
	policy := NewSkipPolicy(cfg, &fakeApproveState{})

	actor := domain.Actor{ID: 1, Name: "user"}
	assert.False(t, policy.CanSkip(actor, 0, -1))
	assert.True(t, policy.CanSkip(actor, 4, -1))
}

func TestCanSkipMoveBothEnds(t *testing.T) {
	cfg := enabledConfig()
	cfg.IgnoreNamespaces = []int{2}
	policy := NewSkipPolicy(cfg, &fakeApproveState{})
	actor := domain.Actor{ID: 1, Name: "user"}

	// Both ends exempt
	assert.True(t, policy.CanSkip(actor, 2, 2))
	// Source exempt, target moderated
	assert.False(t, policy.CanSkip(actor, 2, 0))
	// Source moderated, target exempt
	assert.False(t, policy.CanSkip(actor, 0, 2))
}
