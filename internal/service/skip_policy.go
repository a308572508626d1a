package service

import (
	"github.com/angwiki/modqueue-backend/internal/config"
	"github.com/angwiki/modqueue-backend/internal/domain"
)

// ApproveState reports whether an approval replay is currently in flight;
// satisfied by *reconcile.Wave.
type ApproveState interface {
	InApproveMode() bool
}

// SkipPolicy decides whether an actor/namespace pair is exempt from
// moderation. Pure function over configuration and capability flags, plus
// the transient approve-mode check that keeps replayed saves from requeueing.
type SkipPolicy struct {
	cfg          config.ModerationConfig
	approveState ApproveState
}

// NewSkipPolicy creates a skip policy
func NewSkipPolicy(cfg config.ModerationConfig, approveState ApproveState) *SkipPolicy {
	return &SkipPolicy{cfg: cfg, approveState: approveState}
}

// CanSkip returns true when the action may bypass moderation entirely.
// ns2 is the move target namespace; pass ns2 < 0 to mean "not a move".
// A move skips only when both ends are exempt: moderation triggers if either
// end is moderated.
func (p *SkipPolicy) CanSkip(actor domain.Actor, ns int, ns2 int) bool {
	if !p.cfg.Enabled {
		return true
	}
	if p.approveState != nil && p.approveState.InApproveMode() {
		return true
	}
	// Rollback implies trust: users who can revert others' edits are not
	// themselves moderated.
	if actor.Has(domain.CapSkipModeration) || actor.Has(domain.CapRollback) {
		return true
	}
	if !p.namespaceExempt(ns) {
		return false
	}
	if ns2 >= 0 && ns2 != ns && !p.namespaceExempt(ns2) {
		return false
	}
	return true
}

// namespaceExempt applies the administrative namespace policy: exempt when
// listed in the ignore-set, or when an allow-set is configured and the
// namespace is not in it.
func (p *SkipPolicy) namespaceExempt(ns int) bool {
	for _, n := range p.cfg.IgnoreNamespaces {
		if n == ns {
			return true
		}
	}
	if len(p.cfg.OnlyNamespaces) > 0 {
		for _, n := range p.cfg.OnlyNamespaces {
			if n == ns {
				return false
			}
		}
		return true
	}
	return false
}
