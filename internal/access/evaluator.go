// Package access - evaluator.go implements the single priority-ordered access check used for
// every protected resource. Tiers are consulted from the broadest scope to the narrowest and
// the first tier holding a matching role decides; within a tier a full grant beats a
// read-only one. Every failure path yields Denied.
package access

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fieldsight/fieldsight-access/internal/telemetry"
)

// tier is one step of the priority order. match returns the grant a role
// confers on the resolved ancestry, or GrantNone.
type tier struct {
	name  string
	match func(r *Role, anc *Ancestry) Grant
}

var (
	tierOrganizationAdmin = tier{"organization_admin", func(r *Role, anc *Ancestry) Grant {
		if r.Kind == KindOrganizationAdmin && refIs(r.OrganizationID, anc.OrganizationID) {
			return GrantFull
		}
		return GrantNone
	}}
	tierProjectManager = tier{"project_manager", func(r *Role, anc *Ancestry) Grant {
		if r.Kind == KindProjectManager && anc.ProjectID != 0 && refIs(r.ProjectID, anc.ProjectID) {
			return GrantFull
		}
		return GrantNone
	}}
	tierRegion = tier{"region", func(r *Role, anc *Ancestry) Grant {
		if (r.Kind == KindRegionSupervisor || r.Kind == KindRegionReviewer) && refIn(r.RegionID, anc.RegionChain) {
			return r.Kind.Grant()
		}
		return GrantNone
	}}
	tierSite = tier{"site", func(r *Role, anc *Ancestry) Grant {
		if (r.Kind == KindSiteSupervisor || r.Kind == KindReviewer) && refIn(r.SiteID, anc.SiteChain) {
			return r.Kind.Grant()
		}
		return GrantNone
	}}
	tierProjectDonor = tier{"project_donor", func(r *Role, anc *Ancestry) Grant {
		if r.Kind == KindProjectDonor && anc.ProjectID != 0 && refIs(r.ProjectID, anc.ProjectID) {
			return GrantReadOnly
		}
		return GrantNone
	}}

	defaultTiers = []tier{tierOrganizationAdmin, tierProjectManager, tierRegion, tierSite, tierProjectDonor}
	deleteTiers  = []tier{tierOrganizationAdmin, tierProjectManager}
)

// Evaluator decides whether a principal may exercise a capability on a resource.
type Evaluator struct {
	graph *RoleGraph
}

// NewEvaluator creates an Evaluator resolving ancestry through graph.
func NewEvaluator(graph *RoleGraph) *Evaluator {
	return &Evaluator{graph: graph}
}

// Evaluate returns the decision for principal exercising capability on res.
// When err is non-nil the decision is always Denied; errors wrapping
// ErrNotFound mean the resource does not exist.
func (e *Evaluator) Evaluate(ctx context.Context, p Principal, res Resource, capability Capability) (Decision, error) {
	start := time.Now()
	decision, tierName, err := e.evaluate(ctx, p, res, capability)
	if err != nil {
		decision = Denied
		tierName = "error"
	}

	telemetry.AccessDecisionsTotal.WithLabelValues(res.Kind.String(), capability.String(), decision.String(), tierName).Inc()
	telemetry.AccessEvaluationDuration.WithLabelValues(res.Kind.String()).Observe(time.Since(start).Seconds())
	return decision, err
}

// Authorize is Evaluate reduced to a yes/no answer: it returns nil when the
// decision permits capability and an error wrapping ErrDenied otherwise.
func (e *Evaluator) Authorize(ctx context.Context, p Principal, res Resource, capability Capability) (Decision, error) {
	decision, err := e.Evaluate(ctx, p, res, capability)
	if err != nil {
		return decision, err
	}
	if !decision.Permits(capability) {
		return decision, ErrDenied
	}
	return decision, nil
}

func (e *Evaluator) evaluate(ctx context.Context, p Principal, res Resource, capability Capability) (Decision, string, error) {
	if p.Anonymous || p.UserID == "" {
		return Denied, "anonymous", nil
	}
	if p.IsSuperAdmin() {
		return GrantedFull, "super_admin", nil
	}

	anc, err := e.graph.ResolveResource(ctx, res)
	if err != nil {
		if errors.Is(err, ErrCycleDetected) {
			telemetry.HierarchyCyclesTotal.Inc()
			slog.ErrorContext(ctx, "hierarchy cycle while evaluating access",
				"resource", res.String(), "user_id", p.UserID, "error", err)
		}
		return Denied, "", err
	}

	tiers := defaultTiers
	if capability == CapabilityDelete {
		tiers = deleteTiers
	}

	for _, t := range tiers {
		best := GrantNone
		for i := range p.Roles {
			role := &p.Roles[i]
			if !role.Active() {
				continue
			}
			if g := t.match(role, anc); g > best {
				best = g
			}
		}
		if best != GrantNone {
			return decisionFor(best), t.name, nil
		}
	}
	return Denied, "none", nil
}

func hasKind(roles []Role, kind RoleKind) bool {
	for i := range roles {
		if roles[i].Kind == kind && roles[i].Active() {
			return true
		}
	}
	return false
}

func refIs(ref *int64, id int64) bool {
	return ref != nil && *ref == id
}

func refIn(ref *int64, ids []int64) bool {
	if ref == nil {
		return false
	}
	for _, id := range ids {
		if *ref == id {
			return true
		}
	}
	return false
}
