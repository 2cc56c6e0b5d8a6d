package graph

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	types "github.com/eddyhq/eddy-backend/internal/domain"
	"github.com/eddyhq/eddy-backend/internal/observability"
	"github.com/eddyhq/eddy-backend/internal/platform/dbctx"
)

type CheckIntegrityOutput struct {
	EdgesExamined int `json:"edges_examined"`
	DoubleSettles int `json:"double_settles"`
	MultiTargets  int `json:"multi_targets"`
	BadWeights    int `json:"bad_weights"`
	Cycles        int `json:"cycles"`
}

type integrityContext struct {
	EdgeIDs     []string `json:"edge_ids,omitempty"`
	IdentityIDs []string `json:"identity_ids,omitempty"`
	Weight      float64  `json:"weight,omitempty"`
}

// CheckIntegrity validates graph shape: a settlement settled by two payouts,
// a payout claiming two settlements, weights outside [0, 1], and edge
// cycles. The graph is a DAG under correct data; violations mark the subject
// identity so the consolidator leaves its cash alone until a human looks.
func CheckIntegrity(ctx context.Context, deps LinkDeps, in LinkInput) (CheckIntegrityOutput, error) {
	var out CheckIntegrityOutput
	if err := deps.check("integrity_check"); err != nil {
		return out, err
	}
	if in.CompanyID == uuid.Nil {
		return out, fmt.Errorf("integrity_check: missing company_id")
	}
	dbc := dbctx.New(ctx)

	var edges []*types.IdentityEdge
	for _, kind := range []types.EdgeKind{types.EdgeSettles, types.EdgeComposedOf, types.EdgeAppliesTo} {
		batch, err := deps.Edges.ListByCompanyKind(dbc, in.CompanyID, kind)
		if err != nil {
			return out, fmt.Errorf("integrity_check: list %s edges: %w", kind, err)
		}
		edges = append(edges, batch...)
	}
	out.EdgesExamined = len(edges)

	raise := func(dedupeKey string, subject uuid.UUID, summary string, ictx integrityContext) error {
		sid := subject
		_, created, err := deps.Exceptions.UpsertOpen(dbc, &types.Exception{
			CompanyID:         in.CompanyID,
			Kind:              types.ExceptionIntegrity,
			DedupeKey:         dedupeKey,
			Status:            types.ExceptionOpen,
			SubjectIdentityID: &sid,
			Summary:           summary,
			Context:           contextJSON(ictx),
			OpenedBy:          "integrity_check",
		})
		if err != nil {
			return fmt.Errorf("integrity_check: raise: %w", err)
		}
		if created {
			observability.Current().IncExceptionOpened(string(types.ExceptionIntegrity))
		}
		return nil
	}

	settlesBySrc := map[uuid.UUID][]*types.IdentityEdge{}
	settlesByDst := map[uuid.UUID][]*types.IdentityEdge{}
	for _, e := range edges {
		if e.Kind != types.EdgeSettles {
			continue
		}
		settlesBySrc[e.SrcIdentityID] = append(settlesBySrc[e.SrcIdentityID], e)
		settlesByDst[e.DstIdentityID] = append(settlesByDst[e.DstIdentityID], e)
	}
	for _, dst := range sortedKeys(settlesByDst) {
		group := settlesByDst[dst]
		if len(group) < 2 {
			continue
		}
		if err := raise("double-settles:"+dst.String(), dst,
			fmt.Sprintf("settlement is claimed by %d payouts", len(group)),
			integrityContext{EdgeIDs: edgeIDs(group), IdentityIDs: edgeSrcs(group)}); err != nil {
			return out, err
		}
		out.DoubleSettles++
	}
	for _, src := range sortedKeys(settlesBySrc) {
		group := settlesBySrc[src]
		if len(group) < 2 {
			continue
		}
		if err := raise("multi-settlement:"+src.String(), src,
			fmt.Sprintf("payout claims %d settlements", len(group)),
			integrityContext{EdgeIDs: edgeIDs(group), IdentityIDs: edgeDsts(group)}); err != nil {
			return out, err
		}
		out.MultiTargets++
	}

	for _, e := range edges {
		if e.Weight >= 0 && e.Weight <= 1 {
			continue
		}
		if err := raise("weight:"+e.ID.String(), e.SrcIdentityID,
			fmt.Sprintf("edge weight %g outside [0, 1]", e.Weight),
			integrityContext{EdgeIDs: []string{e.ID.String()}, Weight: e.Weight}); err != nil {
			return out, err
		}
		out.BadWeights++
	}

	for _, cycle := range findCycles(edges) {
		sort.Slice(cycle, func(i, j int) bool { return cycle[i].String() < cycle[j].String() })
		ids := make([]string, len(cycle))
		for i, id := range cycle {
			ids[i] = id.String()
		}
		if err := raise("cycle:"+cycle[0].String(), cycle[0],
			fmt.Sprintf("edge cycle through %d identities", len(cycle)),
			integrityContext{IdentityIDs: ids}); err != nil {
			return out, err
		}
		out.Cycles++
	}
	return out, nil
}

// findCycles runs a three-color depth-first walk over the whole edge set.
// Each strongly cyclic region reports once per walk.
func findCycles(edges []*types.IdentityEdge) [][]uuid.UUID {
	adj := map[uuid.UUID][]uuid.UUID{}
	nodes := map[uuid.UUID]bool{}
	for _, e := range edges {
		adj[e.SrcIdentityID] = append(adj[e.SrcIdentityID], e.DstIdentityID)
		nodes[e.SrcIdentityID] = true
		nodes[e.DstIdentityID] = true
	}
	for src := range adj {
		targets := adj[src]
		sort.Slice(targets, func(i, j int) bool { return targets[i].String() < targets[j].String() })
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[uuid.UUID]int, len(nodes))
	var cycles [][]uuid.UUID
	var stack []uuid.UUID

	var visit func(n uuid.UUID)
	visit = func(n uuid.UUID) {
		color[n] = gray
		stack = append(stack, n)
		for _, next := range adj[n] {
			switch color[next] {
			case white:
				visit(next)
			case gray:
				// Back edge: the cycle is the stack suffix from next.
				var cycle []uuid.UUID
				for i := len(stack) - 1; i >= 0; i-- {
					cycle = append(cycle, stack[i])
					if stack[i] == next {
						break
					}
				}
				cycles = append(cycles, cycle)
			}
		}
		stack = stack[:len(stack)-1]
		color[n] = black
	}

	for _, n := range sortedNodeIDs(nodes) {
		if color[n] == white {
			visit(n)
		}
	}
	return cycles
}

func sortedKeys(m map[uuid.UUID][]*types.IdentityEdge) []uuid.UUID {
	keys := make([]uuid.UUID, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

func sortedNodeIDs(m map[uuid.UUID]bool) []uuid.UUID {
	keys := make([]uuid.UUID, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

func edgeIDs(edges []*types.IdentityEdge) []string {
	out := make([]string, len(edges))
	for i, e := range edges {
		out[i] = e.ID.String()
	}
	sort.Strings(out)
	return out
}

func edgeSrcs(edges []*types.IdentityEdge) []string {
	out := make([]string, len(edges))
	for i, e := range edges {
		out[i] = e.SrcIdentityID.String()
	}
	sort.Strings(out)
	return out
}

func edgeDsts(edges []*types.IdentityEdge) []string {
	out := make([]string, len(edges))
	for i, e := range edges {
		out[i] = e.DstIdentityID.String()
	}
	sort.Strings(out)
	return out
}
