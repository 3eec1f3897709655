package client

import (
	"context"
	"fmt"

	"actionrpc/message"
)

// ExpansionRoute names the batch action a client calls to resolve a set of
// ids into full objects: it sends RequestField=ids to Action on Service and
// expects back a map keyed by id at ResponseField (§3 "Expansion rule").
type ExpansionRoute struct {
	Service       string
	Action        string
	RequestField  string
	ResponseField string
}

// ExpansionType is one named expansion available for a given `_type` tag:
// walk matching objects, collect SourceField, batch-resolve via Route, and
// splice the result into DestinationField.
type ExpansionType struct {
	Name             string
	SourceField      string
	DestinationField string
	Route            ExpansionRoute
}

// ExpansionConfig is the expansion configuration loaded at client
// construction (§3 "Expansion rule" lifecycle): which expansion types exist
// for which `_type` tag, and how deep recursive expansion may go before the
// cycle guard in §9 kicks in.
type ExpansionConfig struct {
	Types    map[string][]ExpansionType // keyed by the object's "_type" value
	MaxDepth int
}

// Expander implements §4.5 "Expansions": walking a job response's bodies,
// batch-resolving referenced ids, and splicing the results back in,
// recursively and idempotently up to MaxDepth.
type Expander struct {
	cfg    ExpansionConfig
	client *Client
}

func newExpander(cfg ExpansionConfig, c *Client) *Expander {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 5
	}
	return &Expander{cfg: cfg, client: c}
}

// rootTask is one value still to be walked for expansions, paired with the
// expansion names allowed to match within it. A freshly spliced object only
// recurses under the one expansion name that produced it (§4.5 step 5).
type rootTask struct {
	value   any
	allowed []string
}

// routeKey groups matches that share a (`_type`, expansion name) pair, the
// unit §4.5 steps 2-3 batch into a single action call.
type routeKey struct {
	typeName string
	name     string
}

// expansionMatch is one object found to need a given expansion, recorded
// during the collect pass so every match for a routeKey can be resolved
// with one batched call before any splicing happens.
type expansionMatch struct {
	obj   map[string]any
	exp   ExpansionType
	id    any
	idStr string
}

// Expand walks every action response body in jr looking for objects whose
// `_type` has expansions among requested, resolves and splices them, and
// recurses into newly spliced objects up to cfg.MaxDepth. A (route, id)
// visited set prevents re-fetching or looping on cyclic references (§9).
func (e *Expander) Expand(ctx context.Context, jr *message.JobResponse, requested []string, callerCtx message.Context) error {
	if len(requested) == 0 || len(e.cfg.Types) == 0 {
		return nil
	}
	visited := make(map[[2]string]bool)
	tasks := make([]rootTask, 0, len(jr.Actions))
	for i := range jr.Actions {
		if jr.Actions[i].Body != nil {
			tasks = append(tasks, rootTask{value: jr.Actions[i].Body, allowed: requested})
		}
	}
	return e.expandRound(ctx, tasks, callerCtx, visited, 0)
}

// expandRound collects every expansion match reachable from tasks, issues
// exactly one batched action call per distinct (type, expansion-name) pair
// across all of them, splices the results back in, and recurses into the
// newly spliced values at depth+1.
func (e *Expander) expandRound(ctx context.Context, tasks []rootTask, callerCtx message.Context, visited map[[2]string]bool, depth int) error {
	if depth >= e.cfg.MaxDepth || len(tasks) == 0 {
		return nil
	}

	groups := make(map[routeKey][]*expansionMatch)
	for _, task := range tasks {
		e.collect(task.value, task.allowed, visited, groups)
	}
	if len(groups) == 0 {
		return nil
	}

	var next []rootTask
	for _, matches := range groups {
		resolved, err := e.resolveBatch(ctx, callerCtx, matches)
		if err != nil {
			return err
		}
		for _, m := range matches {
			val, ok := resolved[m.idStr]
			if !ok {
				continue
			}
			m.obj[m.exp.DestinationField] = val
			next = append(next, rootTask{value: val, allowed: []string{m.exp.Name}})
		}
	}
	return e.expandRound(ctx, next, callerCtx, visited, depth+1)
}

// collect walks v (a JSON-shaped tree of map[string]any/[]any) recording one
// expansionMatch per object whose `_type` carries an expansion in requested.
// A (route, id) already visited in an earlier round is skipped, so a cycle
// never re-fetches it; an object repeating an id collected earlier in this
// round joins that same batch and receives the same resolved value.
func (e *Expander) collect(v any, requested []string, visited map[[2]string]bool, groups map[routeKey][]*expansionMatch) {
	switch t := v.(type) {
	case map[string]any:
		typeName, _ := t["_type"].(string)
		if typeName != "" {
			for _, exp := range e.cfg.Types[typeName] {
				if !contains(requested, exp.Name) {
					continue
				}
				id, ok := t[exp.SourceField]
				if !ok || id == nil {
					continue
				}
				idStr := fmt.Sprint(id)
				key := [2]string{exp.Route.Service + "." + exp.Name, idStr}
				rk := routeKey{typeName: typeName, name: exp.Name}
				if visited[key] {
					sameRound := false
					for _, m := range groups[rk] {
						if m.idStr == idStr {
							sameRound = true
							break
						}
					}
					if !sameRound {
						continue
					}
				}
				visited[key] = true
				groups[rk] = append(groups[rk], &expansionMatch{obj: t, exp: exp, id: id, idStr: idStr})
			}
		}
		for k, val := range t {
			if k == "_type" {
				continue
			}
			e.collect(val, requested, visited, groups)
		}
	case []any:
		for _, item := range t {
			e.collect(item, requested, visited, groups)
		}
	}
}

// resolveBatch issues the single batched action call for one (type,
// expansion-name) group: request_field carries every match's id,
// response_field comes back as an id->object map (§4.5 steps 2-3). Errors
// from the call are suppressed by default (§4.5 step 6), leaving every
// match in the group unresolved; transport errors always propagate.
func (e *Expander) resolveBatch(ctx context.Context, callerCtx message.Context, matches []*expansionMatch) (map[string]any, error) {
	if len(matches) == 0 {
		return nil, nil
	}
	route := matches[0].exp.Route
	ids := make([]any, len(matches))
	for i, m := range matches {
		ids[i] = m.id
	}

	actionCtx := WithCallerContext(ctx, callerCtx)
	resp, err := e.client.CallAction(actionCtx, route.Service, route.Action,
		map[string]any{route.RequestField: ids}, message.Control{})
	if err != nil {
		if _, isCallActionErr := err.(*CallActionError); !isCallActionErr {
			return nil, err
		}
		return nil, nil
	}
	if resp == nil || resp.Body == nil {
		return nil, nil
	}
	byID, _ := resp.Body[route.ResponseField].(map[string]any)
	return byID, nil
}

func contains(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}
