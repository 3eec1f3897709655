package envelope

import "actionrpc/message"

// The functions in this file translate between the typed message structs
// and the generic maps the serializer package works with. They are the
// envelope layer's equivalent of struct tags: message fields have fixed
// names on the wire (action, body, context, ...) regardless of which
// Serializer produced the surrounding map.

func actionRequestToMap(a message.ActionRequest) map[string]any {
	m := map[string]any{"action": a.Action}
	if a.Body != nil {
		m["body"] = a.Body
	}
	return m
}

func mapToActionRequest(m map[string]any) message.ActionRequest {
	a := message.ActionRequest{}
	a.Action, _ = m["action"].(string)
	a.Body, _ = m["body"].(map[string]any)
	return a
}

func actionResponseToMap(a message.ActionResponse) map[string]any {
	m := map[string]any{"action": a.Action}
	if a.Body != nil {
		m["body"] = a.Body
	}
	if len(a.Errors) > 0 {
		errs := make([]any, len(a.Errors))
		for i, e := range a.Errors {
			errs[i] = errorToMap(e)
		}
		m["errors"] = errs
	}
	return m
}

func mapToActionResponse(m map[string]any) message.ActionResponse {
	a := message.ActionResponse{}
	a.Action, _ = m["action"].(string)
	a.Body, _ = m["body"].(map[string]any)
	if rawErrs, ok := m["errors"].([]any); ok {
		a.Errors = mapsToErrors(rawErrs)
	}
	return a
}

func errorToMap(e message.Error) map[string]any {
	m := map[string]any{
		"code":            e.Code,
		"message":         e.Message,
		"is_caller_error": e.IsCallerError,
	}
	if e.Field != "" {
		m["field"] = e.Field
	}
	if e.Traceback != "" {
		m["traceback"] = e.Traceback
	}
	if len(e.Variables) > 0 {
		vars := make(map[string]any, len(e.Variables))
		for k, v := range e.Variables {
			vars[k] = v
		}
		m["variables"] = vars
	}
	if len(e.DeniedPermissions) > 0 {
		perms := make([]any, len(e.DeniedPermissions))
		for i, p := range e.DeniedPermissions {
			perms[i] = p
		}
		m["denied_permissions"] = perms
	}
	return m
}

func mapToError(m map[string]any) message.Error {
	e := message.Error{}
	e.Code, _ = m["code"].(string)
	e.Message, _ = m["message"].(string)
	e.Field, _ = m["field"].(string)
	e.Traceback, _ = m["traceback"].(string)
	e.IsCallerError, _ = m["is_caller_error"].(bool)
	if rawVars, ok := m["variables"].(map[string]any); ok {
		e.Variables = make(map[string]string, len(rawVars))
		for k, v := range rawVars {
			if s, ok := v.(string); ok {
				e.Variables[k] = s
			}
		}
	}
	if rawPerms, ok := m["denied_permissions"].([]any); ok {
		e.DeniedPermissions = make([]string, 0, len(rawPerms))
		for _, p := range rawPerms {
			if s, ok := p.(string); ok {
				e.DeniedPermissions = append(e.DeniedPermissions, s)
			}
		}
	}
	return e
}

func mapsToErrors(raw []any) []message.Error {
	out := make([]message.Error, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, mapToError(m))
		}
	}
	return out
}

func contextToMap(ctx message.Context) map[string]any {
	m := map[string]any{
		"correlation_id": ctx.CorrelationID,
		"request_id":     int64(ctx.RequestID),
	}
	if len(ctx.Switches) > 0 {
		switches := make([]any, len(ctx.Switches))
		for i, s := range ctx.Switches {
			switches[i] = int64(s)
		}
		m["switches"] = switches
	}
	for k, v := range ctx.Extra {
		m[k] = v
	}
	return m
}

func mapToContext(m map[string]any) message.Context {
	ctx := message.Context{}
	ctx.CorrelationID, _ = m["correlation_id"].(string)
	if rid, err := toInt(m["request_id"]); err == nil {
		ctx.RequestID = rid
	}
	if rawSwitches, ok := m["switches"].([]any); ok {
		ctx.Switches = make([]int, 0, len(rawSwitches))
		for _, s := range rawSwitches {
			if n, err := toInt(s); err == nil {
				ctx.Switches = append(ctx.Switches, n)
			}
		}
	}
	extra := make(map[string]any, len(m))
	for k, v := range m {
		if k == "correlation_id" || k == "request_id" || k == "switches" {
			continue
		}
		extra[k] = v
	}
	if len(extra) > 0 {
		ctx.Extra = extra
	}
	return ctx
}

func controlToMap(c message.Control) map[string]any {
	m := map[string]any{
		"continue_on_error": c.ContinueOnError,
		"suppress_response": c.SuppressResponse,
	}
	if c.TimeoutSeconds != nil {
		m["timeout"] = *c.TimeoutSeconds
	}
	return m
}

func mapToControl(m map[string]any) message.Control {
	c := message.Control{}
	c.ContinueOnError, _ = m["continue_on_error"].(bool)
	c.SuppressResponse, _ = m["suppress_response"].(bool)
	if raw, ok := m["timeout"]; ok {
		switch t := raw.(type) {
		case float64:
			c.TimeoutSeconds = &t
		case int64:
			f := float64(t)
			c.TimeoutSeconds = &f
		}
	}
	return c
}

func jobRequestToMap(jr *message.JobRequest) (map[string]any, error) {
	if err := jr.Validate(); err != nil {
		return nil, err
	}
	actions := make([]any, len(jr.Actions))
	for i, a := range jr.Actions {
		actions[i] = actionRequestToMap(a)
	}
	return map[string]any{
		"actions": actions,
		"context": contextToMap(jr.Context),
		"control": controlToMap(jr.Control),
	}, nil
}

func mapToJobRequest(m map[string]any) (*message.JobRequest, error) {
	jr := &message.JobRequest{}
	rawActions, _ := m["actions"].([]any)
	jr.Actions = make([]message.ActionRequest, 0, len(rawActions))
	for _, item := range rawActions {
		if am, ok := item.(map[string]any); ok {
			jr.Actions = append(jr.Actions, mapToActionRequest(am))
		}
	}
	if ctxMap, ok := m["context"].(map[string]any); ok {
		jr.Context = mapToContext(ctxMap)
	}
	if ctlMap, ok := m["control"].(map[string]any); ok {
		jr.Control = mapToControl(ctlMap)
	}
	if err := jr.Validate(); err != nil {
		return nil, err
	}
	return jr, nil
}

func jobResponseToMap(jr *message.JobResponse) map[string]any {
	actions := make([]any, len(jr.Actions))
	for i, a := range jr.Actions {
		actions[i] = actionResponseToMap(a)
	}
	m := map[string]any{
		"context": contextToMap(jr.Context),
	}
	if len(actions) > 0 {
		m["actions"] = actions
	}
	if len(jr.Errors) > 0 {
		errs := make([]any, len(jr.Errors))
		for i, e := range jr.Errors {
			errs[i] = errorToMap(e)
		}
		m["errors"] = errs
	}
	return m
}

func mapToJobResponse(m map[string]any) *message.JobResponse {
	jr := &message.JobResponse{}
	if rawActions, ok := m["actions"].([]any); ok {
		jr.Actions = make([]message.ActionResponse, 0, len(rawActions))
		for _, item := range rawActions {
			if am, ok := item.(map[string]any); ok {
				jr.Actions = append(jr.Actions, mapToActionResponse(am))
			}
		}
	}
	if ctxMap, ok := m["context"].(map[string]any); ok {
		jr.Context = mapToContext(ctxMap)
	}
	if rawErrs, ok := m["errors"].([]any); ok {
		jr.Errors = mapsToErrors(rawErrs)
	}
	return jr
}
