package permission

import "fmt"

// Context carries caller-supplied facts evaluated against permission
// conditions.
type Context struct {
	// Amount is the transaction amount for this request, if any.
	Amount *float64

	// Region is the caller's region code, if known.
	Region string

	// DailySpent is the amount already spent in the current day, used with
	// the daily_spend_limit condition.
	DailySpent float64
}

// Request is one permission check.
type Request struct {
	Resource string
	Action   string
	Context  Context
}

// Decision is the outcome of a permission check. A denial is a normal
// outcome, never an error.
type Decision struct {
	Granted bool
	Reason  string
}

func grant() Decision {
	return Decision{Granted: true}
}

func deny(format string, args ...interface{}) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...)}
}

// Check evaluates req against perms in list order and returns the first
// decision. The first permission whose resource and action match determines
// the outcome: if its conditions fail, the result is a denial citing the
// failed condition, with no fallthrough to later permissions.
func Check(perms []Permission, req Request) Decision {
	for _, p := range perms {
		switch p.Kind() {
		case KindLegacy:
			// Legacy string grants ignore the resource.
			if p.Action == "*" || p.Action == req.Action {
				return grant()
			}

		case KindStructured:
			if !matchGlob(p.Resource, req.Resource) {
				continue
			}
			if !containsAction(p.Actions, req.Action) {
				continue
			}
			return checkConditions(p.Conditions, req.Context)
		}
	}

	return deny("no permission grants action %q on resource %q", req.Action, req.Resource)
}

func containsAction(actions []string, action string) bool {
	for _, a := range actions {
		if a == "*" || a == action {
			return true
		}
	}
	return false
}

// checkConditions evaluates the conditions of a structurally-matching
// permission. The first failing condition short-circuits.
func checkConditions(c *Conditions, ctx Context) Decision {
	if c == nil {
		return grant()
	}

	if c.MaxTransactionAmount != nil && ctx.Amount != nil && *ctx.Amount > *c.MaxTransactionAmount {
		return deny("amount %v exceeds max transaction amount %v", *ctx.Amount, *c.MaxTransactionAmount)
	}

	if len(c.AllowedRegions) > 0 && ctx.Region != "" {
		allowed := false
		for _, r := range c.AllowedRegions {
			if r == ctx.Region {
				allowed = true
				break
			}
		}
		if !allowed {
			return deny("region %q is not in the allowed regions", ctx.Region)
		}
	}

	if c.DailySpendLimit != nil && ctx.Amount != nil && ctx.DailySpent+*ctx.Amount > *c.DailySpendLimit {
		return deny("daily spend %v plus amount %v exceeds daily limit %v",
			ctx.DailySpent, *ctx.Amount, *c.DailySpendLimit)
	}

	return grant()
}
