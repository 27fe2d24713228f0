package rbac

import (
	"context"
	"strings"
)

// PermissionForRoute returns the code of the permission guarding method on
// path. An exact path match wins over a trailing wildcard ("/x/*"), and among
// wildcards the longest prefix wins. A permission registered for a specific
// method wins over one registered for "*".
func (p *Policy) PermissionForRoute(ctx context.Context, path, method string) (string, bool, error) {
	perms, err := p.store.ListActivePermissionsByMethod(ctx, strings.ToUpper(method))
	if err != nil {
		return "", false, err
	}
	perm := matchRoute(perms, path, strings.ToUpper(method))
	if perm == nil {
		return "", false, nil
	}
	return perm.Code, true, nil
}

type routeMatch struct {
	perm    *Permission
	exact   bool
	prefix  int
	anyVerb bool
}

func (m routeMatch) beats(o routeMatch) bool {
	if m.exact != o.exact {
		return m.exact
	}
	if m.prefix != o.prefix {
		return m.prefix > o.prefix
	}
	if m.anyVerb != o.anyVerb {
		return !m.anyVerb
	}
	return m.perm.Code < o.perm.Code
}

func matchRoute(perms []*Permission, path, method string) *Permission {
	var best *routeMatch
	for _, perm := range perms {
		if perm.ResourceMethod != method && perm.ResourceMethod != "*" {
			continue
		}

		m := routeMatch{perm: perm, anyVerb: perm.ResourceMethod == "*"}
		switch {
		case perm.ResourcePath == path:
			m.exact = true
		case strings.HasSuffix(perm.ResourcePath, "/*"):
			prefix := strings.TrimSuffix(perm.ResourcePath, "*")
			if !strings.HasPrefix(path, prefix) {
				continue
			}
			m.prefix = len(prefix)
		default:
			continue
		}

		if best == nil || m.beats(*best) {
			best = &m
		}
	}
	if best == nil {
		return nil
	}
	return best.perm
}
