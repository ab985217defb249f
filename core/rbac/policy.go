package rbac

import (
	"strings"
	"sync"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

// Permission objects support a trailing wildcard: "admin.*" grants every
// "admin." permission.
const modelText = `
[request_definition]
r = sub, obj

[policy_definition]
p = sub, obj

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && keyMatch(r.obj, p.obj)
`

type Policy struct {
	mu       sync.RWMutex
	enforcer *casbin.Enforcer
	roles    map[string][]Permission
}

func NewPolicy(roles []Role) *Policy {
	p := &Policy{}
	p.Replace(roles)
	return p
}

func (p *Policy) Allowed(userRoles []string, perm Permission) bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.enforcer == nil {
		return false
	}
	for _, r := range userRoles {
		ok, err := p.enforcer.Enforce(normalizeRole(r), string(perm))
		if err == nil && ok {
			return true
		}
	}
	return false
}

func (p *Policy) Roles() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	keys := make([]string, 0, len(p.roles))
	for k := range p.roles {
		keys = append(keys, k)
	}
	return keys
}

// PermissionsForRoles returns the union of permissions granted to roles,
// with wildcards left unexpanded.
func (p *Policy) PermissionsForRoles(roles []string) []Permission {
	p.mu.RLock()
	defer p.mu.RUnlock()
	set := map[Permission]struct{}{}
	for _, r := range roles {
		for _, perm := range p.roles[normalizeRole(r)] {
			set[perm] = struct{}{}
		}
	}
	out := make([]Permission, 0, len(set))
	for perm := range set {
		out = append(out, perm)
	}
	return out
}

// Replace rebuilds the enforcer from roles. A model that fails to load
// leaves the policy denying everything.
func (p *Policy) Replace(roles []Role) {
	enforcer := newEnforcer()
	rp := make(map[string][]Permission, len(roles))
	for _, r := range roles {
		name := normalizeRole(r.Name)
		if name == "" {
			continue
		}
		for _, perm := range r.Permissions {
			if enforcer != nil {
				_, _ = enforcer.AddPolicy(name, string(perm))
			}
		}
		rp[name] = append([]Permission(nil), r.Permissions...)
	}
	p.mu.Lock()
	p.enforcer = enforcer
	p.roles = rp
	p.mu.Unlock()
}

func newEnforcer() *casbin.Enforcer {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil
	}
	return e
}

func normalizeRole(r string) string {
	return strings.ToUpper(strings.TrimSpace(r))
}
