// Package rbac implements deny-by-default role-based authorization with
// role inheritance, attribute conditions, and a bounded decision cache.
package rbac

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/rs/zerolog"

	"github.com/org/trustledger/internal/crypto"
	"github.com/org/trustledger/pkg/models"
)

// DefaultCacheSize bounds the decision cache when no size is configured.
const DefaultCacheSize = 1000

// PermissionDeniedError is returned by Require when a check is not
// granted, for callers that want abort-on-denial control flow.
type PermissionDeniedError struct {
	Resource string
	Action   string
	Reason   string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("permission denied: %s on %s: %s", e.Action, e.Resource, e.Reason)
}

// CheckRequest describes one permission check.
type CheckRequest struct {
	Resource string
	Action   string
	Context  map[string]any
}

// Engine resolves effective permissions across the role hierarchy and
// caches decisions. It owns its role store and cache exclusively;
// callers interact only through methods. Safe for concurrent use.
type Engine struct {
	logger zerolog.Logger

	mu     sync.RWMutex
	byID   map[string]*models.RoleDefinition
	byName map[string]*models.RoleDefinition
	cache  *decisionCache
	// cacheGen increments on every cache clear. A check that evaluated
	// against pre-clear role state must not insert its result after the
	// clear, so inserts are fenced on the generation they read under.
	cacheGen uint64
}

// NewEngine creates an empty engine with the given cache bound.
// cacheMaxSize <= 0 selects DefaultCacheSize.
func NewEngine(cacheMaxSize int, logger zerolog.Logger) *Engine {
	if cacheMaxSize <= 0 {
		cacheMaxSize = DefaultCacheSize
	}
	return &Engine{
		logger: logger.With().Str("component", "rbac").Logger(),
		byID:   map[string]*models.RoleDefinition{},
		byName: map[string]*models.RoleDefinition{},
		cache:  newDecisionCache(cacheMaxSize),
	}
}

// DefineRole upserts a role definition by id. Cycles in the parent
// graph are not validated here: roles may be added in any order, so
// cycles are only observable during resolution, which guards against
// them. Any role mutation drops the whole decision cache; a stale grant
// for a changed role must never be served.
func (e *Engine) DefineRole(role *models.RoleDefinition) error {
	if role.ID == "" {
		return fmt.Errorf("role id must not be empty")
	}
	if role.Name == "" {
		role.Name = role.ID
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if prev, ok := e.byID[role.ID]; ok && prev.Name != role.Name {
		delete(e.byName, prev.Name)
	}
	cp := cloneRole(role)
	e.byID[role.ID] = cp
	e.byName[role.Name] = cp
	e.clearCacheLocked()

	e.logger.Debug().Str("role", role.ID).Int("permissions", len(role.Permissions)).Msg("role defined")
	return nil
}

// RemoveRole deletes a role by id. Cached decisions referencing the
// removed role must not survive, so the cache is cleared.
func (e *Engine) RemoveRole(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	role, ok := e.byID[id]
	if !ok {
		return false
	}
	delete(e.byID, id)
	if e.byName[role.Name] == role {
		delete(e.byName, role.Name)
	}
	e.clearCacheLocked()

	e.logger.Debug().Str("role", id).Msg("role removed")
	return true
}

// GetRole looks a role up by id, falling back to name. Id lookup takes
// precedence when a name collides with another role's id.
func (e *Engine) GetRole(idOrName string) (*models.RoleDefinition, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	role, ok := e.resolveLocked(idOrName)
	if !ok {
		return nil, false
	}
	return cloneRole(role), true
}

// AllRoles returns every defined role.
func (e *Engine) AllRoles() []*models.RoleDefinition {
	e.mu.RLock()
	defer e.mu.RUnlock()
	roles := make([]*models.RoleDefinition, 0, len(e.byID))
	for _, r := range e.byID {
		roles = append(roles, cloneRole(r))
	}
	return roles
}

// ClearCache drops all cached decisions. Safe to call concurrently with
// in-flight checks: a check that starts after ClearCache returns cannot
// observe a pre-clear entry.
func (e *Engine) ClearCache() {
	e.mu.Lock()
	e.clearCacheLocked()
	e.mu.Unlock()
}

// clearCacheLocked drops the cache and advances the generation. Caller
// holds the write lock.
func (e *Engine) clearCacheLocked() {
	e.cache.clear()
	e.cacheGen++
}

// CacheLen reports the current number of cached decisions.
func (e *Engine) CacheLen() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cache.len()
}

// Check decides whether the role may perform the action on the resource.
// An unknown role yields a denial result, never an error. The first
// matching permission across the role and its ancestors wins; absence
// of any match is denial (there is no explicit deny rule type).
func (e *Engine) Check(roleIDOrName string, req CheckRequest, userID string) *models.PermissionResult {
	e.mu.RLock()
	role, ok := e.resolveLocked(roleIDOrName)
	if !ok {
		e.mu.RUnlock()
		result := &models.PermissionResult{Granted: false, Reason: "role not found"}
		e.logCheck(roleIDOrName, req, userID, result)
		return result
	}
	roleID := role.ID

	key := cacheKey(roleID, req)
	if cached, hit := e.cache.get(key); hit {
		e.mu.RUnlock()
		return cached
	}
	gen := e.cacheGen

	result := e.evaluateLocked(role, req)
	e.mu.RUnlock()

	e.mu.Lock()
	if e.cacheGen == gen {
		e.cache.put(key, result)
	}
	e.mu.Unlock()

	e.logCheck(roleID, req, userID, result)
	return result
}

// Require performs Check and converts a denial into a typed error.
func (e *Engine) Require(roleIDOrName string, req CheckRequest, userID string) error {
	result := e.Check(roleIDOrName, req, userID)
	if !result.Granted {
		return &PermissionDeniedError{
			Resource: req.Resource,
			Action:   req.Action,
			Reason:   result.Reason,
		}
	}
	return nil
}

// resolveLocked finds a role by id, then by name. Caller holds at least
// a read lock.
func (e *Engine) resolveLocked(idOrName string) (*models.RoleDefinition, bool) {
	if r, ok := e.byID[idOrName]; ok {
		return r, true
	}
	r, ok := e.byName[idOrName]
	return r, ok
}

// evaluateLocked resolves permissions breadth-first across the
// inheritance chain: the role itself, then its parents, each role
// visited at most once so parent cycles cannot loop. Caller holds at
// least a read lock.
func (e *Engine) evaluateLocked(role *models.RoleDefinition, req CheckRequest) *models.PermissionResult {
	visited := map[string]bool{role.ID: true}
	queue := []*models.RoleDefinition{role}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for i := range current.Permissions {
			perm := &current.Permissions[i]
			if !matchPattern(perm.Resource, req.Resource) {
				continue
			}
			if !matchPattern(perm.Action, req.Action) {
				continue
			}
			if !evalCondition(perm.Condition, req.Context) {
				continue
			}
			matched := *perm
			return &models.PermissionResult{Granted: true, Matched: &matched}
		}

		for _, parentID := range current.ParentRoles {
			if visited[parentID] {
				continue
			}
			visited[parentID] = true
			if parent, ok := e.byID[parentID]; ok {
				queue = append(queue, parent)
			}
		}
	}
	return &models.PermissionResult{Granted: false, Reason: "no matching permission"}
}

// evalCondition evaluates the simple attribute predicates against the
// request context. A nil or empty condition always passes.
func evalCondition(cond *models.Condition, ctx map[string]any) bool {
	if cond.Empty() {
		return true
	}
	for field, want := range cond.Equals {
		got, ok := ctx[field]
		if !ok || !looseEqual(got, want) {
			return false
		}
	}
	for field, allowed := range cond.In {
		got, ok := ctx[field]
		if !ok {
			return false
		}
		found := false
		for _, v := range allowed {
			if looseEqual(got, v) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// looseEqual compares context values tolerating the int/float64 skew
// that JSON decoding introduces.
func looseEqual(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	return aok && bok && af == bf
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// cacheKey builds the composite cache key. The full context object
// participates through a digest of its canonical JSON form: no narrower
// contract identifies which context fields a condition may read.
func cacheKey(roleID string, req CheckRequest) string {
	ctxDigest := ""
	if len(req.Context) > 0 {
		if b, err := json.Marshal(req.Context); err == nil {
			ctxDigest = crypto.SHA256Hex(b)
		}
	}
	return roleID + "\x00" + req.Resource + "\x00" + req.Action + "\x00" + ctxDigest
}

// logCheck emits the decision. The context payload is deliberately
// omitted: it can carry sensitive attributes that must not reach logs.
func (e *Engine) logCheck(roleID string, req CheckRequest, userID string, result *models.PermissionResult) {
	e.logger.Debug().
		Str("role", roleID).
		Str("resource", req.Resource).
		Str("action", req.Action).
		Str("user_id", userID).
		Bool("granted", result.Granted).
		Str("reason", result.Reason).
		Msg("permission check")
}

func cloneRole(r *models.RoleDefinition) *models.RoleDefinition {
	cp := &models.RoleDefinition{
		ID:          r.ID,
		Name:        r.Name,
		Permissions: make([]models.Permission, len(r.Permissions)),
		ParentRoles: append([]string(nil), r.ParentRoles...),
	}
	copy(cp.Permissions, r.Permissions)
	return cp
}
