package creds

import (
	"fmt"
	"sync"

	"github.com/peycheff-com/titan-execution-core/internal/store"
)

// Role is one of the three fixed RBAC roles enforced over the operator
// command path.
type Role string

const (
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
	RoleReadonly Role = "readonly"
)

// RoleTable is an in-memory cache over the store's op_state namespace,
// adapted from the ledger-backed access controller pattern: lookups hit
// the cache first and only fall through to the store on a miss.
type RoleTable struct {
	mu    sync.Mutex
	store *store.Store
	cache map[string]map[Role]struct{}
}

// NewRoleTable returns a RoleTable backed by st.
func NewRoleTable(st *store.Store) *RoleTable {
	return &RoleTable{store: st, cache: make(map[string]map[Role]struct{})}
}

func roleKey(actorID string, role Role) []byte {
	return []byte(fmt.Sprintf("role:%s:%s", actorID, role))
}

// LoadStatic replaces the table's contents with the given actor->roles
// mapping, as parsed from a YAML policy file at startup, and persists it
// to the store so restarts don't need to re-parse the file to serve reads.
func (t *RoleTable) LoadStatic(roles map[string][]Role) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var stale [][]byte
	if err := t.store.Scan(store.NSOpState, []byte("role:"), func(k, _ []byte) bool {
		stale = append(stale, append([]byte(nil), k...))
		return true
	}); err != nil {
		return err
	}
	for _, k := range stale {
		if err := t.store.Delete(store.NSOpState, k); err != nil {
			return err
		}
	}
	var writes []store.Write
	t.cache = make(map[string]map[Role]struct{}, len(roles))
	for actor, rs := range roles {
		set := make(map[Role]struct{}, len(rs))
		for _, r := range rs {
			set[r] = struct{}{}
			writes = append(writes, store.Write{NS: store.NSOpState, Key: roleKey(actor, r), Value: []byte{1}})
		}
		t.cache[actor] = set
	}
	return t.store.PutMany(writes)
}

// HasRole reports whether actorID has been granted role.
func (t *RoleTable) HasRole(actorID string, role Role) bool {
	t.mu.Lock()
	if roles, ok := t.cache[actorID]; ok {
		_, has := roles[role]
		t.mu.Unlock()
		return has
	}
	t.mu.Unlock()

	_, found, err := t.store.Get(store.NSOpState, roleKey(actorID, role))
	return err == nil && found
}

// RequireRole returns ErrForbidden if actorID does not hold role.
func (t *RoleTable) RequireRole(actorID string, role Role) error {
	if !t.HasRole(actorID, role) {
		return ErrForbidden
	}
	return nil
}

// CanExecuteAction reports whether actorID is authorized to issue action,
// per the simple rule that admin may issue any action, operator may ARM/
// DISARM/HALT/RESUME, and readonly may issue none.
func (t *RoleTable) CanExecuteAction(actorID string, action string) bool {
	if t.HasRole(actorID, RoleAdmin) {
		return true
	}
	if t.HasRole(actorID, RoleOperator) {
		switch action {
		case "ARM", "DISARM", "HALT", "RESUME":
			return true
		}
	}
	return false
}
