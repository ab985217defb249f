// Package remotetest provides in-memory stand-ins for the remote identity
// service and realtime database, with call counters and failure injection.
package remotetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"roadworks-hub/core/remote"
)

type Gateway struct {
	mu        sync.Mutex
	accounts  map[string]*remote.Account
	passwords map[string]string
	calls     map[string]int
	failures  map[string]error
	nextID    int
}

func NewGateway() *Gateway {
	return &Gateway{
		accounts:  map[string]*remote.Account{},
		passwords: map[string]string{},
		calls:     map[string]int{},
		failures:  map[string]error{},
	}
}

// FailOn makes every call to method return err. A nil err clears it.
// The method "*" matches every method.
func (g *Gateway) FailOn(method string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.failures, method)
		return
	}
	g.failures[method] = err
}

func (g *Gateway) Calls(method string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[method]
}

// Seed adds an account directly, bypassing counters.
func (g *Gateway) Seed(acc remote.Account, password string) *remote.Account {
	g.mu.Lock()
	defer g.mu.Unlock()
	if acc.UID == "" {
		g.nextID++
		acc.UID = fmt.Sprintf("remote-%d", g.nextID)
	}
	acc.Email = strings.ToLower(acc.Email)
	stored := acc
	stored.Claims = copyClaims(acc.Claims)
	g.accounts[acc.UID] = &stored
	g.passwords[acc.UID] = password
	out := stored
	return &out
}

// Account returns a copy of the stored account, or nil.
func (g *Gateway) Account(uid string) *remote.Account {
	g.mu.Lock()
	defer g.mu.Unlock()
	acc, ok := g.accounts[uid]
	if !ok {
		return nil
	}
	out := *acc
	out.Claims = copyClaims(acc.Claims)
	return &out
}

func (g *Gateway) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.accounts)
}

func (g *Gateway) enter(method string) error {
	g.calls[method]++
	if err, ok := g.failures[method]; ok {
		return err
	}
	if err, ok := g.failures["*"]; ok {
		return err
	}
	return nil
}

func (g *Gateway) byEmail(email string) *remote.Account {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, acc := range g.accounts {
		if acc.Email == email {
			return acc
		}
	}
	return nil
}

func (g *Gateway) CreateAccount(_ context.Context, email, password, displayName string) (*remote.Account, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("CreateAccount"); err != nil {
		return nil, err
	}
	if g.byEmail(email) != nil {
		return nil, remote.ErrEmailExists
	}
	g.nextID++
	acc := &remote.Account{UID: fmt.Sprintf("remote-%d", g.nextID), Email: strings.ToLower(email), DisplayName: displayName}
	g.accounts[acc.UID] = acc
	g.passwords[acc.UID] = password
	out := *acc
	return &out, nil
}

func (g *Gateway) GetByEmail(_ context.Context, email string) (*remote.Account, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("GetByEmail"); err != nil {
		return nil, err
	}
	acc := g.byEmail(email)
	if acc == nil {
		return nil, remote.ErrNotFound
	}
	out := *acc
	out.Claims = copyClaims(acc.Claims)
	return &out, nil
}

func (g *Gateway) GetByUID(_ context.Context, uid string) (*remote.Account, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("GetByUID"); err != nil {
		return nil, err
	}
	acc, ok := g.accounts[uid]
	if !ok {
		return nil, remote.ErrNotFound
	}
	out := *acc
	out.Claims = copyClaims(acc.Claims)
	return &out, nil
}

func (g *Gateway) Update(_ context.Context, uid string, upd remote.AccountUpdate) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("Update"); err != nil {
		return err
	}
	acc, ok := g.accounts[uid]
	if !ok {
		return remote.ErrNotFound
	}
	if upd.DisplayName != nil {
		acc.DisplayName = *upd.DisplayName
	}
	if upd.Disabled != nil {
		acc.Disabled = *upd.Disabled
	}
	if upd.Password != nil {
		g.passwords[uid] = *upd.Password
	}
	return nil
}

func (g *Gateway) SetCustomClaims(_ context.Context, uid string, claims map[string]any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("SetCustomClaims"); err != nil {
		return err
	}
	acc, ok := g.accounts[uid]
	if !ok {
		return remote.ErrNotFound
	}
	acc.Claims = copyClaims(claims)
	return nil
}

func (g *Gateway) ListAll(_ context.Context) ([]remote.Account, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("ListAll"); err != nil {
		return nil, err
	}
	out := make([]remote.Account, 0, len(g.accounts))
	for _, acc := range g.accounts {
		cp := *acc
		cp.Claims = copyClaims(acc.Claims)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

func (g *Gateway) VerifyPassword(_ context.Context, email, password string) (*remote.Account, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("VerifyPassword"); err != nil {
		return nil, err
	}
	acc := g.byEmail(email)
	if acc == nil || g.passwords[acc.UID] == "" || g.passwords[acc.UID] != password {
		return nil, remote.ErrInvalidPassword
	}
	if acc.Disabled {
		return nil, remote.ErrDisabled
	}
	out := *acc
	out.Claims = copyClaims(acc.Claims)
	return &out, nil
}

func copyClaims(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

type Database struct {
	mu       sync.Mutex
	nodes    map[string]json.RawMessage
	calls    map[string]int
	failures map[string]error
}

func NewDatabase() *Database {
	return &Database{
		nodes:    map[string]json.RawMessage{},
		calls:    map[string]int{},
		failures: map[string]error{},
	}
}

func (d *Database) FailOn(method string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.failures, method)
		return
	}
	d.failures[method] = err
}

func (d *Database) Calls(method string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[method]
}

// Node returns the raw JSON stored at path, or nil.
func (d *Database) Node(path string) json.RawMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.nodes[remote.JoinPath(path)]
}

// Put stores a record without counting a call.
func (d *Database) Put(path string, record any) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nodes[remote.JoinPath(path)] = raw
	return nil
}

func (d *Database) enter(method string) error {
	d.calls[method]++
	if err, ok := d.failures[method]; ok {
		return err
	}
	if err, ok := d.failures["*"]; ok {
		return err
	}
	return nil
}

func (d *Database) ReadSubtree(_ context.Context, path string) (map[string]json.RawMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("ReadSubtree"); err != nil {
		return nil, err
	}
	prefix := remote.JoinPath(path) + "/"
	out := map[string]json.RawMessage{}
	for k, v := range d.nodes {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		child := strings.TrimPrefix(k, prefix)
		if strings.Contains(child, "/") {
			continue
		}
		out[child] = append(json.RawMessage(nil), v...)
	}
	return out, nil
}

func (d *Database) Write(_ context.Context, path string, record any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("Write"); err != nil {
		return err
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	d.nodes[remote.JoinPath(path)] = raw
	return nil
}

func (d *Database) Update(_ context.Context, path string, fields map[string]any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("Update"); err != nil {
		return err
	}
	key := remote.JoinPath(path)
	current := map[string]any{}
	if raw, ok := d.nodes[key]; ok {
		_ = json.Unmarshal(raw, &current)
	}
	for k, v := range fields {
		current[k] = v
	}
	raw, err := json.Marshal(current)
	if err != nil {
		return err
	}
	d.nodes[key] = raw
	return nil
}

func (d *Database) Delete(_ context.Context, path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("Delete"); err != nil {
		return err
	}
	delete(d.nodes, remote.JoinPath(path))
	return nil
}

var (
	_ remote.IdentityGateway = (*Gateway)(nil)
	_ remote.Database        = (*Database)(nil)
)
