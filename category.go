package driftmq

import (
	"strings"
	"sync/atomic"
)

// AuthLevel is the minimum authentication level a category's commands
// require, mirroring lokimq.h's AuthLevel enum (denied is only ever a
// return value from an AllowFunc, never stored on a category).
type AuthLevel int

const (
	AuthNone AuthLevel = iota
	AuthBasic
	AuthAdmin
	authDenied AuthLevel = -1
)

// Access is the access policy attached to a category at AddCategory time.
type Access struct {
	AuthMin          AuthLevel
	RemoteSNRequired bool
	LocalSNRequired  bool
}

const (
	maxCategoryNameLength = 50
	maxCommandNameLength  = 200
)

// commandEntry is a registered command's name and handler; resolve hands it
// back together with its category.
type commandEntry struct {
	name    string
	handler CommandHandler
}

// category groups a set of related commands behind a shared access policy,
// thread reservation, and bounded pending queue. reservedThreads is
// immutable after Start; activeThreads and pending are proxy-goroutine-owned
// mutable state, touched only from the proxy loop and never locked.
type category struct {
	name            string
	access          Access
	commands        map[string]*commandEntry
	reservedThreads uint
	maxQueue        int // -1 unbounded, 0 drop-if-no-idle-worker

	activeThreads uint
	pending       []*job
}

func newCategory(name string, access Access, reservedThreads uint, maxQueue int) *category {
	return &category{
		name:            name,
		access:          access,
		commands:        make(map[string]*commandEntry),
		reservedThreads: reservedThreads,
		maxQueue:        maxQueue,
	}
}

// categoryRegistry owns every category, the alias map, and the sealed flag
// that locks configuration once Start has run.
type categoryRegistry struct {
	categories map[string]*category
	order      []string // registration order, for round-robin pending drain
	aliases    map[string]string
	sealed     atomic.Bool
}

func newCategoryRegistry() *categoryRegistry {
	return &categoryRegistry{
		categories: make(map[string]*category),
		aliases:    make(map[string]string),
	}
}

// AddCategory registers a new command category. May not be called after
// Start.
func (r *categoryRegistry) AddCategory(name string, access Access, reservedThreads uint, maxQueue int) error {
	if r.sealed.Load() {
		return ErrSealed
	}
	if name == "" || len(name) > maxCategoryNameLength || strings.Contains(name, ".") {
		return ErrInvalidName
	}
	if _, exists := r.categories[name]; exists {
		return ErrDuplicateCategory
	}
	r.categories[name] = newCategory(name, access, reservedThreads, maxQueue)
	r.order = append(r.order, name)
	return nil
}

// AddCommand registers a handler for name within category. The category
// must already exist.
func (r *categoryRegistry) AddCommand(categoryName, name string, handler CommandHandler) error {
	if r.sealed.Load() {
		return ErrSealed
	}
	if name == "" || len(name) > maxCommandNameLength {
		return ErrInvalidName
	}
	cat, ok := r.categories[categoryName]
	if !ok {
		return ErrUnknownCategory
	}
	if _, exists := cat.commands[name]; exists {
		return ErrDuplicateCommand
	}
	cat.commands[name] = &commandEntry{name: name, handler: handler}
	return nil
}

// AddCommandAlias maps one category.command token to another. Only the `to`
// side is validated against the category table — the `from` side is
// deliberately left unchecked, matching lokimq.h's own comment that this is
// a known pending tightening, not a silent oversight.
func (r *categoryRegistry) AddCommandAlias(from, to string) error {
	if r.sealed.Load() {
		return ErrSealed
	}
	toCat, toCmd, ok := splitToken(to)
	if !ok {
		return ErrInvalidName
	}
	cat, exists := r.categories[toCat]
	if !exists {
		return ErrUnknownCategory
	}
	if _, exists := cat.commands[toCmd]; !exists {
		return ErrUnknownCategory
	}
	r.aliases[from] = to
	return nil
}

func (r *categoryRegistry) seal() { r.sealed.Store(true) }

func splitToken(token string) (cat, cmd string, ok bool) {
	i := strings.IndexByte(token, '.')
	if i <= 0 || i == len(token)-1 {
		return "", "", false
	}
	return token[:i], token[i+1:], true
}

// resolve expands an alias if one matches, then splits the resulting token
// into its category and command. It returns the canonical "category.command"
// token alongside
// the category and handler so callers logging a warning can name the
// original (pre-alias) token if they want to.
func (r *categoryRegistry) resolve(token string) (cat *category, entry *commandEntry, canonical string, err error) {
	canonical = token
	if target, aliased := r.aliases[token]; aliased {
		canonical = target
	}
	catName, cmdName, ok := splitToken(canonical)
	if !ok {
		return nil, nil, canonical, ErrUnknownCategory
	}
	cat, ok = r.categories[catName]
	if !ok {
		return nil, nil, canonical, ErrUnknownCategory
	}
	entry, ok = cat.commands[cmdName]
	if !ok {
		return nil, nil, canonical, ErrUnknownCategory
	}
	return cat, entry, canonical, nil
}

// checkAccess reports whether a peer with the given auth level and
// service-node status satisfies a category's access requirements.
func checkAccess(cat *category, peerAuth AuthLevel, peerSN, localSN bool) bool {
	if peerAuth < cat.access.AuthMin {
		return false
	}
	if cat.access.RemoteSNRequired && !peerSN {
		return false
	}
	if cat.access.LocalSNRequired && !localSN {
		return false
	}
	return true
}

// tryEnqueue enqueues if there's room under maxQueue, otherwise drops.
// Returns false if the job was dropped.
func (c *category) tryEnqueue(j *job) bool {
	if c.maxQueue >= 0 && len(c.pending) >= c.maxQueue {
		return false
	}
	c.pending = append(c.pending, j)
	return true
}

// popPending removes and returns the oldest pending job, or nil if empty.
func (c *category) popPending() *job {
	if len(c.pending) == 0 {
		return nil
	}
	j := c.pending[0]
	c.pending = c.pending[1:]
	return j
}
