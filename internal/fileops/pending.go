package fileops

import (
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
)

// ActionKind tags the pending action variants.
type ActionKind int

const (
	CacheLimit ActionKind = iota + 1
	SelectFile
	DeleteConfirm
	Overwrite
	CreateLocation
	CustomPath
)

type Op string

const (
	OpOpen   Op = "open"
	OpDelete Op = "delete"
	OpCreate Op = "new"
)

const StateNone = "none"

// PendingAction is a file operation waiting on the user's next reply. Which fields are set
// depends on Kind:
//
//	CacheLimit, SelectFile:     Op, Query, Files
//	DeleteConfirm:              Path, SystemWarned
//	Overwrite:                  Path, Filename
//	CreateLocation, CustomPath: Filename
type PendingAction struct {
	Kind         ActionKind
	Op           Op
	Query        string
	Files        []string
	Path         string
	Filename     string
	SystemWarned bool
}

// State names the action the way the chat layer reports it, e.g. "cache_limit_delete".
func (a *PendingAction) State() string {
	if a == nil {
		return StateNone
	}
	switch a.Kind {
	case CacheLimit:
		return "cache_limit_" + string(a.Op)
	case SelectFile:
		return "select_file"
	case DeleteConfirm:
		return "delete"
	case Overwrite:
		return "overwrite"
	case CreateLocation:
		return "create_location"
	case CustomPath:
		return "custom_path"
	}
	return StateNone
}

// PendingStore holds at most one action per session. Actions left unanswered expire after ttl.
type PendingStore struct {
	actions *cache.Cache
}

func NewPendingStore(ttl time.Duration) *PendingStore {
	if ttl <= 0 {
		return &PendingStore{actions: cache.New(cache.NoExpiration, 0)}
	}
	return &PendingStore{actions: cache.New(ttl, 2*ttl)}
}

func (p *PendingStore) Get(sessionID int64) (*PendingAction, bool) {
	v, ok := p.actions.Get(key(sessionID))
	if !ok {
		return nil, false
	}
	return v.(*PendingAction), true
}

// Set replaces whatever was pending for the session.
func (p *PendingStore) Set(sessionID int64, a *PendingAction) {
	p.actions.SetDefault(key(sessionID), a)
}

func (p *PendingStore) Clear(sessionID int64) {
	p.actions.Delete(key(sessionID))
}

func (p *PendingStore) State(sessionID int64) string {
	a, _ := p.Get(sessionID)
	return a.State()
}

func key(sessionID int64) string {
	return strconv.FormatInt(sessionID, 10)
}
