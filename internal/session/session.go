// Package session tracks per-user working context and workspace-wide
// team patterns. The ranker consumes both: a user's open and recent
// files boost their own results, and files the whole team touches often
// boost everyone's.
package session

import (
	"fmt"
	"sort"
	"time"
)

// Bound caps every per-user collection: recent files, recent queries
// and the file access count map.
const Bound = 20

// EventType is a user activity event.
type EventType string

const (
	EventFileOpened  EventType = "file_opened"
	EventFileClosed  EventType = "file_closed"
	EventFileEdited  EventType = "file_edited"
	EventQueryIssued EventType = "query_issued"
)

// ValidEventType reports whether t is a known event type.
func ValidEventType(t EventType) bool {
	switch t {
	case EventFileOpened, EventFileClosed, EventFileEdited, EventQueryIssued:
		return true
	}
	return false
}

// Event is one user activity notification.
type Event struct {
	Type      EventType
	Path      string
	ProjectID string
	Query     string
	At        time.Time
}

// FileAccess is one entry in the recent-files deque.
type FileAccess struct {
	Path string    `json:"path"`
	At   time.Time `json:"at"`
}

// QueryRecord is one entry in the recent-queries deque.
type QueryRecord struct {
	Query string    `json:"query"`
	At    time.Time `json:"at"`
}

// AccessStat counts accesses to one path. LastAt drives least-recently-
// accessed eviction when the map is full.
type AccessStat struct {
	Count  int       `json:"count"`
	LastAt time.Time `json:"last_at"`
}

// UserContext is one user's working state. All collections are bounded;
// mutation goes through the manager, which serializes it per user.
type UserContext struct {
	UserID           string                 `json:"user_id"`
	CurrentFile      string                 `json:"current_file,omitempty"`
	CurrentProject   string                 `json:"current_project,omitempty"`
	RecentFiles      []FileAccess           `json:"recent_files,omitempty"`
	FileAccessCounts map[string]*AccessStat `json:"file_access_counts,omitempty"`
	RecentQueries    []QueryRecord          `json:"recent_queries,omitempty"`
}

// NewUserContext returns an empty context for a user.
func NewUserContext(userID string) *UserContext {
	return &UserContext{
		UserID:           userID,
		FileAccessCounts: make(map[string]*AccessStat),
	}
}

// Apply folds one event into the context.
func (c *UserContext) Apply(ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	switch ev.Type {
	case EventFileOpened:
		c.CurrentFile = ev.Path
		if ev.ProjectID != "" {
			c.CurrentProject = ev.ProjectID
		}
		c.touchFile(ev.Path, ev.At)
	case EventFileEdited:
		c.touchFile(ev.Path, ev.At)
	case EventFileClosed:
		if c.CurrentFile == ev.Path {
			c.CurrentFile = ""
		}
	case EventQueryIssued:
		c.RecentQueries = append(c.RecentQueries, QueryRecord{Query: ev.Query, At: ev.At})
		if len(c.RecentQueries) > Bound {
			c.RecentQueries = c.RecentQueries[len(c.RecentQueries)-Bound:]
		}
	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
	return nil
}

func (c *UserContext) touchFile(path string, at time.Time) {
	if path == "" {
		return
	}

	// Deduplicate the deque so a hot file occupies one slot.
	files := c.RecentFiles[:0]
	for _, f := range c.RecentFiles {
		if f.Path != path {
			files = append(files, f)
		}
	}
	files = append(files, FileAccess{Path: path, At: at})
	if len(files) > Bound {
		files = files[len(files)-Bound:]
	}
	c.RecentFiles = files

	if c.FileAccessCounts == nil {
		c.FileAccessCounts = make(map[string]*AccessStat)
	}
	if stat, ok := c.FileAccessCounts[path]; ok {
		stat.Count++
		stat.LastAt = at
		return
	}
	if len(c.FileAccessCounts) >= Bound {
		c.evictColdest()
	}
	c.FileAccessCounts[path] = &AccessStat{Count: 1, LastAt: at}
}

func (c *UserContext) evictColdest() {
	var coldest string
	var coldestAt time.Time
	for path, stat := range c.FileAccessCounts {
		if coldest == "" || stat.LastAt.Before(coldestAt) ||
			(stat.LastAt.Equal(coldestAt) && path < coldest) {
			coldest = path
			coldestAt = stat.LastAt
		}
	}
	delete(c.FileAccessCounts, coldest)
}

// RecentWithin returns the paths accessed within window of now.
func (c *UserContext) RecentWithin(now time.Time, window time.Duration) []string {
	var paths []string
	for _, f := range c.RecentFiles {
		if now.Sub(f.At) <= window {
			paths = append(paths, f.Path)
		}
	}
	return paths
}

// FrequentPaths returns the n most-accessed paths, most first. Ties
// break on later access, then path.
func (c *UserContext) FrequentPaths(n int) []string {
	type entry struct {
		path string
		stat *AccessStat
	}
	entries := make([]entry, 0, len(c.FileAccessCounts))
	for path, stat := range c.FileAccessCounts {
		entries = append(entries, entry{path, stat})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].stat.Count != entries[j].stat.Count {
			return entries[i].stat.Count > entries[j].stat.Count
		}
		if !entries[i].stat.LastAt.Equal(entries[j].stat.LastAt) {
			return entries[i].stat.LastAt.After(entries[j].stat.LastAt)
		}
		return entries[i].path < entries[j].path
	})
	if n > len(entries) {
		n = len(entries)
	}
	paths := make([]string, n)
	for i := 0; i < n; i++ {
		paths[i] = entries[i].path
	}
	return paths
}

// Clone returns a deep copy for lock-free reads by the ranker.
func (c *UserContext) Clone() *UserContext {
	clone := &UserContext{
		UserID:           c.UserID,
		CurrentFile:      c.CurrentFile,
		CurrentProject:   c.CurrentProject,
		RecentFiles:      append([]FileAccess(nil), c.RecentFiles...),
		RecentQueries:    append([]QueryRecord(nil), c.RecentQueries...),
		FileAccessCounts: make(map[string]*AccessStat, len(c.FileAccessCounts)),
	}
	for path, stat := range c.FileAccessCounts {
		copied := *stat
		clone.FileAccessCounts[path] = &copied
	}
	return clone
}
