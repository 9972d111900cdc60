package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

const reloadSettle = 200 * time.Millisecond

// GroupChange describes how one group differs after a reload.
type GroupChange struct {
	GroupID string
	Changed []Conversation
	Removed []string
}

// Empty reports whether the reload left the group untouched.
func (c GroupChange) Empty() bool {
	return len(c.Changed) == 0 && len(c.Removed) == 0
}

// Loader loads conversation groups from YAML files, one group per file,
// and optionally watches the directory for edits.
type Loader struct {
	dir string

	mu     sync.RWMutex
	groups map[string]*ConversationGroup
}

// NewLoader creates a loader for the given directory.
func NewLoader(dir string) *Loader {
	return &Loader{
		dir:    dir,
		groups: make(map[string]*ConversationGroup),
	}
}

// LoadAll loads every .yaml and .yml file in the directory. Files that
// fail to parse or validate are skipped and reported in the joined error;
// the groups that did load replace the previous set.
func (l *Loader) LoadAll(ctx context.Context) (map[string]*ConversationGroup, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read conversation dir %q: %w", l.dir, err)
	}

	result := make(map[string]*ConversationGroup)
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}

		path := filepath.Join(l.dir, entry.Name())
		g, err := LoadGroupFile(path)
		if err != nil {
			errs = append(errs, &ConfigurationError{Scope: path, Detail: "load group", Err: err})
			continue
		}
		if _, dup := result[g.ID]; dup {
			errs = append(errs, &ConfigurationError{Scope: path, Detail: fmt.Sprintf("duplicate group id %q", g.ID)})
			continue
		}
		for _, p := range Lint(g) {
			slog.WarnContext(ctx, "conversation lint", slog.String("file", path), slog.String("problem", p.Error()))
		}
		result[g.ID] = g
	}

	l.mu.Lock()
	l.groups = result
	l.mu.Unlock()

	return result, errors.Join(errs...)
}

// Get returns a loaded group by id.
func (l *Loader) Get(id string) (*ConversationGroup, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	g, ok := l.groups[id]
	return g, ok
}

// GroupIDs lists loaded group ids, sorted.
func (l *Loader) GroupIDs() []string {
	l.mu.RLock()
	ids := make([]string, 0, len(l.groups))
	for id := range l.groups {
		ids = append(ids, id)
	}
	l.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// LoadGroupFile parses and validates a single group file. A group without
// an id takes the file name.
func LoadGroupFile(path string) (*ConversationGroup, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var g ConversationGroup
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	if g.ID == "" {
		g.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := Validate(&g); err != nil {
		return nil, err
	}
	return &g, nil
}

// Watch reloads the directory whenever a YAML file is written, created,
// removed or renamed, and calls onChange with the conversations that
// differ per group. Bursts of file events are coalesced. It blocks until
// ctx is done.
func (l *Loader) Watch(ctx context.Context, onChange func(context.Context, []GroupChange)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(l.dir); err != nil {
		return fmt.Errorf("watch dir %q: %w", l.dir, err)
	}

	var settle <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if isYAML(event.Name) && event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				settle = time.After(reloadSettle)
			}
		case <-settle:
			settle = nil
			changes, err := l.Reload(ctx)
			if err != nil {
				slog.WarnContext(ctx, "conversation reload had errors", slog.String("error", err.Error()))
			}
			if len(changes) > 0 && onChange != nil {
				onChange(ctx, changes)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}

// Reload re-reads the directory and returns the per-group differences
// from the previous load. A group whose file vanished or broke keeps its
// previous definition so running sessions are not torn down by a bad edit.
func (l *Loader) Reload(ctx context.Context) ([]GroupChange, error) {
	l.mu.RLock()
	previous := l.groups
	l.mu.RUnlock()

	loaded, err := l.LoadAll(ctx)
	if loaded == nil {
		return nil, err
	}

	l.mu.Lock()
	for id, g := range previous {
		if _, ok := l.groups[id]; !ok {
			l.groups[id] = g
		}
	}
	l.mu.Unlock()

	var changes []GroupChange
	for id, g := range loaded {
		old, ok := previous[id]
		if !ok {
			continue
		}
		if c := diffGroups(old, g); !c.Empty() {
			changes = append(changes, c)
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].GroupID < changes[j].GroupID })
	return changes, err
}

func diffGroups(old, updated *ConversationGroup) GroupChange {
	change := GroupChange{GroupID: updated.ID}
	before := make(map[string]*Conversation, len(old.Conversations))
	for i := range old.Conversations {
		before[old.Conversations[i].ID] = &old.Conversations[i]
	}
	for _, c := range updated.Conversations {
		prev, ok := before[c.ID]
		delete(before, c.ID)
		if ok && reflect.DeepEqual(*prev, c) {
			continue
		}
		change.Changed = append(change.Changed, c)
	}
	for _, c := range old.Conversations {
		if _, gone := before[c.ID]; gone {
			change.Removed = append(change.Removed, c.ID)
		}
	}
	return change
}

func isYAML(name string) bool {
	ext := filepath.Ext(name)
	return ext == ".yaml" || ext == ".yml"
}
