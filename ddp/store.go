package ddp

import (
	"sort"
	"sync"

	"golang.org/x/exp/maps"
)

// Doc is a single document: a free-form field map plus its immutable
// _id. Doc.Id() is a typed accessor over fields["_id"].
type Doc map[string]any

func (self Doc) Id() string {
	id, _ := self["_id"].(string)
	return id
}

// clone deep-copies a document so stored state can never be mutated
// through a reference an observer or cursor handed out.
func (self Doc) clone() Doc {
	cloned, err := EJSONClone(map[string]any(self))
	if err != nil {
		out := make(Doc, len(self))
		for k, v := range self {
			out[k] = v
		}
		return out
	}
	m, _ := cloned.(map[string]any)
	return Doc(m)
}

// Selector matches a Doc. nil matches everything.
type Selector func(Doc) bool

// CompileSelector turns an EJSON-shaped selector into a Selector.
// Supported forms: exact field equality, {"$and": [...]}, and
// {"field": {"$in": [...]}}. Nested document traversal is not
// supported — this client does not implement a query planner, it only
// needs enough matching to filter added/changed/removed frames.
func CompileSelector(spec map[string]any) Selector {
	if spec == nil {
		return nil
	}
	return func(doc Doc) bool {
		return matchSelector(spec, doc)
	}
}

func matchSelector(spec map[string]any, doc Doc) bool {
	for key, want := range spec {
		switch key {
		case "$and":
			clauses, ok := want.([]any)
			if !ok {
				return false
			}
			for _, clause := range clauses {
				clauseSpec, ok := clause.(map[string]any)
				if !ok || !matchSelector(clauseSpec, doc) {
					return false
				}
			}
			continue
		}

		have, present := doc[key]
		switch wv := want.(type) {
		case map[string]any:
			if inList, ok := wv["$in"]; ok {
				list, ok := inList.([]any)
				if !ok {
					return false
				}
				found := false
				for _, candidate := range list {
					if present && jsonDeepEqual(have, candidate) {
						found = true
						break
					}
				}
				if !found {
					return false
				}
				continue
			}
			return false
		default:
			if !present || !jsonDeepEqual(have, want) {
				return false
			}
		}
	}
	return true
}

// idAndSelectorMatches re-evaluates a selector against a specific id,
// equivalent to the "{$and:[{_id}, selector]}" re-lookup an observer
// needs, without constructing an intermediate compound selector.
func idAndSelectorMatches(doc Doc, id string, selector Selector) bool {
	if doc == nil {
		return false
	}
	if doc.Id() != id {
		return false
	}
	if selector == nil {
		return true
	}
	return selector(doc)
}

// Collection is a named container of documents keyed by _id. local
// collections are never cleared on reconnect and are never populated
// by server frames.
type Collection struct {
	name string
	local bool

	mu sync.RWMutex
	docs map[string]Doc
}

func newCollection(name string, local bool) *Collection {
	return &Collection{name: name, local: local, docs: map[string]Doc{}}
}

func (self *Collection) Name() string { return self.name }
func (self *Collection) IsLocal() bool { return self.local }

// Upsert inserts or replaces the document for id, returning the prior
// document (nil if absent).
func (self *Collection) Upsert(id string, doc Doc) (old Doc) {
	self.mu.Lock()
	defer self.mu.Unlock()
	old = self.docs[id]
	self.docs[id] = doc
	return old
}

func (self *Collection) Remove(id string) (old Doc, existed bool) {
	self.mu.Lock()
	defer self.mu.Unlock()
	old, existed = self.docs[id]
	delete(self.docs, id)
	return old, existed
}

// RemoveAll clears every document in the collection.
func (self *Collection) RemoveAll() {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.docs = map[string]Doc{}
}

func (self *Collection) FindOne(id string) (Doc, bool) {
	self.mu.RLock()
	defer self.mu.RUnlock()
	d, ok := self.docs[id]
	return d, ok
}

// Snapshot returns every document matching selector, in an unspecified
// but stable order (by _id) unless sort is supplied.
func (self *Collection) Snapshot(selector Selector, opts FindOptions) []Doc {
	self.mu.RLock()
	ids := maps.Keys(self.docs)
	sort.Strings(ids)
	matched := make([]Doc, 0, len(ids))
	for _, id := range ids {
		doc := self.docs[id]
		if selector == nil || selector(doc) {
			matched = append(matched, doc)
		}
	}
	self.mu.RUnlock()

	if opts.Sort != nil {
		sort.SliceStable(matched, func(i, j int) bool { return opts.Sort(matched[i], matched[j]) })
	}
	if opts.Skip > 0 {
		if opts.Skip >= len(matched) {
			return []Doc{}
		}
		matched = matched[opts.Skip:]
	}
	if opts.Limit > 0 && opts.Limit < len(matched) {
		matched = matched[:opts.Limit]
	}
	if opts.Fields != nil {
		projected := make([]Doc, len(matched))
		for i, d := range matched {
			projected[i] = projectFields(d, opts.Fields)
		}
		return projected
	}
	return matched
}

func projectFields(doc Doc, fields map[string]bool) Doc {
	out := Doc{"_id": doc.Id()}
	for k, include := range fields {
		if !include {
			continue
		}
		if v, ok := doc[k]; ok {
			out[k] = v
		}
	}
	return out
}

// FindOptions mirrors cursor options.
type FindOptions struct {
	Sort func(a, b Doc) bool
	Limit int
	Skip int
	Fields map[string]bool
}

// Cursor is an immutable snapshot plus its originating selector.
type Cursor struct {
	collectionName string
	selector Selector
	docs []Doc
	store *CollectionStore
}

func (self *Cursor) Fetch() []Doc {
	out := make([]Doc, len(self.docs))
	copy(out, self.docs)
	return out
}

func (self *Cursor) ForEach(fn func(Doc)) {
	for _, d := range self.docs {
		fn(d)
	}
}

func (self *Cursor) Map(fn func(Doc) any) []any {
	out := make([]any, len(self.docs))
	for i, d := range self.docs {
		out[i] = fn(d)
	}
	return out
}

func (self *Cursor) Count() int {
	return len(self.docs)
}

// CursorCallbacks is the set of observers cursor.Observe registers.
type CursorCallbacks struct {
	Added func(doc Doc)
	Changed func(newDoc, oldDoc Doc)
	Removed func(id string, oldDoc Doc)
}

// Observe registers a selector-filtered observer on the cursor's
// collection.
func (self *Cursor) Observe(callbacks CursorCallbacks) (stop func()) {
	return self.store.observers.addCursorObserver(self.collectionName, self.selector, callbacks)
}

// CollectionStore mirrors server-side collections into memory.
type CollectionStore struct {
	tracker *Tracker
	observers *ObserverRegistry

	mu sync.RWMutex
	collections map[string]*Collection
}

func NewCollectionStore(tracker *Tracker) *CollectionStore {
	s := &CollectionStore{
		tracker: tracker,
		collections: map[string]*Collection{},
	}
	s.observers = NewObserverRegistry(s, tracker)
	return s
}

// Collection returns (creating if absent) the named collection. local
// marks it as never cleared/populated by the wire protocol.
func (self *CollectionStore) Collection(name string, local bool) *Collection {
	self.mu.Lock()
	defer self.mu.Unlock()
	c, ok := self.collections[name]
	if !ok {
		c = newCollection(name, local)
		self.collections[name] = c
	}
	return c
}

func (self *CollectionStore) collectionNames() []string {
	self.mu.RLock()
	defer self.mu.RUnlock()
	return maps.Keys(self.collections)
}

// Find compiles selector, wires the current computation (if any) into
// the ObserverRegistry's computation-observer tracking for this
// collection, and returns a Cursor snapshot.
func (self *CollectionStore) Find(collectionName string, selectorSpec map[string]any, opts FindOptions) *Cursor {
	selector := CompileSelector(selectorSpec)
	c := self.Collection(collectionName, false)

	docs := c.Snapshot(selector, opts)

	if comp := self.tracker.current(); comp != nil {
		// seed lastMatch from what Find() actually saw, so a later no-op
		// rewrite of an already-matching doc isn't misread as a fresh
		// match transition.
		matchingIds := make([]string, 0, len(docs))
		for _, d := range docs {
			matchingIds = append(matchingIds, d.Id())
		}
		self.observers.trackComputation(collectionName, comp, selector, matchingIds)
	}

	return &Cursor{collectionName: collectionName, selector: selector, docs: docs, store: self}
}

// handleAdded applies an `added` frame to the collection and notifies
// observers.
func (self *CollectionStore) handleAdded(collectionName, id string, fields map[string]any) {
	c := self.Collection(collectionName, false)
	doc := Doc{"_id": id}
	for k, v := range fields {
		doc[k] = v
	}
	c.Upsert(id, doc)
	self.observers.notifyAdded(collectionName, doc)
}

// handleChanged merges a `changed` frame's fields into the existing
// document, deletes any cleared fields, and notifies observers.
func (self *CollectionStore) handleChanged(collectionName, id string, fields map[string]any, cleared []string) {
	c := self.Collection(collectionName, false)

	old, hadOld := c.FindOne(id)
	base := Doc{"_id": id}
	if hadOld {
		for k, v := range old {
			base[k] = v
		}
	}
	for k, v := range fields {
		base[k] = v
	}
	for _, name := range cleared {
		delete(base, name)
	}

	c.Upsert(id, base)
	self.observers.notifyChanged(collectionName, base, old)
}

// handleRemoved deletes a document in response to a `removed` frame and
// notifies observers.
func (self *CollectionStore) handleRemoved(collectionName, id string) {
	c := self.Collection(collectionName, false)
	old, existed := c.Remove(id)
	if !existed {
		return
	}
	self.observers.notifyRemoved(collectionName, id, old)
}

// ClearNonLocal empties every non-local collection.
func (self *CollectionStore) ClearNonLocal() {
	self.mu.RLock()
	cols := maps.Values(self.collections)
	self.mu.RUnlock()

	for _, c := range cols {
		if c.IsLocal() {
			continue
		}
		c.RemoveAll()
	}
}
