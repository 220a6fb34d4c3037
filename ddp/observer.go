package ddp

import (
	"sync"

	"golang.org/x/exp/slices"
)

// cursorObserverEntry is one cursor.Observe() registration.
type cursorObserverEntry struct {
	id uint64
	selector Selector
	callbacks CursorCallbacks
}

// computationObserverEntry is one implicit Find()-inside-a-computation
// registration, keyed by (collectionName, computation).
type computationObserverEntry struct {
	computation *Computation
	selector Selector
	lastMatch map[string]bool // doc id -> was matching as of last notify
}

// ObserverRegistry fans out CollectionStore changes to cursor observers
// and computation observers. Lists are copied on write, so a notify
// loop never holds the registry lock while invoking user code.
type ObserverRegistry struct {
	store *CollectionStore
	tracker *Tracker

	mu sync.Mutex
	nextID uint64
	cursorObservers map[string][]*cursorObserverEntry // collectionName -> entries
	compObservers map[string][]*computationObserverEntry
}

func NewObserverRegistry(store *CollectionStore, tracker *Tracker) *ObserverRegistry {
	return &ObserverRegistry{
		store: store,
		tracker: tracker,
		cursorObservers: map[string][]*cursorObserverEntry{},
		compObservers: map[string][]*computationObserverEntry{},
	}
}

func (self *ObserverRegistry) addCursorObserver(collectionName string, selector Selector, callbacks CursorCallbacks) (stop func()) {
	self.mu.Lock()
	self.nextID++
	entry := &cursorObserverEntry{id: self.nextID, selector: selector, callbacks: callbacks}
	self.cursorObservers[collectionName] = append(slices.Clone(self.cursorObservers[collectionName]), entry)
	self.mu.Unlock()

	return func() {
		self.mu.Lock()
		defer self.mu.Unlock()
		entries := self.cursorObservers[collectionName]
		idx := slices.IndexFunc(entries, func(e *cursorObserverEntry) bool { return e.id == entry.id })
		if idx < 0 {
			return
		}
		next := slices.Clone(entries)
		next = slices.Delete(next, idx, idx+1)
		self.cursorObservers[collectionName] = next
	}
}

// trackComputation registers comp as an implicit computation observer
// for collectionName/selector, and arranges for it to be removed when
// comp stops.
func (self *ObserverRegistry) trackComputation(collectionName string, comp *Computation, selector Selector, matchingIds []string) {
	self.mu.Lock()
	entries := self.compObservers[collectionName]
	for _, e := range entries {
		if e.computation == comp {
			// same computation re-finding the same collection within one
			// run; keep the most specific/last selector it asked for.
			e.selector = selector
			self.mu.Unlock()
			return
		}
	}
	lastMatch := make(map[string]bool, len(matchingIds))
	for _, id := range matchingIds {
		lastMatch[id] = true
	}
	entry := &computationObserverEntry{computation: comp, selector: selector, lastMatch: lastMatch}
	self.compObservers[collectionName] = append(slices.Clone(entries), entry)
	self.mu.Unlock()

	comp.OnStop(func(*Computation) {
		self.removeComputation(collectionName, comp)
	})
}

func (self *ObserverRegistry) removeComputation(collectionName string, comp *Computation) {
	self.mu.Lock()
	defer self.mu.Unlock()
	entries := self.compObservers[collectionName]
	idx := slices.IndexFunc(entries, func(e *computationObserverEntry) bool { return e.computation == comp })
	if idx < 0 {
		return
	}
	next := slices.Clone(entries)
	next = slices.Delete(next, idx, idx+1)
	self.compObservers[collectionName] = next
}

// notifyAdded fires a cursor's Added callback when the selector is nil
// or matches the new document.
func (self *ObserverRegistry) notifyAdded(collectionName string, doc Doc) {
	for _, entry := range self.cursorSnapshot(collectionName) {
		if entry.selector == nil || entry.selector(doc) {
			if entry.callbacks.Added != nil {
				HandleError(func() { entry.callbacks.Added(doc.clone()) })
			}
		}
	}
	self.notifyComputationsIfChanged(collectionName, doc, nil)
}

// notifyChanged fires Changed when the new document matches a cursor's
// selector. A document transitioning OUT of a selector (matched
// before, doesn't match after) fires neither Changed nor a synthetic
// Removed on the cursor-observer path — only the post-image selector
// match is consulted. This is a deliberate choice, not a bug.
func (self *ObserverRegistry) notifyChanged(collectionName string, newDoc, oldDoc Doc) {
	for _, entry := range self.cursorSnapshot(collectionName) {
		matches := entry.selector == nil || entry.selector(newDoc)
		if !matches {
			continue
		}
		if entry.callbacks.Changed != nil {
			HandleError(func() { entry.callbacks.Changed(newDoc.clone(), oldDoc.clone()) })
		}
	}
	self.notifyComputationsIfChanged(collectionName, newDoc, oldDoc)
}

// notifyRemoved always fires the dedicated Removed callback — we
// cannot re-check a selector against a deleted document.
func (self *ObserverRegistry) notifyRemoved(collectionName, id string, oldDoc Doc) {
	for _, entry := range self.cursorSnapshot(collectionName) {
		if entry.callbacks.Removed != nil {
			HandleError(func() { entry.callbacks.Removed(id, oldDoc.clone()) })
		}
	}
	self.notifyComputationsIfChanged(collectionName, nil, oldDoc)
}

func (self *ObserverRegistry) cursorSnapshot(collectionName string) []*cursorObserverEntry {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.cursorObservers[collectionName]
}

// notifyComputationsIfChanged invalidates every computation observer
// whose selector-match state for this document actually changed, with
// an EJSON.equals short-circuit on no-op rewrites. newDoc is nil for a removal.
func (self *ObserverRegistry) notifyComputationsIfChanged(collectionName string, newDoc, oldDoc Doc) {
	self.mu.Lock()
	entries := self.compObservers[collectionName]
	self.mu.Unlock()

	var id string
	if newDoc != nil {
		id = newDoc.Id()
	} else if oldDoc != nil {
		id = oldDoc.Id()
	}
	if id == "" {
		return
	}

	for _, entry := range entries {
		if entry.computation.Stopped() {
			continue
		}

		wasMatch := entry.lastMatch[id]
		nowMatch := newDoc != nil && (entry.selector == nil || entry.selector(newDoc))

		changed := wasMatch != nowMatch
		if !changed && nowMatch {
			// still matching: invalidate only if the document actually
			// differs (EJSON.equals short-circuit).
			changed = oldDoc == nil || !EJSONEquals(map[string]any(newDoc), map[string]any(oldDoc))
		}
		if !changed {
			continue
		}

		if nowMatch {
			entry.lastMatch[id] = true
		} else {
			delete(entry.lastMatch, id)
		}

		entry.computation.invalidate()
	}
}
