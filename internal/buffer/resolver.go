package buffer

import (
	"fmt"
	"sort"
	"sync"

	"github.com/danmuck/typedbuf/internal/registry"
	"github.com/rs/zerolog/log"
)

type node struct {
	buf      Buffer
	parent   ID
	children map[ID]struct{}
}

// Stats counts Resolver activity since creation.
type Stats struct {
	Allocated uint64
	Released  uint64
	Live      int
}

// ReleaseReport lists what one Release call freed.
type ReleaseReport struct {
	// Released holds every freed identity, children before parents.
	Released []ID
	// Wrappers is the number of freed Wrapper nodes.
	Wrappers int
}

// Resolver is the arena of live buffers and their single-owner edges.
// Identity 0 is never allocated and stands for "no owner".
type Resolver struct {
	mu        sync.Mutex
	next      ID
	nodes     map[ID]*node
	stats     Stats
	onRelease func(Buffer)
}

func NewResolver() *Resolver {
	return &Resolver{nodes: make(map[ID]*node)}
}

// OnRelease installs fn, called once for every buffer the Resolver frees.
func (r *Resolver) OnRelease(fn func(Buffer)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRelease = fn
}

func (r *Resolver) register(b Buffer, h *header, tag Tag) {
	r.next++
	h.id = r.next
	h.tag = tag
	r.nodes[h.id] = &node{buf: b}
	r.stats.Allocated++
}

func (r *Resolver) NewNull() *Null {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := &Null{}
	r.register(b, &b.header, TagNull)
	return b
}

// NewText allocates a STRING or JSON buffer.
func (r *Resolver) NewText(tag Tag, capacity int) (*Text, error) {
	if tag != TagString && tag != TagJSON {
		return nil, fmt.Errorf("%w: %s is not a text type", ErrUnknownTag, tag)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	b := &Text{data: make([]byte, 0, capacity)}
	r.register(b, &b.header, tag)
	return b, nil
}

func (r *Resolver) NewByteArray(capacity int) *ByteArray {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := &ByteArray{data: make([]byte, 0, capacity)}
	r.register(b, &b.header, TagCarray)
	return b
}

func (r *Resolver) NewFielded(capacity int) *Fielded {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := &Fielded{Store: *NewStore(capacity)}
	r.register(b, &b.header, TagUBF)
	return b
}

func (r *Resolver) NewView(desc *registry.ViewDescriptor) *ViewRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := &ViewRecord{ViewData: NewViewData(desc)}
	r.register(b, &b.header, TagView)
	return b
}

// NewFieldedFrom allocates a fielded record holding a copy of payload, which
// must be well formed. Its capacity is the payload size.
func (r *Resolver) NewFieldedFrom(payload []byte) (*Fielded, error) {
	s, err := StoreFrom(payload)
	if err != nil {
		return nil, err
	}
	s.capacity = len(s.data)
	r.mu.Lock()
	defer r.mu.Unlock()
	b := &Fielded{Store: *s}
	r.register(b, &b.header, TagUBF)
	return b, nil
}

// NewViewFrom allocates a view record holding a copy of raw.
func (r *Resolver) NewViewFrom(desc *registry.ViewDescriptor, raw []byte) (*ViewRecord, error) {
	vd, err := ViewDataFrom(desc, raw)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	b := &ViewRecord{ViewData: vd}
	r.register(b, &b.header, TagView)
	return b, nil
}

// NewWrapper allocates a PTR buffer owning inner. tag and subtype must match
// inner's own; inner must be live and unowned.
func (r *Resolver) NewWrapper(tag Tag, subtype string, inner Buffer) (*Wrapper, error) {
	if inner.Tag() != tag || inner.Subtype() != subtype {
		return nil, fmt.Errorf("%w: declared %s/%q, nested %s/%q", ErrTagMismatch, tag, subtype, inner.Tag(), inner.Subtype())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n, err := r.liveLocked(inner.ID())
	if err != nil {
		return nil, err
	}
	if n.parent != 0 {
		return nil, NestedBufferLeakError{ID: inner.ID(), Reason: fmt.Sprintf("already owned by %d", n.parent)}
	}
	b := &Wrapper{inner: inner, innerTag: tag, innerSubtype: subtype}
	r.register(b, &b.header, TagPtr)
	r.linkLocked(b.id, inner.ID())
	return b, nil
}

func (r *Resolver) liveLocked(id ID) (*node, error) {
	n, ok := r.nodes[id]
	if ok {
		return n, nil
	}
	if id != 0 && id <= r.next {
		return nil, NestedBufferLeakError{ID: id, Reason: "already released"}
	}
	return nil, NestedBufferLeakError{ID: id, Reason: "unknown buffer"}
}

func (r *Resolver) linkLocked(parent, child ID) {
	p := r.nodes[parent]
	if p.children == nil {
		p.children = make(map[ID]struct{})
	}
	p.children[child] = struct{}{}
	r.nodes[child].parent = parent
}

// Lookup returns the live buffer with the given identity.
func (r *Resolver) Lookup(id ID) (Buffer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, err := r.liveLocked(id)
	if err != nil {
		return nil, err
	}
	return n.buf, nil
}

// Adopt records parent as the single owner of child. child must be unowned
// and must not be parent or one of its ancestors.
func (r *Resolver) Adopt(parent, child ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.liveLocked(parent); err != nil {
		return err
	}
	c, err := r.liveLocked(child)
	if err != nil {
		return err
	}
	if c.parent != 0 {
		return NestedBufferLeakError{ID: child, Reason: fmt.Sprintf("already owned by %d", c.parent)}
	}
	for at := parent; at != 0; at = r.nodes[at].parent {
		if at == child {
			return NestedBufferLeakError{ID: child, Reason: "ownership cycle"}
		}
	}
	r.linkLocked(parent, child)
	return nil
}

// Detach removes the edge from parent to child, leaving child unowned.
func (r *Resolver) Detach(parent, child ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.liveLocked(child)
	if err != nil {
		return err
	}
	if c.parent != parent {
		return NestedBufferLeakError{ID: child, Reason: fmt.Sprintf("not owned by %d", parent)}
	}
	delete(r.nodes[parent].children, child)
	c.parent = 0
	return nil
}

// ReleaseChild detaches child from parent and releases it.
func (r *Resolver) ReleaseChild(parent, child ID) (ReleaseReport, error) {
	if err := r.Detach(parent, child); err != nil {
		return ReleaseReport{}, err
	}
	return r.releaseID(child)
}

// Release frees b and everything it transitively owns, each exactly once.
// Only unowned buffers can be released; nothing is freed when an error is
// returned.
func (r *Resolver) Release(b Buffer) (ReleaseReport, error) {
	return r.releaseID(b.ID())
}

func (r *Resolver) releaseID(id ID) (ReleaseReport, error) {
	r.mu.Lock()
	n, err := r.liveLocked(id)
	if err != nil {
		r.mu.Unlock()
		return ReleaseReport{}, err
	}
	if n.parent != 0 {
		r.mu.Unlock()
		return ReleaseReport{}, NestedBufferLeakError{ID: id, Reason: fmt.Sprintf("owned by %d", n.parent)}
	}
	order, err := r.collectLocked(id)
	if err != nil {
		r.mu.Unlock()
		return ReleaseReport{}, err
	}
	report := ReleaseReport{Released: order}
	freed := make([]Buffer, 0, len(order))
	for _, rid := range order {
		buf := r.nodes[rid].buf
		if buf.Tag() == TagPtr {
			report.Wrappers++
		}
		freed = append(freed, buf)
		delete(r.nodes, rid)
	}
	r.stats.Released += uint64(len(order))
	hook := r.onRelease
	r.mu.Unlock()

	if hook != nil {
		for _, buf := range freed {
			hook(buf)
		}
	}
	log.Trace().Uint64("id", uint64(id)).Int("buffers", len(order)).Int("wrappers", report.Wrappers).Msg("buffer released")
	return report, nil
}

// collectLocked lists root and its descendants in post-order, failing when
// an identity is reached twice.
func (r *Resolver) collectLocked(root ID) ([]ID, error) {
	seen := make(map[ID]struct{})
	var order []ID
	var visit func(id ID) error
	visit = func(id ID) error {
		if _, ok := seen[id]; ok {
			return NestedBufferLeakError{ID: id, Reason: "reached twice while releasing"}
		}
		seen[id] = struct{}{}
		n, ok := r.nodes[id]
		if !ok {
			return NestedBufferLeakError{ID: id, Reason: "owned child already released"}
		}
		for _, c := range sortedIDs(n.children) {
			if err := visit(c); err != nil {
				return err
			}
		}
		order = append(order, id)
		return nil
	}
	if err := visit(root); err != nil {
		return nil, err
	}
	return order, nil
}

// ReplaceContents moves the entries and owned children of src into dst,
// releases what dst owned before, and frees the src node. Both must be live;
// src must be unowned.
func (r *Resolver) ReplaceContents(dst, src *Fielded) (ReleaseReport, error) {
	r.mu.Lock()
	d, err := r.liveLocked(dst.id)
	if err != nil {
		r.mu.Unlock()
		return ReleaseReport{}, err
	}
	s, err := r.liveLocked(src.id)
	if err != nil {
		r.mu.Unlock()
		return ReleaseReport{}, err
	}
	if s.parent != 0 {
		r.mu.Unlock()
		return ReleaseReport{}, NestedBufferLeakError{ID: src.id, Reason: fmt.Sprintf("owned by %d", s.parent)}
	}
	old := d.children
	d.children = nil
	for c := range s.children {
		r.linkLocked(dst.id, c)
	}
	delete(r.nodes, src.id)
	r.stats.Released++
	dst.Store = src.Store
	r.mu.Unlock()

	var report ReleaseReport
	for _, c := range sortedIDs(old) {
		r.mu.Lock()
		r.nodes[c].parent = 0
		r.mu.Unlock()
		sub, err := r.releaseID(c)
		if err != nil {
			return report, err
		}
		report.Released = append(report.Released, sub.Released...)
		report.Wrappers += sub.Wrappers
	}
	return report, nil
}

// Children lists the identities b owns directly, ascending.
func (r *Resolver) Children(id ID) []ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[id]
	if !ok {
		return nil
	}
	return sortedIDs(n.children)
}

// Parent returns the owner of id, or 0 for an unowned buffer.
func (r *Resolver) Parent(id ID) (ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, err := r.liveLocked(id)
	if err != nil {
		return 0, err
	}
	return n.parent, nil
}

// Live returns the number of unreleased buffers.
func (r *Resolver) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.nodes)
}

func (r *Resolver) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	s.Live = len(r.nodes)
	return s
}

func sortedIDs(set map[ID]struct{}) []ID {
	out := make([]ID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
