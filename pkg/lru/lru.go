// Package lru provides a doubly linked list for LRU page-replacement
// bookkeeping. It tracks page identity only; callers own the actual page
// data and use this list purely for O(1) "which page is least recently
// used" decisions.
package lru

// List is a doubly linked list of page ids ordered from least- to
// most-recently-used. Sentinel nodes mark the LRU end (head) and the MRU
// end (tail) so every real node always has a non-nil prev/next.
//
// A List is not safe for concurrent use; callers serialize access (the
// buffer pool holds a single mutex around both its frame table and its
// List).
type List struct {
	head *node // sentinel: head.next is the LRU element
	tail *node // sentinel: tail.prev is the MRU element
	len  int
}

type node struct {
	pageID     uint64
	prev, next *node
}

// Handle identifies a node previously inserted into a List, used to remove
// or promote it in O(1) without a linear search.
type Handle struct {
	n *node
}

// New returns an empty list.
func New() *List {
	l := &List{head: &node{}, tail: &node{}}
	l.head.next = l.tail
	l.tail.prev = l.head

	return l
}

// Len reports the number of tracked pages.
func (l *List) Len() int { return l.len }

// PushMRU inserts pageID at the most-recently-used end and returns a handle
// for later removal or promotion.
func (l *List) PushMRU(pageID uint64) Handle {
	n := &node{pageID: pageID}
	l.insertBefore(n, l.tail)
	l.len++

	return Handle{n: n}
}

// PushLRU inserts pageID at the least-recently-used end.
func (l *List) PushLRU(pageID uint64) Handle {
	n := &node{pageID: pageID}
	l.insertBefore(n, l.head.next)
	l.len++

	return Handle{n: n}
}

// MoveToMRU relocates an already-tracked node to the most-recently-used end.
func (l *List) MoveToMRU(h Handle) {
	if h.n == nil {
		return
	}

	l.unlink(h.n)
	l.insertBefore(h.n, l.tail)
}

// Remove detaches a tracked node from the list.
func (l *List) Remove(h Handle) {
	if h.n == nil {
		return
	}

	l.unlink(h.n)
	l.len--
}

// RemoveLRU evicts and returns the page id currently at the least-recently-used
// end. ok is false when the list is empty.
func (l *List) RemoveLRU() (pageID uint64, ok bool) {
	if l.head.next == l.tail {
		return 0, false
	}

	victim := l.head.next
	pageID = victim.pageID
	l.unlink(victim)
	l.len--

	return pageID, true
}

// Each walks the list from LRU to MRU, invoking fn for every tracked page id.
// Each stops early if fn returns false.
func (l *List) Each(fn func(pageID uint64) bool) {
	for n := l.head.next; n != l.tail; n = n.next {
		if !fn(n.pageID) {
			return
		}
	}
}

func (l *List) insertBefore(n, at *node) {
	n.prev = at.prev
	n.next = at
	at.prev.next = n
	at.prev = n
}

func (l *List) unlink(n *node) {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev = nil
	n.next = nil
}
