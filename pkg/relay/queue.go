// Copyright 2024-2026 Aiku AI

package relay

import (
	"sync"

	"github.com/aiku/filerelay/pkg/botsession"
)

// Entry is a produced file waiting to be forwarded.
type Entry struct {
	Message  *botsession.Message
	FileName string
}

// FileQueue is the FIFO of files awaiting forwarding. It also remembers the
// last file handed to the consumer so that it can be resent.
type FileQueue struct {
	mu      sync.Mutex
	entries []Entry
	last    *Entry
}

func NewFileQueue() *FileQueue {
	return &FileQueue{}
}

func (q *FileQueue) PushBack(e Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, e)
}

// PushFront puts e back at the head, used when forwarding it failed.
func (q *FileQueue) PushFront(e Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append([]Entry{e}, q.entries...)
}

func (q *FileQueue) PopFront() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return Entry{}, false
	}
	e := q.entries[0]
	q.entries[0] = Entry{}
	q.entries = q.entries[1:]
	return e, true
}

func (q *FileQueue) Peek() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return Entry{}, false
	}
	return q.entries[0], true
}

func (q *FileQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Names returns the file names in queue order. It never returns nil.
func (q *FileQueue) Names() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	names := make([]string, 0, len(q.entries))
	for _, e := range q.entries {
		names = append(names, e.FileName)
	}
	return names
}

func (q *FileQueue) Contains(name string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		if e.FileName == name {
			return true
		}
	}
	return false
}

func (q *FileQueue) SetLastFile(e Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.last = &e
}

func (q *FileQueue) LastFile() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.last == nil {
		return Entry{}, false
	}
	return *q.last, true
}
