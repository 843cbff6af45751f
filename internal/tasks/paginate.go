package tasks

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
)

// List returns one page of the caller's tasks in creation order, plus the
// cursor for the next page ("" when this was the last one). Page length is
// fixed by Config.PageSize. Cursors are opaque to callers; a cursor the
// store did not issue fails with ErrBadCursor. Records evicted between
// pages are simply absent from later pages, they are never re-ordered.
func (s *Store) List(caller, cursor string) ([]*Task, string, error) {
	after, err := decodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}

	now := s.now()
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, "", ErrStoreClosed
	}
	candidates := make([]*record, 0, len(s.records))
	for _, rec := range s.records {
		if rec.task.Owner != caller || rec.expired(now) || rec.seq <= after {
			continue
		}
		candidates = append(candidates, rec)
	}
	s.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].seq < candidates[j].seq })

	page := make([]*Task, 0, s.cfg.PageSize)
	var lastSeq uint64
	for _, rec := range candidates {
		if len(page) == s.cfg.PageSize {
			return page, encodeCursor(lastSeq), nil
		}
		if snap, err := s.snapshot(rec); err == nil {
			page = append(page, snap)
			lastSeq = rec.seq
		}
	}
	return page, "", nil
}

func encodeCursor(seq uint64) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatUint(seq, 10)))
}

func decodeCursor(cursor string) (uint64, error) {
	if cursor == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadCursor, err)
	}
	seq, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadCursor, err)
	}
	return seq, nil
}
