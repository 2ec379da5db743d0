// Package history keeps the local undo log of canvas snapshots.
package history

import "errors"

// ErrHistoryUnderflow is returned by Undo when the blank snapshot is
// already current. Callers ignore it.
var ErrHistoryUnderflow = errors.New("history: nothing to undo")

// Stack is a linear undo log. Index 0 always holds the blank snapshot and
// step points at the snapshot currently shown. Entries after step survive
// only until the next Record.
type Stack struct {
	entries [][]byte
	step    int
}

func New(blank []byte) *Stack {
	return &Stack{entries: [][]byte{clone(blank)}}
}

// Record prunes any undone entries and appends snapshot as the current one.
func (s *Stack) Record(snapshot []byte) {
	s.entries = append(s.entries[:s.step+1], clone(snapshot))
	s.step = len(s.entries) - 1
}

// Undo steps back one entry and returns the snapshot to load.
func (s *Stack) Undo() ([]byte, error) {
	if s.step == 0 {
		return nil, ErrHistoryUnderflow
	}
	s.step--
	return clone(s.entries[s.step]), nil
}

func (s *Stack) Step() int {
	return s.step
}

func (s *Stack) Len() int {
	return len(s.entries)
}

// Current returns the snapshot at step.
func (s *Stack) Current() []byte {
	return clone(s.entries[s.step])
}

// Reset drops everything except the blank snapshot.
func (s *Stack) Reset() {
	for i := 1; i < len(s.entries); i++ {
		s.entries[i] = nil
	}
	s.entries = s.entries[:1]
	s.step = 0
}

func clone(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return append([]byte(nil), b...)
}
