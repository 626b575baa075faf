package reconcile

import (
	"sort"

	"github.com/rickgao/bidsync/internal/model"
)

// Reconciler merges entry lists.
type Reconciler struct {
	// MatchBySignature enables rule 3. With it off, a token-less
	// confirmation is appended as a new entry instead of merged.
	MatchBySignature bool
}

// Default matches by signature when no token is echoed.
var Default = Reconciler{MatchBySignature: true}

// Reconcile merges incoming into existing using Default.
func Reconcile(existing, incoming []model.Entry, kind model.Kind) []model.Entry {
	return Default.Reconcile(existing, incoming, kind)
}

// Reconcile returns a new list containing existing merged with incoming,
// sorted by the ordering rule of kind.
func (r Reconciler) Reconcile(existing, incoming []model.Entry, kind model.Kind) []model.Entry {
	m := newMerger(existing, kind, r.MatchBySignature)
	for _, e := range incoming {
		m.apply(e)
	}
	out := m.result()
	Sort(out, kind)
	return out
}

// Sort orders entries in place: bids by amount descending then timestamp
// descending, chat by timestamp ascending. The sort is stable.
func Sort(entries []model.Entry, kind model.Kind) {
	switch kind {
	case model.KindBid:
		sort.SliceStable(entries, func(i, j int) bool {
			a, b := entries[i], entries[j]
			if a.Payload.Amount != b.Payload.Amount {
				return a.Payload.Amount > b.Payload.Amount
			}
			return a.Timestamp.After(b.Timestamp)
		})
	case model.KindChat:
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].Timestamp.Before(entries[j].Timestamp)
		})
	}
}

// Pending returns the provisional entries of list.
func Pending(list []model.Entry) []model.Entry {
	var out []model.Entry
	for _, e := range list {
		if e.Provisional {
			out = append(out, e)
		}
	}
	return out
}

// merger holds the working copy and its identity indexes.
type merger struct {
	kind        model.Kind
	bySignature bool

	entries []model.Entry
	removed []bool
	byID    map[model.ID]int // Confirmed entries by server identity
	byToken map[string]int   // Provisional entries by correlation token
	tokens  map[string]bool  // Tokens carried by confirmed entries
}

func newMerger(existing []model.Entry, kind model.Kind, bySignature bool) *merger {
	m := &merger{
		kind:        kind,
		bySignature: bySignature,
		entries:     make([]model.Entry, len(existing)),
		removed:     make([]bool, len(existing)),
		byID:        make(map[model.ID]int, len(existing)),
		byToken:     make(map[string]int),
		tokens:      make(map[string]bool),
	}
	copy(m.entries, existing)
	for i, e := range m.entries {
		m.index(i, e)
	}
	return m
}

func (m *merger) index(i int, e model.Entry) {
	switch {
	case e.Provisional:
		if e.Token != "" {
			m.byToken[e.Token] = i
		}
	case e.ID != "":
		m.byID[e.ID] = i
		if e.Token != "" {
			m.tokens[e.Token] = true
		}
	}
}

func (m *merger) apply(e model.Entry) {
	if e.Provisional {
		m.applyProvisional(e)
		return
	}
	// A confirmation without a server identity cannot be matched again
	if e.ID == "" {
		return
	}

	// Rule 1: known server identity
	if i, ok := m.byID[e.ID]; ok {
		if e.Token == "" {
			e.Token = m.entries[i].Token
		}
		m.entries[i] = e
		m.index(i, e)
		m.dropProvisional(e.Token)
		return
	}

	// Rule 2: echoed correlation token
	if e.Token != "" {
		if i, ok := m.byToken[e.Token]; ok {
			m.promote(i, e)
			return
		}
	}

	// Rule 3: payload signature
	if m.bySignature {
		if i, ok := m.signatureMatch(e); ok {
			if e.Token == "" {
				e.Token = m.entries[i].Token
			}
			m.promote(i, e)
			return
		}
	}

	m.append(e)
}

func (m *merger) applyProvisional(e model.Entry) {
	if e.Token != "" {
		// Already confirmed: a stale local copy
		if m.tokens[e.Token] {
			return
		}
		if i, ok := m.byToken[e.Token]; ok {
			m.entries[i] = e
			return
		}
	}
	m.append(e)
}

// promote replaces the provisional entry at i with confirmed e.
func (m *merger) promote(i int, e model.Entry) {
	if old := m.entries[i].Token; old != "" {
		delete(m.byToken, old)
	}
	e.Provisional = false
	m.entries[i] = e
	m.index(i, e)
}

// dropProvisional removes a provisional entry whose token is now carried by
// a confirmed entry elsewhere in the list.
func (m *merger) dropProvisional(token string) {
	if token == "" {
		return
	}
	if i, ok := m.byToken[token]; ok {
		m.removed[i] = true
		delete(m.byToken, token)
	}
}

func (m *merger) signatureMatch(e model.Entry) (int, bool) {
	for i, cand := range m.entries {
		if m.removed[i] || !cand.Provisional {
			continue
		}
		if e.Token != "" && cand.Token != "" {
			continue
		}
		if cand.SameSignature(e, m.kind) {
			return i, true
		}
	}
	return 0, false
}

func (m *merger) append(e model.Entry) {
	m.entries = append(m.entries, e)
	m.removed = append(m.removed, false)
	m.index(len(m.entries)-1, e)
}

func (m *merger) result() []model.Entry {
	out := make([]model.Entry, 0, len(m.entries))
	for i, e := range m.entries {
		if !m.removed[i] {
			out = append(out, e)
		}
	}
	return out
}
