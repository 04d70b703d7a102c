package dispatch

import (
	"sync"

	"github.com/ukydev/ambulance-dispatch/internal/models"
)

const (
	kindIncident  = "incident"
	kindAmbulance = "ambulance"
)

type recordKey struct {
	kind string
	id   models.ID
}

type recordState struct {
	mu   sync.Mutex
	sent uint64
}

// writeOrder serializes backing-store writes per record and drops any write
// whose commit sequence is older than one already sent for that record.
type writeOrder struct {
	mu      sync.Mutex
	records map[recordKey]*recordState
}

func newWriteOrder() *writeOrder {
	return &writeOrder{records: make(map[recordKey]*recordState)}
}

func (o *writeOrder) state(key recordKey) *recordState {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.records[key]
	if !ok {
		st = &recordState{}
		o.records[key] = st
	}
	return st
}

// do runs write while holding the record's lock. It reports skipped when a
// later commit of the same record has already been sent.
func (o *writeOrder) do(key recordKey, seq uint64, write func() error) (skipped bool, err error) {
	st := o.state(key)
	st.mu.Lock()
	defer st.mu.Unlock()
	if seq < st.sent {
		return true, nil
	}
	st.sent = seq
	return false, write()
}
