package registry

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory registry for tests.
//
// State is keyed by (did, rse). Deleting a rule removes the rule and its
// replicas and returns the bytes those replicas held.
type Fake struct {
	mu       sync.Mutex
	rules    map[string]map[string]Rule    // did -> rse -> rule
	replicas map[string]map[string][]Replica // did -> rse -> replicas
	usage    map[string]int64              // rse -> bytes remaining

	// UsageErr, when set for an RSE, makes AccountUsage fail for it.
	UsageErr map[string]error

	// DeleteErr, when set for "did@rse", makes DeleteRule fail for it.
	DeleteErr map[string]error

	// Deleted records DeleteRule calls in order, as "did@rse".
	Deleted []string
}

// NewFake creates an empty in-memory registry.
func NewFake() *Fake {
	return &Fake{
		rules:    make(map[string]map[string]Rule),
		replicas: make(map[string]map[string][]Replica),
		usage:    make(map[string]int64),
	}
}

// AddRule registers a replication rule for a dataset at a location.
func (f *Fake) AddRule(did, rse string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rules[did] == nil {
		f.rules[did] = make(map[string]Rule)
	}
	f.rules[did][rse] = Rule{RSE: rse, State: "OK"}
}

// AddReplicas registers n physical replicas of bytesEach bytes at a location.
func (f *Fake) AddReplicas(did, rse string, n int, bytesEach int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replicas[did] == nil {
		f.replicas[did] = make(map[string][]Replica)
	}
	for i := 0; i < n; i++ {
		f.replicas[did][rse] = append(f.replicas[did][rse], Replica{
			Name:  fmt.Sprintf("%s.%04d", did, i),
			RSE:   rse,
			Bytes: bytesEach,
		})
	}
}

// SetUsage sets the remaining capacity reported for a location.
func (f *Fake) SetUsage(rse string, bytesRemaining int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usage[rse] = bytesRemaining
}

// ListRules implements Client.
func (f *Fake) ListRules(_ context.Context, did string) ([]Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var rules []Rule
	for _, r := range f.rules[did] {
		rules = append(rules, r)
	}
	return rules, nil
}

// ListReplicas implements Client.
func (f *Fake) ListReplicas(_ context.Context, did, rse string) ([]Replica, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Replica(nil), f.replicas[did][rse]...), nil
}

// AccountUsage implements Client.
func (f *Fake) AccountUsage(_ context.Context, rse string) (Usage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.UsageErr[rse]; err != nil {
		return Usage{}, err
	}
	remaining, ok := f.usage[rse]
	if !ok {
		return Usage{}, fmt.Errorf("registry error (404): unknown rse %q", rse)
	}
	return Usage{RSE: rse, BytesRemaining: remaining}, nil
}

// DeleteRule implements Client.
func (f *Fake) DeleteRule(_ context.Context, did, rse string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := did + "@" + rse
	if err := f.DeleteErr[key]; err != nil {
		return 0, err
	}

	var freed int64
	for _, r := range f.replicas[did][rse] {
		freed += r.Bytes
	}
	delete(f.replicas[did], rse)
	delete(f.rules[did], rse)
	f.Deleted = append(f.Deleted, key)
	return freed, nil
}
