package policy

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheSize bounds the number of retained solved policies.
const DefaultCacheSize = 8

// ComputeRequest is the canonical form of one policy computation. Weights
// are in catalogue order and rounded before fingerprinting so that
// float-noise-identical requests share a cache entry.
type ComputeRequest struct {
	Weights         []float64
	TargetScore     float64
	Scorer          ScorerType
	Costs           CostWeights
	ExpRefundRatio  float64
	BlendUserData   bool
	LambdaTolerance float64
	LambdaMaxIter   int
}

// Summary is the caller-facing digest of a solved policy.
type Summary struct {
	LambdaStar             float64 `json:"lambdaStar"`
	ExpectedCostPerSuccess float64 `json:"expectedCostPerSuccess"`
	SuccessProbability     float64 `json:"successProbability"`
	EchoPerSuccess         float64 `json:"echoPerSuccess"`
	TunerPerSuccess        float64 `json:"tunerPerSuccess"`
	ExpPerSuccess          float64 `json:"expPerSuccess"`
	ComputeSeconds         float64 `json:"computeSeconds"`
	TargetScore            float64 `json:"targetScore"`
}

// SolvedPolicy bundles a derived policy with its summary. Instances are
// immutable once published; readers share them without locking.
type SolvedPolicy struct {
	ID          string
	Fingerprint string
	Request     ComputeRequest
	Scorer      *Scorer
	Solver      *Solver
	Summary     Summary
}

// fingerprint hashes the canonicalised request. Weights and the refund
// ratio are rounded to 1e-9 first.
func fingerprint(req ComputeRequest) string {
	h := sha256.New()
	put := func(v float64) {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(math.Round(v*1e9)/1e9))
		h.Write(buf[:])
	}
	for _, w := range req.Weights {
		put(w)
	}
	put(req.TargetScore)
	h.Write([]byte(req.Scorer))
	put(req.Costs.Echo)
	put(req.Costs.Tuner)
	put(req.Costs.Exp)
	put(req.ExpRefundRatio)
	if req.BlendUserData {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Cache maps request fingerprints to solved policies. Inserts and evictions
// hold the mutex; lookups return immutable snapshots. Concurrent computes
// for the same fingerprint collapse into a single solve.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*SolvedPolicy
	byID    map[string]*SolvedPolicy
	order   []string // LRU, oldest first
	limit   int
	lastID  string

	group singleflight.Group
}

// NewCache builds a cache with the given entry bound (DefaultCacheSize if
// non-positive).
func NewCache(limit int) *Cache {
	if limit <= 0 {
		limit = DefaultCacheSize
	}
	return &Cache{
		entries: make(map[string]*SolvedPolicy),
		byID:    make(map[string]*SolvedPolicy),
		limit:   limit,
	}
}

// Compute returns the cached policy for the request or solves it. The solve
// observes ctx between lambda iterations; a cancelled compute leaves no
// entry behind.
func (c *Cache) Compute(ctx context.Context, req ComputeRequest, solve func(context.Context, ComputeRequest) (*SolvedPolicy, error)) (*SolvedPolicy, error) {
	fp := fingerprint(req)

	c.mu.Lock()
	if sp, ok := c.entries[fp]; ok {
		c.touch(fp)
		c.lastID = sp.ID
		c.mu.Unlock()
		return sp, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(fp, func() (interface{}, error) {
		// Re-check: another flight may have inserted between unlock and Do.
		c.mu.Lock()
		if sp, ok := c.entries[fp]; ok {
			c.mu.Unlock()
			return sp, nil
		}
		c.mu.Unlock()

		start := time.Now()
		sp, err := solve(ctx, req)
		if err != nil {
			return nil, err
		}
		sp.Fingerprint = fp
		sp.ID = uuid.NewString()
		sp.Summary.ComputeSeconds = time.Since(start).Seconds()

		c.mu.Lock()
		c.insert(fp, sp)
		c.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"lambda":  sp.Summary.LambdaStar,
			"seconds": sp.Summary.ComputeSeconds,
		}).Debug("policy solved")
		return sp, nil
	})
	if err != nil {
		c.group.Forget(fp)
		return nil, err
	}
	sp := v.(*SolvedPolicy)
	c.mu.Lock()
	c.lastID = sp.ID
	c.mu.Unlock()
	return sp, nil
}

// insert assumes the mutex is held.
func (c *Cache) insert(fp string, sp *SolvedPolicy) {
	if len(c.order) >= c.limit {
		oldest := c.order[0]
		c.order = c.order[1:]
		if old, ok := c.entries[oldest]; ok {
			delete(c.byID, old.ID)
			delete(c.entries, oldest)
		}
	}
	c.entries[fp] = sp
	c.byID[sp.ID] = sp
	c.order = append(c.order, fp)
}

// touch assumes the mutex is held.
func (c *Cache) touch(fp string) {
	for i, k := range c.order {
		if k == fp {
			c.order = append(append(c.order[:i:i], c.order[i+1:]...), fp)
			return
		}
	}
}

// Get resolves a policy id; an empty id means the most recent compute.
func (c *Cache) Get(id string) (*SolvedPolicy, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id == "" {
		id = c.lastID
	}
	if id == "" {
		return nil, ErrNotReady
	}
	sp, ok := c.byID[id]
	if !ok {
		return nil, ErrNotReady
	}
	return sp, nil
}

// Len reports the number of retained policies.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
