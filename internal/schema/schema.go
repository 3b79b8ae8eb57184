// Package schema holds the stream schema definitions and the cache of
// resolved schema ids shared by every feed of a process.
package schema

import (
	"context"
	"encoding/hex"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"
	"golang.org/x/sync/singleflight"
)

const (
	Proposal = "string proposalId, string title, address proposer, uint64 timestamp"
	Vote     = "string proposalId, address voter, bool support, uint64 timestamp"
)

// ComputeID returns the 0x-prefixed keccak256 of a schema definition.
func ComputeID(schema string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(schema))
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

// IDs identifies the proposal and vote streams and, optionally, the only
// publisher whose events should be accepted.
type IDs struct {
	ProposalSchemaID string `json:"proposalSchemaId"`
	VoteSchemaID     string `json:"voteSchemaId"`
	Publisher        string `json:"publisher,omitempty"`
}

func Defaults(publisher string) IDs {
	return IDs{
		ProposalSchemaID: ComputeID(Proposal),
		VoteSchemaID:     ComputeID(Vote),
		Publisher:        publisher,
	}
}

// Source resolves schema ids, usually from the data service.
type Source interface {
	Schemas(ctx context.Context) (IDs, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (IDs, error)

func (f SourceFunc) Schemas(ctx context.Context) (IDs, error) { return f(ctx) }

// Cache resolves ids once and keeps them for the life of the process.
// Concurrent callers share one in-flight resolution and no lock is held
// while it runs. A failed resolution is not cached, the next call retries.
type Cache struct {
	src   Source
	group singleflight.Group

	mu       sync.RWMutex
	ids      IDs
	resolved bool
}

func NewCache(src Source) *Cache {
	return &Cache{src: src}
}

// Static returns a cache that is already resolved to ids.
func Static(ids IDs) *Cache {
	return &Cache{ids: ids, resolved: true}
}

func (c *Cache) cached() (IDs, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ids, c.resolved
}

func (c *Cache) Get(ctx context.Context) (IDs, error) {
	if ids, ok := c.cached(); ok {
		return ids, nil
	}
	if c.src == nil {
		return IDs{}, errors.New("schema: no source configured")
	}

	v, err, _ := c.group.Do("ids", func() (any, error) {
		if ids, ok := c.cached(); ok {
			return ids, nil
		}
		ids, err := c.src.Schemas(ctx)
		if err != nil {
			return IDs{}, errors.Wrap(err, "schema: resolve ids")
		}
		if ids.ProposalSchemaID == "" || ids.VoteSchemaID == "" {
			return IDs{}, errors.New("schema: source returned empty ids")
		}
		c.mu.Lock()
		c.ids, c.resolved = ids, true
		c.mu.Unlock()
		return ids, nil
	})
	if err != nil {
		return IDs{}, err
	}
	return v.(IDs), nil
}
