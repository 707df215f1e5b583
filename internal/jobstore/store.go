// Package jobstore persists one record per generation job so finished,
// failed and cancelled runs can be listed after the process restarts.
package jobstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"video-extender/internal/domain"
)

// ErrNotFound is returned when a job id has no record.
var ErrNotFound = errors.New("jobstore: not found")

// Record is the persisted state of one job.
type Record struct {
	ID           string           `msgpack:"id" json:"id"`
	Params       domain.JobParams `msgpack:"params" json:"params"`
	Status       domain.JobStatus `msgpack:"status" json:"status"`
	StartedAt    time.Time        `msgpack:"started_at" json:"startedAt"`
	FinishedAt   time.Time        `msgpack:"finished_at,omitempty" json:"finishedAt,omitempty"`
	Sections     int              `msgpack:"sections" json:"sections"`
	LatentFrames int              `msgpack:"latent_frames" json:"latentFrames"`
	Artifacts    []string         `msgpack:"artifacts" json:"artifacts"`
	LastArtifact string           `msgpack:"last_artifact" json:"lastArtifact,omitempty"`
	Error        string           `msgpack:"error,omitempty" json:"error,omitempty"`
}

// Store saves and lists job records. Implementations are safe for concurrent use.
type Store interface {
	Put(ctx context.Context, rec Record) error
	Get(ctx context.Context, id string) (Record, error)
	// List returns up to limit records, newest first. limit <= 0 means all.
	List(ctx context.Context, limit int) ([]Record, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

const keyPrefix = "job:"

func key(id string) []byte {
	return []byte(keyPrefix + id)
}

func encode(rec Record) ([]byte, error) {
	data, err := msgpack.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("jobstore: encode %s: %w", rec.ID, err)
	}
	return data, nil
}

func decode(data []byte) (Record, error) {
	var rec Record
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("jobstore: decode: %w", err)
	}
	return rec, nil
}

// newestFirst sorts by start time, then id, both descending.
func newestFirst(recs []Record, limit int) []Record {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].StartedAt.Equal(recs[j].StartedAt) {
			return recs[i].StartedAt.After(recs[j].StartedAt)
		}
		return recs[i].ID > recs[j].ID
	})
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs
}
