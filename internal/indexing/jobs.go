package indexing

import (
	"time"

	"media-gallery/internal/database"
	"media-gallery/internal/scheduler"
)

// Job names, also used as scheduler keys.
const (
	JobMetadata       = "metadata"
	JobClassification = "classification"
	JobHue            = "hue"
	JobEmbedding      = "embedding"
)

// Tag carried by every index job execution.
const Tag = "index"

// Runner is the type-erased view of a Job used by the coordinator and the
// HTTP layer.
type Runner interface {
	scheduler.Worker
	Name() string
	AllowsForce() bool
	LastResult() (Result, bool)
}

// Oracles holds one oracle per index. A nil oracle disables its job.
type Oracles struct {
	Metadata       Oracle[database.MetadataPayload]
	Classification Oracle[database.ClassificationPayload]
	Hue            Oracle[database.HuePayload]
	Embedding      Oracle[database.EmbeddingPayload]
}

// Options apply to every job.
type Options struct {
	OracleTimeout    time.Duration
	MinProgressDelta int
}

// NewJobs builds the jobs that have an oracle, in a fixed order. Only
// classification and embedding allow forced reindexing.
func NewJobs(db *database.Database, oracles Oracles, opts Options) ([]Runner, error) {
	var runners []Runner

	if oracles.Metadata != nil {
		j, err := NewJob(Config[database.MetadataPayload]{
			Name:             JobMetadata,
			Media:            db,
			Store:            db.MetadataIndex(),
			Oracle:           oracles.Metadata,
			OracleTimeout:    opts.OracleTimeout,
			MinProgressDelta: opts.MinProgressDelta,
		})
		if err != nil {
			return nil, err
		}
		runners = append(runners, j)
	}

	if oracles.Classification != nil {
		j, err := NewJob(Config[database.ClassificationPayload]{
			Name:             JobClassification,
			Media:            db,
			Store:            db.ClassificationIndex(),
			Oracle:           oracles.Classification,
			AllowForce:       true,
			OracleTimeout:    opts.OracleTimeout,
			MinProgressDelta: opts.MinProgressDelta,
		})
		if err != nil {
			return nil, err
		}
		runners = append(runners, j)
	}

	if oracles.Hue != nil {
		j, err := NewJob(Config[database.HuePayload]{
			Name:             JobHue,
			Media:            db,
			Store:            db.HueIndex(),
			Oracle:           oracles.Hue,
			OracleTimeout:    opts.OracleTimeout,
			MinProgressDelta: opts.MinProgressDelta,
		})
		if err != nil {
			return nil, err
		}
		runners = append(runners, j)
	}

	if oracles.Embedding != nil {
		j, err := NewJob(Config[database.EmbeddingPayload]{
			Name:             JobEmbedding,
			Media:            db,
			Store:            db.EmbeddingIndex(),
			Oracle:           oracles.Embedding,
			AllowForce:       true,
			OracleTimeout:    opts.OracleTimeout,
			MinProgressDelta: opts.MinProgressDelta,
		})
		if err != nil {
			return nil, err
		}
		runners = append(runners, j)
	}

	return runners, nil
}

// Register installs every runner in the scheduler under its name.
func Register(s *scheduler.Scheduler, runners []Runner) error {
	for _, r := range runners {
		if err := s.Register(r.Name(), r); err != nil {
			return err
		}
	}
	return nil
}

// Enqueue schedules r. Forced runs replace a running incremental pass of the
// same job; incremental runs queue behind it.
func Enqueue(s *scheduler.Scheduler, r Runner, force bool, constraints []scheduler.Constraint) (*scheduler.Handle, error) {
	policy := scheduler.Append
	if force && r.AllowsForce() {
		policy = scheduler.Replace
	}
	return s.Enqueue(scheduler.Request{
		Job:         r.Name(),
		Key:         r.Name(),
		Policy:      policy,
		Constraints: constraints,
		Tags:        []string{Tag},
		Input:       RunRequest{Force: force},
	})
}
