package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// GradeRecomputePublisher requests a full-course grade recomputation after a
// bulk score import commits. Fire-and-forget; the grading workers consume it.
type GradeRecomputePublisher interface {
	PublishRecompute(ctx context.Context, courseID string) error
}

const recomputeSubject = "gradebook.grades.recompute"

type recomputeEvent struct {
	CourseID    string    `json:"course_id"`
	RequestedAt time.Time `json:"requested_at"`
}

type natsRecomputePublisher struct {
	conn   *nats.Conn
	logger zerolog.Logger
}

// NewGradeRecomputePublisher constructs a NATS-backed recompute publisher.
// A nil connection yields a no-op publisher, useful in tests and dev setups
// without a broker.
func NewGradeRecomputePublisher(conn *nats.Conn, logger zerolog.Logger) GradeRecomputePublisher {
	return &natsRecomputePublisher{
		conn:   conn,
		logger: logger.With().Str("component", "grade_recompute").Logger(),
	}
}

func (p *natsRecomputePublisher) PublishRecompute(_ context.Context, courseID string) error {
	if p.conn == nil {
		p.logger.Debug().Str("course_id", courseID).Msg("no broker configured, skipping recompute request")
		return nil
	}

	payload, err := json.Marshal(recomputeEvent{CourseID: courseID, RequestedAt: time.Now().UTC()})
	if err != nil {
		return err
	}

	if err := p.conn.Publish(recomputeSubject, payload); err != nil {
		return err
	}

	p.logger.Info().Str("course_id", courseID).Msg("requested course grade recompute")
	return nil
}
