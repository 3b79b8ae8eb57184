package simulation

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Guizzs26/dao_governance_stream/internal/transport"
)

type Publisher interface {
	PublishProposal(ctx context.Context, id, title, proposer string) error
	PublishVote(ctx context.Context, proposalID, voter string, support bool) error
}

var titles = []string{
	"Increase treasury allocation for grants",
	"Lower the proposal quorum",
	"Fund a security audit",
	"Rotate the multisig signers",
	"Sponsor the community hackathon",
}

type Simulator struct {
	pub   Publisher
	log   logrus.FieldLogger
	every time.Duration
	rnd   *rand.Rand

	proposals     []string
	steps         int
	fraudCounter  int
	lastVoter     string
	lastProposal  string
	proposalEvery int
}

const fraudFrequency = 5

func New(pub Publisher, log logrus.FieldLogger, every time.Duration, seed int64) *Simulator {
	return &Simulator{
		pub:           pub,
		log:           log,
		every:         every,
		rnd:           rand.New(rand.NewSource(seed)),
		proposalEvery: 8,
	}
}

func (s *Simulator) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("simulator received shutdown signal")
			return nil

		case <-ticker.C:
			publishCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if err := s.step(publishCtx); err != nil {
				s.log.WithError(err).Warn("failed to publish")
			}
			cancel()
		}
	}
}

// step publishes one proposal or one vote. Every fraudFrequency-th vote
// repeats the previous voter, which the data service must refuse.
func (s *Simulator) step(ctx context.Context) error {
	s.steps++
	if len(s.proposals) == 0 || s.steps%s.proposalEvery == 0 {
		id := uuid.NewString()
		title := titles[s.rnd.Intn(len(titles))]
		proposer := s.address()
		s.log.WithFields(logrus.Fields{"proposal_id": id, "title": title}).Info("publishing proposal")
		if err := s.pub.PublishProposal(ctx, id, title, proposer); err != nil {
			return err
		}
		s.proposals = append(s.proposals, id)
		return nil
	}

	var voter, proposalID string
	s.fraudCounter++
	if s.fraudCounter >= fraudFrequency && s.lastVoter != "" {
		s.log.Info("generating a duplicate vote on purpose")
		voter, proposalID = s.lastVoter, s.lastProposal
		s.fraudCounter = 0
	} else {
		proposalID = s.proposals[s.rnd.Intn(len(s.proposals))]
		voter = s.address()
		s.lastVoter, s.lastProposal = voter, proposalID
	}

	support := s.rnd.Intn(3) > 0
	err := s.pub.PublishVote(ctx, proposalID, voter, support)
	if errors.Is(err, transport.ErrConflict) {
		s.log.WithFields(logrus.Fields{"proposal_id": proposalID, "voter": voter}).Info("duplicate vote refused")
		return nil
	}
	return err
}

func (s *Simulator) address() string {
	return fmt.Sprintf("0x%040x", s.rnd.Uint64())
}
