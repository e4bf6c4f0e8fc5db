// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

package master

import (
	"github.com/arena-foundation/arena/lib/fault"
	"github.com/arena-foundation/arena/lib/identity"
	"github.com/arena-foundation/arena/lib/session"
	"github.com/arena-foundation/arena/lib/wire"
)

func (s *Server) handleClient(p *peer, envelope wire.Envelope) error {
	switch envelope.Kind {
	case wire.KindHello:
		var hello wire.Hello
		if err := envelope.Decode(&hello); err != nil {
			return fault.New(fault.ProtocolViolation, "master.hello", err)
		}
		record, returning := s.registry.Lookup(hello.IdentityID)
		if !returning {
			record = s.registry.Register(identity.Profile{DisplayName: hello.DisplayName})
		}
		return s.bind(p, record, returning)

	case wire.KindReturnToMaster:
		var back wire.ReturnToMaster
		if err := envelope.Decode(&back); err != nil {
			return fault.New(fault.ProtocolViolation, "master.return", err)
		}
		record, known := s.registry.Lookup(back.Identity.ID)
		if !known {
			// Deleted while away: start over as a new identity.
			record = s.registry.Register(identity.Profile{DisplayName: back.Identity.DisplayName})
		}
		return s.bind(p, record, known)

	case wire.KindJoinQueue:
		id, err := s.boundIdentity(p)
		if err != nil {
			return err
		}
		if record, _ := s.registry.Lookup(id); record.Session != nil {
			return fault.Newf(fault.InvalidTransition, "master.join-queue", "identity %d is in room %d", id, record.Session.RoomID)
		}
		s.queue.Enqueue(id)
		s.sendQueueStatus(p, true)
		s.drain()
		return nil

	case wire.KindLeaveQueue:
		id, err := s.boundIdentity(p)
		if err != nil {
			return err
		}
		s.queue.TryLeave(id)
		s.sendQueueStatus(p, false)
		return nil

	case wire.KindChangeEndpointAck:
		id, err := s.boundIdentity(p)
		if err != nil {
			return err
		}
		var ack wire.ChangeEndpointAck
		if err := envelope.Decode(&ack); err != nil {
			return fault.New(fault.ProtocolViolation, "master.change-endpoint-ack", err)
		}
		return s.orchestrator.EndpointAcknowledged(ack.RoomID, id)

	case wire.KindDeleteIdentity:
		id, err := s.boundIdentity(p)
		if err != nil {
			return err
		}
		var request wire.DeleteIdentity
		if err := envelope.Decode(&request); err != nil {
			return fault.New(fault.ProtocolViolation, "master.delete-identity", err)
		}
		if request.IdentityID != 0 && request.IdentityID != id {
			return fault.Newf(fault.UnknownIdentity, "master.delete-identity", "identity %d may only delete itself", id)
		}
		s.queue.TryLeave(id)
		conn, _ := s.registry.Delete(id)
		p.mu.Lock()
		p.identityID = 0
		p.mu.Unlock()
		p.logger.Info("identity deleted", "identity_id", id)
		if conn != nil {
			conn.Close()
		}
		return nil

	default:
		p.logger.Debug("ignoring client envelope", "kind", envelope.Kind)
		return nil
	}
}

// bind makes p the live connection of record. A connection the
// identity still had is closed: an identity has one live connection.
func (s *Server) bind(p *peer, record identity.Identity, returning bool) error {
	stale, err := s.registry.Connect(record.ID, p.conn)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.identityID = record.ID
	p.mu.Unlock()
	if stale != nil {
		p.logger.Info("closing stale connection", "identity_id", record.ID)
		stale.Close()
	}
	p.logger.Info("client bound", "identity_id", record.ID, "returning", returning)
	return p.conn.SendKind(wire.KindWelcome, wire.Welcome{Identity: record.Wire(), Returning: returning})
}

func (s *Server) boundIdentity(p *peer) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.identityID == 0 {
		return 0, fault.Newf(fault.UnknownIdentity, "master.client", "connection has no identity")
	}
	return p.identityID, nil
}

func (s *Server) sendQueueStatus(p *peer, queued bool) {
	status := wire.QueueStatus{Queued: queued, Length: s.queue.Len()}
	if err := p.conn.SendKind(wire.KindQueueStatus, status); err != nil {
		p.logger.Debug("queue status failed", "error", err)
	}
}

func (s *Server) handleWorker(p *peer, envelope wire.Envelope) error {
	p.mu.Lock()
	roomID := p.roomID
	p.mu.Unlock()

	switch envelope.Kind {
	case wire.KindWorkerReady:
		var ready wire.WorkerReady
		if err := envelope.Decode(&ready); err != nil {
			return fault.New(fault.ProtocolViolation, "master.worker-ready", err)
		}
		return s.orchestrator.WorkerReady(roomID, ready.Host, ready.Port)

	case wire.KindWorkerQuorumReached:
		return s.orchestrator.QuorumReached(roomID)

	case wire.KindMemberLeft:
		var left wire.MemberLeft
		if err := envelope.Decode(&left); err != nil {
			return fault.New(fault.ProtocolViolation, "master.member-left", err)
		}
		return s.orchestrator.MemberLeft(roomID, left.IdentityID)

	case wire.KindSessionEnd:
		var end wire.SessionEnd
		if err := envelope.Decode(&end); err != nil {
			return fault.New(fault.ProtocolViolation, "master.session-end", err)
		}
		return s.orchestrator.WorkerFinished(roomID, end)

	case wire.KindError:
		var report wire.Error
		_ = envelope.Decode(&report)
		p.logger.Warn("worker reported an error", "kind", report.Kind, "message", report.Message)
		return nil

	default:
		p.logger.Debug("ignoring worker envelope", "kind", envelope.Kind)
		return nil
	}
}

func (s *Server) handleOperator(p *peer, envelope wire.Envelope) error {
	if envelope.Kind != wire.KindStatus {
		p.logger.Debug("ignoring operator envelope", "kind", envelope.Kind)
		return nil
	}
	return p.conn.SendKind(wire.KindStatusReport, s.Status())
}

// Status reports the master's current state.
func (s *Server) Status() wire.StatusReport {
	return wire.StatusReport{
		Identities: s.registry.Len(),
		Connected:  s.registry.ConnectedCount(),
		Queued:     s.queue.Len(),
		Budget:     s.orchestrator.Budget(),
		Sessions:   s.orchestrator.Snapshot(),
	}
}

// drain hands every complete party in the queue to the orchestrator.
// Each launch runs on its own goroutine because CreateSession blocks
// while the worker budget is exhausted.
func (s *Server) drain() {
	for {
		party, ok := s.queue.DrainIfReady(s.config.PartySize)
		if !ok {
			return
		}
		s.launch(party)
	}
}

func (s *Server) launch(party []uint64) {
	s.mu.Lock()
	ctx := s.ctx
	s.launches.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.launches.Done()
		created, err := s.orchestrator.CreateSession(ctx, party)
		if err != nil {
			// Spawn failures come back through requeue.
			if !fault.Is(err, fault.SpawnFailed) {
				s.logger.Warn("session not created", "party", party, "error", err)
			}
			return
		}
		s.logger.Info("session created", "room_id", created.RoomID(), "party", party)
	}()
}

// requeue is the cancellation policy: members still connected to the
// master go back into the queue and are told so; the others are told
// the match is off and rejoin on their own.
func (s *Server) requeue(cancellation session.Cancellation) {
	for _, id := range cancellation.Party {
		requeued := s.registry.Connected(id) && s.queue.Enqueue(id)
		notice := wire.MatchCancelled{
			RoomID:   cancellation.RoomID,
			Reason:   cancellation.Reason,
			Requeued: requeued,
		}
		if err := s.registry.Send(id, wire.MustNew(wire.KindMatchCancelled, notice)); err != nil {
			s.logger.Debug("match-cancelled not delivered", "identity_id", id, "error", err)
		}
	}
	s.clock.AfterFunc(s.config.RequeueDelay, s.drain)
}
