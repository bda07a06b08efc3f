package mesh

import "github.com/inkboard/huddle/pkg/signaling"

// HandleSignaling processes a decoded point-to-point message. Messages that
// are not addressed to the local participant are ignored.
func (m *Manager) HandleSignaling(message signaling.Message) {
	addressed, ok := message.(signaling.Addressed)
	if !ok {
		return
	}

	if addressed.Recipient() != m.localID || addressed.Sender() == m.localID {
		return
	}

	switch msg := message.(type) {
	case signaling.Offer:
		m.onOffer(msg)
	case signaling.Answer:
		m.onAnswer(msg)
	case signaling.ICECandidate:
		m.onCandidate(msg)
	}
}

func (m *Manager) onOffer(msg signaling.Offer) {
	logger := m.logger.WithField("remote_id", msg.From)

	if existing, found := m.links[msg.From]; found {
		switch {
		case existing.role == RoleResponder && existing.remoteOffer == msg.SDP:
			logger.Debug("ignoring duplicate offer")
			return
		case existing.role == RoleInitiator && existing.peer.HasRemoteDescription():
			logger.Debug("ignoring offer for an established link")
			return
		case existing.role == RoleInitiator && m.localID < msg.From:
			// Both sides offered; the smaller id keeps its offer.
			logger.Info("glare, keeping the local offer")
			return
		}

		// Either glare lost to the remote side or the remote restarted its
		// connection: replace the link without reporting a departure.
		logger.WithField("role", existing.role.String()).Info("replacing link on remote offer")
		m.removeLink(msg.From, false)
		m.answer(msg, false)
		return
	}

	m.answer(msg, true)
}

// Creates a responder link for an offer and sends the answer. A link that
// could not answer is torn down; `announce` is false when it replaces a link
// whose participant was already reported.
func (m *Manager) answer(msg signaling.Offer, announce bool) {
	link, err := m.newLink(msg.From, RoleResponder, announce)
	if err != nil {
		m.fail(err)
		if !announce {
			m.events.ParticipantLeft(msg.From)
		}
		return
	}

	link.state = StateNegotiating
	link.remoteOffer = msg.SDP

	answer, err := link.peer.ProcessSDPOffer(msg.SDP)
	if err != nil {
		m.fail(&NegotiationError{RemoteID: msg.From, Step: StepAnswer, Err: err})
		m.removeLink(msg.From, true)
		return
	}

	m.signaler.Send(signaling.Answer{From: m.localID, To: msg.From, SDP: answer.SDP})

	// A rejected candidate does not doom the link.
	if err := link.flushCandidates(); err != nil {
		m.fail(&NegotiationError{RemoteID: msg.From, Step: StepCandidate, Err: err})
	}
}

func (m *Manager) onAnswer(msg signaling.Answer) {
	logger := m.logger.WithField("remote_id", msg.From)

	link, found := m.links[msg.From]
	if !found || link.role != RoleInitiator {
		logger.Debug("ignoring answer without a pending offer")
		return
	}

	if link.peer.HasRemoteDescription() {
		logger.Debug("ignoring duplicate answer")
		return
	}

	if err := link.peer.ProcessSDPAnswer(msg.SDP); err != nil {
		m.fail(&NegotiationError{RemoteID: msg.From, Step: StepRemoteAnswer, Err: err})
		return
	}

	if err := link.flushCandidates(); err != nil {
		m.fail(&NegotiationError{RemoteID: msg.From, Step: StepCandidate, Err: err})
	}
}

func (m *Manager) onCandidate(msg signaling.ICECandidate) {
	// End of the remote gathering.
	if msg.Candidate.Candidate == "" {
		return
	}

	link, found := m.links[msg.From]
	if !found {
		m.logger.WithField("remote_id", msg.From).Debug("dropping candidate for unknown link")
		return
	}

	if !link.markCandidate(msg.Candidate) {
		return
	}

	if err := link.addCandidate(msg.Candidate); err != nil {
		m.fail(&NegotiationError{RemoteID: msg.From, Step: StepCandidate, Err: err})
	}
}
