package mesh

import (
	"errors"

	"github.com/pion/webrtc/v4"
)

// negotiationNeeded schedules one negotiate event. Triggers that arrive
// before it runs fold into it.
func (l *Link) negotiationNeeded() {
	if l.discarded || l.scheduled {
		return
	}
	l.scheduled = true
	l.m.sched.Post(func() {
		l.scheduled = false
		l.negotiate()
	})
}

func (l *Link) negotiate() {
	if l.discarded {
		return
	}
	if l.state == Closed {
		if err := l.open(); err != nil {
			l.m.log.Error("link not reopened", "remote", l.remoteID, "error", err)
			return
		}
	}
	if l.state != Stable {
		l.pending = true
		return
	}

	l.round++
	l.role = roleOfferer
	l.setState(Offering)

	conn, epoch, round := l.conn, l.epoch, l.round
	l.exec.Do(func() {
		offer, err := conn.CreateOffer()
		l.m.sched.Post(func() { l.offerCreated(epoch, round, offer, err) })
	})
}

func (l *Link) offerCreated(epoch, round uint64, offer webrtc.SessionDescription, err error) {
	if !l.current(epoch, round) {
		return
	}
	if err != nil {
		l.fail("create offer", ErrRemoteDescriptionRejected, err)
		return
	}

	if err := l.m.signaler.SendOffer(l.remoteID, offer); err != nil {
		l.m.log.Warn("offer not sent", "remote", l.remoteID, "error", err)
	}
	l.offers++
	l.setState(AnswerPending)
	l.markDescribed()
}

// onOffer answers a remote offer. When both sides offered at once, the side
// with the lower id keeps its offer and the other withdraws its own and
// answers, then offers again once stable.
func (l *Link) onOffer(offer webrtc.SessionDescription) {
	if l.discarded {
		return
	}
	if l.state == Closed {
		if err := l.open(); err != nil {
			l.m.log.Error("link not reopened", "remote", l.remoteID, "error", err)
			return
		}
	}

	fp := fingerprint(offer)
	if l.remoteFingerprint != "" && fp != "" && fp != l.remoteFingerprint {
		l.m.log.Debug("remote fingerprint changed", "remote", l.remoteID)
		if !l.reopen() {
			return
		}
	}

	rollback := false
	if l.role == roleOfferer && (l.state == Offering || l.state == AnswerPending) {
		if l.m.localID < l.remoteID {
			l.m.log.Debug("offer collision, keeping ours", "remote", l.remoteID)
			return
		}
		l.m.log.Debug("offer collision, yielding", "remote", l.remoteID)
		rollback = true
		l.pending = true
	}

	l.round++
	l.role = roleResponder
	l.setState(AnswerPending)

	conn, epoch, round := l.conn, l.epoch, l.round
	l.exec.Do(func() {
		if rollback {
			if err := conn.Rollback(); err != nil {
				l.m.sched.Post(func() { l.rollbackFailed(epoch, round, offer, err) })
				return
			}
		}

		if err := conn.SetRemoteDescription(offer); err != nil {
			l.m.sched.Post(func() {
				if l.current(epoch, round) {
					l.fail("apply offer", ErrRemoteDescriptionRejected, err)
				}
			})
			return
		}
		l.m.sched.Post(func() { l.remoteApplied(epoch, fp) })

		answer, err := conn.CreateAnswer()
		l.m.sched.Post(func() { l.answerCreated(epoch, round, answer, err) })
	})
}

// rollbackFailed handles a local offer that could not be withdrawn. Before
// any remote description landed the offer is answered from a fresh Conn,
// along with the candidates already buffered for it. After that the remote
// is bound to this Conn's fingerprint, so the link restarts and offers
// instead.
func (l *Link) rollbackFailed(epoch, round uint64, offer webrtc.SessionDescription, err error) {
	if !l.current(epoch, round) {
		return
	}
	if !errors.Is(err, ErrRollbackRefused) {
		l.fail("rollback", ErrRemoteDescriptionRejected, err)
		return
	}
	if l.remoteFingerprint != "" {
		l.restart()
		return
	}
	held := l.candidates
	if l.reopen() {
		l.candidates = held
		l.onOffer(offer)
	}
}

func (l *Link) remoteApplied(epoch uint64, fp string) {
	if l.discarded || l.epoch != epoch {
		return
	}
	l.remoteSet = true
	l.remoteFingerprint = fp
	l.flushCandidates()
}

func (l *Link) answerCreated(epoch, round uint64, answer webrtc.SessionDescription, err error) {
	if !l.current(epoch, round) {
		return
	}
	if err != nil {
		l.fail("create answer", ErrRemoteDescriptionRejected, err)
		return
	}

	if err := l.m.signaler.SendAnswer(l.remoteID, answer); err != nil {
		l.m.log.Warn("answer not sent", "remote", l.remoteID, "error", err)
	}
	l.markDescribed()
	l.settle()
}

// onAnswer completes an exchange this side started. Answers outside that
// window are dropped.
func (l *Link) onAnswer(answer webrtc.SessionDescription) {
	if l.discarded || l.state != AnswerPending || l.role != roleOfferer {
		l.m.log.Debug("unexpected answer dropped", "remote", l.remoteID, "state", l.state)
		return
	}
	l.role = roleNone

	conn, epoch, round, fp := l.conn, l.epoch, l.round, fingerprint(answer)
	l.exec.Do(func() {
		err := conn.SetRemoteDescription(answer)
		l.m.sched.Post(func() { l.answerApplied(epoch, round, fp, err) })
	})
}

func (l *Link) answerApplied(epoch, round uint64, fp string, err error) {
	if !l.current(epoch, round) {
		return
	}
	if err != nil {
		l.fail("apply answer", ErrRemoteDescriptionRejected, err)
		return
	}
	l.remoteSet = true
	l.remoteFingerprint = fp
	l.flushCandidates()
	l.settle()
}

// settle returns the link to Stable and runs any deferred renegotiation.
func (l *Link) settle() {
	l.role = roleNone
	l.setState(Stable)
	if l.pending {
		l.pending = false
		l.negotiationNeeded()
	}
}

// fingerprint returns the DTLS fingerprint a description advertises, or ""
// when it carries none or does not parse.
func fingerprint(desc webrtc.SessionDescription) string {
	parsed, err := desc.Unmarshal()
	if err != nil {
		return ""
	}
	if fp, ok := parsed.Attribute("fingerprint"); ok {
		return fp
	}
	for _, media := range parsed.MediaDescriptions {
		if fp, ok := media.Attribute("fingerprint"); ok {
			return fp
		}
	}
	return ""
}
