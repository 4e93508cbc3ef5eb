package quorum

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/computor-tools/qubic-go/protocol"
)

// stateRound collects the responses of one computer-state request round,
// matched by the echoed request timestamp. A round is dropped when the
// next one begins.
type stateRound struct {
	timestamp uint64
	tally     tally
	records   []*protocol.ComputerState
	emitted   int
}

// runStateSync periodically requests the computer state from all peers
// and watches for loss of agreement.
func (e *Engine) runStateSync(ctx context.Context) {
	e.mtx.Lock()
	e.lastAgreement = time.Now()
	e.mtx.Unlock()

	ticker := time.NewTicker(e.syncInterval)
	defer ticker.Stop()

	for {
		e.beginStateRound()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.checkDesync()
		}
	}
}

// beginStateRound abandons the previous round and fans out a fresh
// request carrying a unique timestamp.
func (e *Engine) beginStateRound() {
	timestamp := e.timestamps.Next()

	e.mtx.Lock()
	e.round = &stateRound{timestamp: timestamp}
	e.mtx.Unlock()

	e.Broadcast(protocol.NewComputerStateRequest(timestamp))
}

// checkDesync publishes a zero status once no agreement was reached for
// longer than the sync interval plus the configured grace. The fallback
// fires at most once until agreement resumes, and also covers a launch
// that never reached a first agreement.
func (e *Engine) checkDesync() {
	e.mtx.Lock()
	expired := time.Since(e.lastAgreement) > e.syncInterval+e.syncDelay
	desynced := expired && !e.desyncReported
	if desynced {
		e.desyncReported = true
		e.stateStatus = 0
	}
	peers := append([]string(nil), e.peers[:]...)
	e.mtx.Unlock()

	if desynced {
		e.logger.Warn("computer state desynchronized")
		e.emitInfo(Info{Status: 0, Peers: peers})
	}
}

// handleStateResponse feeds one verified snapshot into the current round
// and advances the round status.
func (e *Engine) handleStateResponse(sub *protocol.SubTyped) {
	record, err := protocol.UnmarshalComputerState(sub.Body)
	if err != nil {
		e.logger.Debug("malformed computer-state response", zap.Error(err))
		return
	}
	// Only the admin publishes the committee snapshot; computors echo it
	// under their own index and are not accepted.
	if record.ComputorIndex != protocol.NumberOfComputors {
		e.logger.Debug("computer state not admin-issued", zap.Uint16("computorIndex", record.ComputorIndex))
		return
	}
	if !record.VerifyAdminSignature(e.scheme, e.adminKey) {
		e.logger.Warn("computer state admin signature did not verify")
		return
	}

	e.mtx.Lock()
	round := e.round
	if round == nil || round.timestamp != sub.Timestamp {
		e.mtx.Unlock()
		return
	}

	status := round.tally.add(record.AdminSignature[:])
	round.records = append(round.records, record)

	noAgreement := round.tally.full() && status < 2
	advanced := status > round.emitted
	var agreed *protocol.ComputerState
	if advanced {
		round.emitted = status
		agreed = round.records[round.tally.anchorIndex()]
		if status >= 2 {
			e.state = agreed
			e.stateStatus = status
			e.lastAgreement = time.Now()
			e.desyncReported = false
		}
	}
	peers := append([]string(nil), e.peers[:]...)
	e.mtx.Unlock()

	if advanced {
		e.emitInfo(Info{Status: status, State: agreed, Peers: peers})
	}
	if noAgreement {
		e.emitError(ErrInvalidResponses)
	}
}
