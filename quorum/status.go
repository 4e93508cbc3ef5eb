package quorum

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/computor-tools/qubic-go/bitfield"
	"github.com/computor-tools/qubic-go/protocol"
)

// statusRequestSpacing separates the per-computor requests of one
// transfer-status poll.
const statusRequestSpacing = 100 * time.Millisecond

// TransferStatusReport is the aggregate view of a transfer's status
// across the committee. The counts are normalized to whole-committee
// votes; Receipt is non-nil once processing reached quorum.
type TransferStatusReport struct {
	Hash      [32]byte
	Unseen    int
	Seen      int
	Processed int
	Epoch     uint16
	Tick      uint32
	Receipt   *protocol.Receipt
}

// statusPoll tracks one outstanding transfer-status request set: the
// frames issued so far (replayed on freshly reopened sockets), the
// per-reporter response tables and the running vote totals.
type statusPoll struct {
	hash      [32]byte
	timestamp uint64
	state     *protocol.ComputerState
	issued    [][]byte
	reporters map[uint16]*reporterSlot
	totals    [4]int
	concluded bool
	result    *TransferStatusReport
	err       error
	done      chan struct{}
}

// reporterSlot holds one reporting computor's responses across the three
// sockets.
type reporterSlot struct {
	tally   tally
	slabs   []*protocol.TransferStatus
	decoded bool
}

// GetTransferStatus polls every committee member for the status of the
// transfer identified by hash and blocks until the committee concludes
// it or ctx ends. Concurrent calls for the same hash share one poll.
func (e *Engine) GetTransferStatus(ctx context.Context, hash [32]byte) (*TransferStatusReport, error) {
	e.mtx.Lock()
	poll, ok := e.polls[hash]
	if !ok {
		if e.group == nil {
			e.mtx.Unlock()
			return nil, fmt.Errorf("engine not launched")
		}
		state := e.state
		if state == nil {
			e.mtx.Unlock()
			return nil, fmt.Errorf("no agreed computer state")
		}
		poll = &statusPoll{
			hash:      hash,
			timestamp: e.timestamps.Next(),
			state:     state,
			reporters: make(map[uint16]*reporterSlot),
			done:      make(chan struct{}),
		}
		e.polls[hash] = poll
		e.group.Go(func() error {
			e.runStatusPoll(poll)
			return nil
		})
	}
	e.mtx.Unlock()

	select {
	case <-poll.done:
		return poll.result, poll.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// runStatusPoll issues one request per reported computor index, spaced
// apart, all carrying the poll's timestamp. Issued frames are retained so
// onOpen can replay them after a transient socket failure.
func (e *Engine) runStatusPoll(poll *statusPoll) {
	ctx := e.runCtx

	for index := 0; index < protocol.NumberOfComputors; index++ {
		request := protocol.NewTransferStatusRequest(poll.timestamp, poll.hash, uint16(index))

		e.mtx.Lock()
		if poll.concluded {
			e.mtx.Unlock()
			return
		}
		poll.issued = append(poll.issued, request)
		e.mtx.Unlock()

		e.Broadcast(request)

		select {
		case <-ctx.Done():
			e.abandonPoll(poll, ctx.Err())
			return
		case <-poll.done:
			return
		case <-time.After(e.statusSpacing):
		}
	}

	// All requests are out; late responses and socket reopens finish the
	// job. The poll ends with the engine if the quorum never concludes.
	select {
	case <-ctx.Done():
		e.abandonPoll(poll, ctx.Err())
	case <-poll.done:
	}
}

func (e *Engine) abandonPoll(poll *statusPoll, err error) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	if poll.concluded {
		return
	}
	poll.concluded = true
	poll.err = err
	delete(e.polls, poll.hash)
	close(poll.done)
}

// handleStatusResponse verifies one status slab and feeds it into its
// poll's aggregation.
func (e *Engine) handleStatusResponse(sub *protocol.SubTyped) {
	slab, err := protocol.UnmarshalTransferStatus(sub.Body)
	if err != nil {
		e.logger.Debug("malformed transfer-status response", zap.Error(err))
		return
	}
	reporter := slab.ComputorIndex
	if reporter >= protocol.NumberOfComputors {
		e.logger.Debug("transfer status from invalid computor", zap.Uint16("computorIndex", reporter))
		return
	}

	e.mtx.Lock()
	poll := e.polls[slab.TransferHash]
	if poll == nil || poll.timestamp != sub.Timestamp || poll.concluded {
		e.mtx.Unlock()
		return
	}
	state := poll.state
	e.mtx.Unlock()

	// A status for another epoch, or from a tick the agreed snapshot has
	// not reached, is inconsistent with what this client knows.
	if slab.Epoch != state.Epoch || slab.Tick > state.Tick {
		e.logger.Debug("transfer status epoch or tick mismatch",
			zap.Uint16("epoch", slab.Epoch), zap.Uint32("tick", slab.Tick))
		return
	}
	if !slab.VerifySignature(e.scheme, state.ComputorPublicKeys[reporter][:]) {
		e.logger.Warn("transfer status signature did not verify", zap.Uint16("computorIndex", reporter))
		return
	}

	var report *TransferStatusReport
	e.mtx.Lock()
	if poll.concluded {
		e.mtx.Unlock()
		return
	}

	slot := poll.reporters[reporter]
	if slot == nil {
		slot = &reporterSlot{}
		poll.reporters[reporter] = slot
	}
	status := slot.tally.add(slab.Signature[:])
	slot.slabs = append(slot.slabs, slab)

	if !slot.decoded && status >= 1 {
		slot.decoded = true
		anchor := slot.slabs[slot.tally.anchorIndex()]
		for lane := 0; lane < protocol.NumberOfComputors; lane++ {
			if lane == int(reporter) {
				continue
			}
			poll.totals[anchor.Bitfield.Get(lane)]++
		}
		report = e.pollReportLocked(poll)
		if report.Unseen >= protocol.QuorumThreshold ||
			report.Seen >= protocol.QuorumThreshold ||
			report.Processed >= protocol.QuorumThreshold {
			e.concludePollLocked(poll, report)
		}
	}
	e.mtx.Unlock()

	if report != nil && e.hooks.TransferStatus != nil {
		e.hooks.TransferStatus(*report)
	}
}

// pollReportLocked snapshots the aggregate counts: pair-votes divided by
// the number of computors a reporter may vote on.
func (e *Engine) pollReportLocked(poll *statusPoll) *TransferStatusReport {
	voters := protocol.NumberOfComputors - 1
	return &TransferStatusReport{
		Hash:      poll.hash,
		Unseen:    poll.totals[bitfield.VoteUnseen] / voters,
		Seen:      poll.totals[bitfield.VoteSeen] / voters,
		Processed: poll.totals[bitfield.VoteProcessed] / voters,
		Epoch:     poll.state.Epoch,
		Tick:      poll.state.Tick,
	}
}

// concludePollLocked finishes the poll. When processing reached quorum,
// the receipt collects the signed slab of every reporter that itself
// attested processing, over the snapshot the poll ran against.
func (e *Engine) concludePollLocked(poll *statusPoll, report *TransferStatusReport) {
	if report.Processed >= protocol.QuorumThreshold {
		receipt := &protocol.Receipt{State: poll.state}
		reporters := make([]int, 0, len(poll.reporters))
		for reporter, slot := range poll.reporters {
			if !slot.decoded {
				continue
			}
			anchor := slot.slabs[slot.tally.anchorIndex()]
			if anchor.Bitfield.Get(int(reporter)) == bitfield.VoteProcessed {
				reporters = append(reporters, int(reporter))
			}
		}
		sort.Ints(reporters)
		for _, reporter := range reporters {
			slot := poll.reporters[uint16(reporter)]
			receipt.Slabs = append(receipt.Slabs, slot.slabs[slot.tally.anchorIndex()])
		}
		report.Receipt = receipt
	}

	poll.concluded = true
	poll.result = report
	delete(e.polls, poll.hash)
	close(poll.done)
}
