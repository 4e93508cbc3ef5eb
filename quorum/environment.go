package quorum

import (
	"encoding/binary"

	"go.uber.org/zap"

	"github.com/computor-tools/qubic-go/protocol"
	"github.com/computor-tools/qubic-go/schnorrq"
)

// EnvironmentUpdate is one deduplicated environment report delivered to
// subscribers.
type EnvironmentUpdate struct {
	Environment string
	Digest      [32]byte
	Tick        uint32
	Data        []byte
}

type environmentSub struct {
	environment string
	digest      [32]byte
	listeners   []chan<- EnvironmentUpdate
}

// EnvironmentDigest returns the wire digest of an environment name.
func EnvironmentDigest(environment string) [32]byte {
	return schnorrq.HashDigest([]byte(environment))
}

// AddEnvironmentListener subscribes ch to reports of environment. The
// first listener of an environment triggers the wire subscription;
// deliveries to a full channel are dropped.
func (e *Engine) AddEnvironmentListener(environment string, ch chan<- EnvironmentUpdate) {
	digest := EnvironmentDigest(environment)

	e.mtx.Lock()
	sub := e.subs[digest]
	fresh := sub == nil
	if fresh {
		sub = &environmentSub{environment: environment, digest: digest}
		e.subs[digest] = sub
	}
	sub.listeners = append(sub.listeners, ch)
	e.mtx.Unlock()

	if fresh {
		e.Broadcast(protocol.NewEnvironmentRequest(e.timestamps.Next(), digest))
	}
}

// RemoveEnvironmentListener drops the subscription of environment,
// including all its listeners.
func (e *Engine) RemoveEnvironmentListener(environment string) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	delete(e.subs, EnvironmentDigest(environment))
}

// handleEnvironmentResponse forwards a report to the environment's
// listeners, deduplicating repeats of the same tick across the three
// sockets.
func (e *Engine) handleEnvironmentResponse(sub *protocol.SubTyped) {
	report, err := protocol.UnmarshalEnvironmentReport(sub.Body)
	if err != nil {
		e.logger.Debug("malformed environment report", zap.Error(err))
		return
	}

	e.mtx.Lock()
	subscription := e.subs[report.Digest]
	if subscription == nil {
		e.mtx.Unlock()
		return
	}
	if seen, _ := e.seenReports.ContainsOrAdd(reportKey(report), struct{}{}); seen {
		e.mtx.Unlock()
		return
	}
	update := EnvironmentUpdate{
		Environment: subscription.environment,
		Digest:      report.Digest,
		Tick:        report.Tick,
		Data:        report.Data,
	}
	listeners := append([]chan<- EnvironmentUpdate(nil), subscription.listeners...)
	e.mtx.Unlock()

	for _, listener := range listeners {
		select {
		case listener <- update:
		default:
			e.logger.Debug("environment listener full", zap.String("environment", update.Environment))
		}
	}
	if e.hooks.Environment != nil {
		e.hooks.Environment(update)
	}
}

// reportKey identifies a report for deduplication.
func reportKey(report *protocol.EnvironmentReport) [36]byte {
	var key [36]byte
	copy(key[:32], report.Digest[:])
	binary.LittleEndian.PutUint32(key[32:], report.Tick)
	return key
}
