package quorum

// peerQueue is the rotation queue of gossiped public peer addresses.
// Pushes dedup against queued entries; pops come off the front.
type peerQueue struct {
	addresses []string
}

func (q *peerQueue) push(address string) {
	for _, queued := range q.addresses {
		if queued == address {
			return
		}
	}
	q.addresses = append(q.addresses, address)
}

func (q *peerQueue) pop() (string, bool) {
	if len(q.addresses) == 0 {
		return "", false
	}
	address := q.addresses[0]
	q.addresses = q.addresses[1:]
	return address, true
}

func (q *peerQueue) empty() bool {
	return len(q.addresses) == 0
}

func (q *peerQueue) len() int {
	return len(q.addresses)
}
