package relay

import "container/list"

// searchPool is the FIFO of connections waiting for a partner. Membership
// checks and removal are O(1).
type searchPool struct {
	order *list.List
	index map[string]*list.Element
}

func newSearchPool() *searchPool {
	return &searchPool{
		order: list.New(),
		index: make(map[string]*list.Element),
	}
}

func (p *searchPool) len() int { return p.order.Len() }

func (p *searchPool) contains(id string) bool {
	_, ok := p.index[id]
	return ok
}

// push appends id. A member keeps its position.
func (p *searchPool) push(id string) bool {
	if p.contains(id) {
		return false
	}
	p.index[id] = p.order.PushBack(id)
	return true
}

// pushFront puts id at the head of the queue, ahead of everyone else.
func (p *searchPool) pushFront(id string) bool {
	if p.contains(id) {
		return false
	}
	p.index[id] = p.order.PushFront(id)
	return true
}

func (p *searchPool) remove(id string) bool {
	el, ok := p.index[id]
	if !ok {
		return false
	}
	p.order.Remove(el)
	delete(p.index, id)
	return true
}

// oldestExcept returns the longest-waiting member other than id.
func (p *searchPool) oldestExcept(id string) (string, bool) {
	for el := p.order.Front(); el != nil; el = el.Next() {
		if other := el.Value.(string); other != id {
			return other, true
		}
	}
	return "", false
}

func (p *searchPool) members() []string {
	out := make([]string, 0, p.order.Len())
	for el := p.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(string))
	}
	return out
}
