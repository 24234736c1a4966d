package relay

// partnerTable is the symmetric partnership relation: if a maps to b then b
// maps to a.
type partnerTable map[string]string

// bind records a<->b. It refuses self-pairs and connections already bound.
func (t partnerTable) bind(a, b string) bool {
	if a == b {
		return false
	}
	if _, ok := t[a]; ok {
		return false
	}
	if _, ok := t[b]; ok {
		return false
	}
	t[a] = b
	t[b] = a
	return true
}

// unbind removes id and its partner, returning the partner.
func (t partnerTable) unbind(id string) (string, bool) {
	partner, ok := t[id]
	if !ok {
		return "", false
	}
	delete(t, id)
	if t[partner] == id {
		delete(t, partner)
	}
	return partner, true
}

func (t partnerTable) lookup(id string) (string, bool) {
	partner, ok := t[id]
	return partner, ok
}
