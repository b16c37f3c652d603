package chat

// room tracks the live endpoints of a single conversation thread. Access is
// guarded by the registry mutex; rooms never outlive their last member.
type room struct {
	threadID string
	members  map[string]*Endpoint
}

func newRoom(threadID string) *room {
	return &room{threadID: threadID, members: make(map[string]*Endpoint)}
}

// snapshot copies the current membership, optionally skipping one user, so
// writes can happen outside the registry lock.
func (r *room) snapshot(excludeUser string) []*Endpoint {
	endpoints := make([]*Endpoint, 0, len(r.members))
	for userID, endpoint := range r.members {
		if excludeUser != "" && userID == excludeUser {
			continue
		}
		endpoints = append(endpoints, endpoint)
	}
	return endpoints
}
