package wire

// Control frames: liveness, acknowledgements, errors and the local user
// listing.

// NewHeartbeat refreshes peer liveness; empty payload, broadcast recipient.
func NewHeartbeat(serverID string) *Envelope {
	return New(TypeHeartbeat, serverID, Broadcast, map[string]interface{}{})
}

// NewAck acknowledges a frame, echoing enough of it to correlate.
func NewAck(serverID, to string, ref *Envelope) *Envelope {
	return New(TypeAck, serverID, to, map[string]interface{}{
		"msg_ref":  ref.Type,
		"from":     ref.From,
		"to":       ref.To,
		"ts":       ref.Ts,
		"msg_type": ref.Type,
	})
}

// NewError reports a failure to the offending link.
func NewError(serverID, to, code, detail string) *Envelope {
	return New(TypeError, serverID, to, map[string]interface{}{
		"code":   code,
		"detail": detail,
	})
}

// NewCmdList asks the home node for its connected local users.
func NewCmdList(userID, serverID string) *Envelope {
	return New(TypeCmdList, userID, serverID, map[string]interface{}{})
}

// NewUserList answers CMD_LIST.
func NewUserList(serverID, to string, users []string) *Envelope {
	list := make([]interface{}, 0, len(users))
	for _, u := range users {
		list = append(list, u)
	}
	return New(TypeUserList, serverID, to, map[string]interface{}{
		"users": list,
	})
}
