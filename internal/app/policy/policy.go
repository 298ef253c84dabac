// Package policy decides which roles may open a private conversation with which.
package policy

import "estatechat/internal/app/user"

// allowed maps a sender role to the receiver roles it may message.
// Anything absent is denied, including MANAGER->MANAGER and CLIENT->CLIENT.
var allowed = map[user.Role]map[user.Role]struct{}{
	user.RoleAdmin: {
		user.RoleAdmin:   {},
		user.RoleManager: {},
		user.RoleClient:  {},
	},
	user.RoleManager: {
		user.RoleAdmin:  {},
		user.RoleClient: {},
	},
	user.RoleClient: {
		user.RoleAdmin:   {},
		user.RoleManager: {},
	},
}

// CanMessage reports whether a sender with senderRole may message a receiver with receiverRole.
// It only looks at the sender->receiver direction and is evaluated on every send.
func CanMessage(senderRole, receiverRole user.Role) bool {
	receivers, ok := allowed[senderRole]
	if !ok {
		return false
	}
	_, ok = receivers[receiverRole]
	return ok
}
