package permissions

import api "github.com/OvyFlash/telegram-bot-api"

const statusRestricted = "restricted"

func IsManager(member *api.ChatMember) bool {
	if member == nil {
		return false
	}
	if member.IsCreator() {
		return true
	}
	return member.IsAdministrator() && (member.CanManageChat || member.CanPromoteMembers)
}

// IsPrivilegedModerator reports whether member may run moderation commands.
func IsPrivilegedModerator(member *api.ChatMember) bool {
	if member == nil {
		return false
	}
	if IsManager(member) {
		return true
	}
	return member.IsAdministrator() && member.CanRestrictMembers
}

func IsMuted(member *api.ChatMember) bool {
	return member != nil && member.Status == statusRestricted && !member.CanSendMessages
}
