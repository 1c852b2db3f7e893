package matrix

// Membership is the normalised state of a Member within a room. The wire
// value "leave" (and an empty content object) both collapse to Absent.
type Membership string

const (
	MembershipInvite Membership = "invite"
	MembershipJoin   Membership = "join"
	MembershipAbsent Membership = "" // normalised form of wire "leave"/empty content
)

// Member is a room-local record binding a shared *User to this room's view
// of their membership and displayname. It is created on first membership
// event and removed from the room's member map once its membership
// resolves to Absent.
type Member struct {
	User        *User
	Membership  Membership
	DisplayName string
}

func newMember(user *User) *Member {
	return &Member{User: user}
}
