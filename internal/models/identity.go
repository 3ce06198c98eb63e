package models

// IdentityKind discriminates the account type carried by an Identity.
type IdentityKind int

const (
	IdentityUser IdentityKind = iota + 1
	IdentityAdmin
)

func (k IdentityKind) String() string {
	switch k {
	case IdentityUser:
		return "user"
	case IdentityAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// Identity is the authenticated principal of a request. Exactly one of User
// or Admin is set, as selected by Kind.
type Identity struct {
	Kind  IdentityKind
	User  *User
	Admin *Admin
}

func UserIdentity(u *User) Identity {
	return Identity{Kind: IdentityUser, User: u}
}

func AdminIdentity(a *Admin) Identity {
	return Identity{Kind: IdentityAdmin, Admin: a}
}

func (i Identity) ID() string {
	switch i.Kind {
	case IdentityUser:
		if i.User != nil {
			return i.User.ID
		}
	case IdentityAdmin:
		if i.Admin != nil {
			return i.Admin.ID
		}
	}
	return ""
}
