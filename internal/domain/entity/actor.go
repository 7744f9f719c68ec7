package entity

// Actor identifies who is driving a transition. Identity resolution is the
// caller's concern; the engine only needs an id and role membership.
type Actor interface {
	// ID returns a stable identifier for the actor
	ID() string

	// HasRole returns true if the actor holds the named role
	HasRole(name string) bool
}

// User is the standard Actor implementation backed by an explicit role list
type User struct {
	UserID string
	Roles  []string
}

// ID returns the user identifier
func (u User) ID() string {
	return u.UserID
}

// HasRole returns true if the user holds the named role
func (u User) HasRole(name string) bool {
	for _, r := range u.Roles {
		if r == name {
			return true
		}
	}
	return false
}

// SystemActorID identifies engine-initiated changes such as timeout
// escalations.
const SystemActorID = "system"

// SystemActor returns the actor used for engine-initiated transitions
func SystemActor() Actor {
	return User{UserID: SystemActorID}
}
