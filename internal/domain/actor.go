package domain

// Capability grants the skip policy understands
const (
	CapSkipModeration = "skip-moderation"
	CapRollback       = "rollback"
	CapModerate       = "moderate"
)

// Actor is the user performing a content-modifying action, as reported by
// the wiki's account subsystem. Anonymous actors have ID 0 and carry a
// session token instead of a login name.
type Actor struct {
	ID           int64
	Name         string
	SessionToken string
	Capabilities []string
	Blocked      bool
	IP           string
	XFF          string
	UserAgent    string
}

// IsAnon reports whether the actor is not logged in
func (a Actor) IsAnon() bool {
	return a.ID == 0
}

// Has reports whether the actor holds the given capability
func (a Actor) Has(capability string) bool {
	for _, c := range a.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// PreloadID is the queue-coalescing fingerprint: stable per logged-in user,
// per-session for anonymous actors. The "[" prefix cannot collide with login
// names, which the wiki forbids from starting with a bracket.
func (a Actor) PreloadID() string {
	if a.IsAnon() {
		return "[" + a.SessionToken
	}
	return a.Name
}

// CanPreload reports whether the actor carries a usable coalescing
// fingerprint. An anonymous actor without a session token does not: treating
// the bare bracket prefix as a slot would merge unrelated users' pending
// edits into one entry.
func (a Actor) CanPreload() bool {
	return !a.IsAnon() || a.SessionToken != ""
}

// Moderator identifies the privileged user driving an approval or rejection
type Moderator struct {
	ID   int64
	Name string
}
