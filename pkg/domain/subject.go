package domain

// SubjectTypeUser is the only subject type this service issues.
const SubjectTypeUser = "user"

// Subject is the authenticated-principal payload embedded into issued
// authorization artifacts. The identity resolver supplies it; the protocol
// engine serializes it.
type Subject struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// UserSubject wraps a resolved user identifier as a protocol subject.
func UserSubject(id UserID) Subject {
	return Subject{Type: SubjectTypeUser, ID: id.String()}
}

// String renders the subject in the form the engine stores, e.g.
// "user:8a6f...". The structured form stays authoritative.
func (s Subject) String() string {
	return s.Type + ":" + s.ID
}
