package files

// CanPerform decides whether an actor may perform an action on a file.
//
// The owner may do anything. Anyone else needs an explicit grant for their
// email that contains the action. A missing file, missing grant, or a grant
// with an empty permission set all deny: the evaluator fails closed.
// Pure — no I/O, no mutation, no side effects.
func CanPerform(actorID, actorEmail string, f *File, p Permission) bool {
	if f == nil || actorID == "" {
		return false
	}
	if f.OwnerID == actorID {
		return true
	}
	if actorEmail == "" {
		return false
	}
	grant := f.GrantFor(actorEmail)
	if grant == nil || len(grant.Permissions) == 0 {
		return false
	}
	return grant.Has(p)
}
