package models

// Team is a typed view over a teams record
type Team struct {
	Record
}

// AsTeam wraps a record
func AsTeam(r Record) Team { return Team{Record: r} }

func (t Team) OwnerID() int64 {
	id, _ := t.Int("owner_id")
	return id
}

func (t Team) Name() string       { return t.String("name") }
func (t Team) InviteCode() string { return t.String("invite_code") }
