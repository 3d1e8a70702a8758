package models

// Note is a typed view over an employee_notes record
type Note struct {
	Record
}

// AsNote wraps a record
func AsNote(r Record) Note { return Note{Record: r} }

// EmployeeID is the user the note is about
func (n Note) EmployeeID() int64 {
	id, _ := n.Int("employee_id")
	return id
}

func (n Note) CreatedBy() int64 {
	id, _ := n.Int("created_by")
	return id
}

func (n Note) Text() string { return n.String("text") }
