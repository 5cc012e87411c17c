package models

// NotebookContext identifies which notebook's external stores tools operate against.
// The orchestration core only reads the id (for the trace) and the summary (for planning);
// tools resolve their own stores from the id.
type NotebookContext interface {
	NotebookID() string
	Summary() string
}

// Notebook is the plain NotebookContext used by the HTTP API and CLI.
type Notebook struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
}

func (n Notebook) NotebookID() string { return n.ID }
func (n Notebook) Summary() string    { return n.Description }

var _ NotebookContext = Notebook{}
