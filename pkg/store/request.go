package store

import "github.com/fly-io/imageuploader/pkg/identity"

// Kind tags a request with the statement it runs.
type Kind int

const (
	KindInsert Kind = iota
	KindSelect
	KindUpdate
	KindDelete
)

func (k Kind) String() string {
	switch k {
	case KindInsert:
		return "insert"
	case KindSelect:
		return "select"
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Request is a message for the store worker. The set of implementations is
// closed: InsertRequest, SelectRequest, UpdateRequest and DeleteRequest.
type Request interface {
	Kind() Kind
	request()
}

// InsertRequest appends a record.
type InsertRequest struct {
	Record identity.Record
}

// UpdateRequest rewrites the filepath of the rows matching the record's tuple and id.
type UpdateRequest struct {
	Record identity.Record
}

// DeleteRequest removes the rows matching the record's tuple and id.
type DeleteRequest struct {
	Record identity.Record
}

// SelectRequest asks for the filepaths of every record under Tuple.
// The worker answers once on reply and never reuses it.
type SelectRequest struct {
	Tuple identity.Tuple
	reply chan<- []string
}

func (InsertRequest) Kind() Kind { return KindInsert }
func (SelectRequest) Kind() Kind { return KindSelect }
func (UpdateRequest) Kind() Kind { return KindUpdate }
func (DeleteRequest) Kind() Kind { return KindDelete }

func (InsertRequest) request() {}
func (SelectRequest) request() {}
func (UpdateRequest) request() {}
func (DeleteRequest) request() {}
