package usecase

// Operation selects what happens after a successful ORCID handshake.
// The set of variants is closed; switch statements over it end in a
// default branch that reports an unknown operation.
type Operation interface {
	operation() string
}

// RegisterOp pre-fills a registration form. No identity exists yet.
type RegisterOp struct{}

// ProfileOp links the ORCID iD to the signed-in user.
type ProfileOp struct {
	UserID string
}

// WorkOp links a publication author and deposits the work when published.
type WorkOp struct {
	PublicationID string
	AuthorID      string
}

// ReviewOp links a reviewer and deposits one completed review.
type ReviewOp struct {
	ReviewAssignmentID string
}

const (
	OpRegister = "register"
	OpProfile  = "profile"
	OpWork     = "work"
	OpReview   = "review"
)

func (RegisterOp) operation() string { return OpRegister }
func (ProfileOp) operation() string  { return OpProfile }
func (WorkOp) operation() string     { return OpWork }
func (ReviewOp) operation() string   { return OpReview }

// OperationName returns the wire name of op, or "" for nil.
func OperationName(op Operation) string {
	if op == nil {
		return ""
	}
	return op.operation()
}
