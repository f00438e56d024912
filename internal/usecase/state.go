package usecase

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/example/orcid-service/config"
	"github.com/example/orcid-service/internal/domain"
)

// State travels through the registry as the OAuth state parameter.
type State struct {
	ContextID string
	Op        Operation
}

type StateSigner interface {
	Sign(st State) (string, error)
	Parse(token string) (*State, error)
}

type stateSigner struct {
	key    []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewStateSigner(cfg *config.Config) (StateSigner, error) {
	if cfg.StateSecret == "" {
		return nil, errors.New("orcid state secret required")
	}
	return &stateSigner{key: []byte(cfg.StateSecret), issuer: cfg.AppName, ttl: cfg.StateTTL, now: time.Now}, nil
}

func (s *stateSigner) Sign(st State) (string, error) {
	if st.ContextID == "" || st.Op == nil {
		return "", fmt.Errorf("state requires context and operation")
	}
	now := s.now().UTC()
	claims := jwt.MapClaims{
		"iss": s.issuer,
		"jti": uuid.NewString(),
		"iat": now.Unix(),
		"exp": now.Add(s.ttl).Unix(),
		"ctx": st.ContextID,
		"op":  OperationName(st.Op),
	}
	switch op := st.Op.(type) {
	case RegisterOp:
	case ProfileOp:
		claims["user"] = op.UserID
	case WorkOp:
		claims["pub"] = op.PublicationID
		claims["author"] = op.AuthorID
	case ReviewOp:
		claims["review"] = op.ReviewAssignmentID
	default:
		return "", fmt.Errorf("unknown operation %T", st.Op)
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

func (s *stateSigner) Parse(tokenStr string) (*State, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30*time.Second),
	)
	token, err := parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return s.key, nil
	})
	if err != nil || token == nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidState, err)
	}

	str := func(k string) string {
		v, _ := claims[k].(string)
		return v
	}
	st := &State{ContextID: str("ctx")}
	switch str("op") {
	case OpRegister:
		st.Op = RegisterOp{}
	case OpProfile:
		st.Op = ProfileOp{UserID: str("user")}
	case OpWork:
		st.Op = WorkOp{PublicationID: str("pub"), AuthorID: str("author")}
	case OpReview:
		st.Op = ReviewOp{ReviewAssignmentID: str("review")}
	default:
		return nil, fmt.Errorf("%w: unknown operation %q", domain.ErrInvalidState, str("op"))
	}
	if st.ContextID == "" || !complete(st.Op) {
		return nil, fmt.Errorf("%w: incomplete state", domain.ErrInvalidState)
	}
	return st, nil
}

func complete(op Operation) bool {
	switch op := op.(type) {
	case RegisterOp:
		return true
	case ProfileOp:
		return op.UserID != ""
	case WorkOp:
		return op.PublicationID != "" && op.AuthorID != ""
	case ReviewOp:
		return op.ReviewAssignmentID != ""
	default:
		return false
	}
}
