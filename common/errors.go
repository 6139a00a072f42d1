package common

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

// Sentinel errors so callers can classify a decode failure with errors.Is
// rather than parsing a message string.
var (
	ErrMissingSrc  = errors.New("message missing src field")
	ErrMissingType = errors.New("message missing type field")
	ErrUnknownType = errors.New("message has unrecognized type")
)

var knownTypes = map[Type]bool{
	TypeHello:          true,
	TypeRequestVote:    true,
	TypeVote:           true,
	TypeAppendEntries:  true,
	TypeAppendResponse: true,
	TypeGet:            true,
	TypePut:            true,
	TypeOK:             true,
	TypeRedirect:       true,
	TypeFail:           true,
}

// validateEnvelope checks the fields every message variant requires
// regardless of type. It combines every independent failure it finds
// rather than stopping at the first, so a caller logging a malformed
// datagram sees the whole picture in one line.
func validateEnvelope(m Message) error {
	var err error
	if m.Type == "" {
		err = multierr.Append(err, ErrMissingType)
	} else if !knownTypes[m.Type] {
		err = multierr.Append(err, fmt.Errorf("%w: %q", ErrUnknownType, m.Type))
	}
	if m.Src == "" {
		err = multierr.Append(err, ErrMissingSrc)
	}
	return err
}
