package wire

import "github.com/aukilabs/go-tooling/pkg/errors"

const (
	// ErrTypeMsgSkip is the error type that reports a message a handler
	// does not handle.
	ErrTypeMsgSkip = "wire_msg_skip"

	// ErrTypeMsgTooLarge is the error type that reports a message above
	// the size limit.
	ErrTypeMsgTooLarge = "wire_msg_too_large"

	// ErrTypeSessionNotJoined is the error type that reports an
	// operation requiring a joined session.
	ErrTypeSessionNotJoined = "wire_session_not_joined"
)

// ErrModuleMsgSkip is returned by module handlers for messages they do
// not handle.
var ErrModuleMsgSkip = errors.New("msg skipped").WithType(ErrTypeMsgSkip)
