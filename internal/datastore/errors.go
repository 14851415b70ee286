package datastore

import "fmt"

// Operations reported in UserError.Operation.
const (
	OpFetchSavings = "fetch savings"
	OpFetchCosts   = "fetch costs"
	OpFetchSum     = "fetch sum"
	OpConfirm      = "confirm saving"
	OpWithdraw     = "record withdrawal"
)

const (
	remoteGuidanceTail = " Please check your network connection and try again later. If you are sure that your network connection is working properly, please contact the developer. You can safely dismiss this page for now."
	localGuidanceTail  = " The local database may be locked or damaged. Try again; if the problem persists, please contact the developer."
)

var guidance = map[string]string{
	OpFetchSavings: "Cannot retrieve all savings from server." + remoteGuidanceTail,
	OpFetchCosts:   "Cannot retrieve all costs from server." + remoteGuidanceTail,
	OpFetchSum:     "Cannot retrieve sum from server." + remoteGuidanceTail,
	OpConfirm:      "Cannot send save request to server." + remoteGuidanceTail,
}

var localGuidance = map[string]string{
	OpFetchSavings: "Cannot read savings from local storage." + localGuidanceTail,
	OpFetchCosts:   "Cannot read costs from local storage." + localGuidanceTail,
	OpConfirm:      "Cannot save the confirmation to local storage." + localGuidanceTail,
	OpWithdraw:     "Cannot save the withdrawal to local storage." + localGuidanceTail,
}

// UserError is a failure the presentation layer can show as is. Err keeps the
// underlying taxonomy error reachable through errors.Is and errors.As.
type UserError struct {
	Operation string
	Guidance  string
	Err       error
}

func (e *UserError) Error() string {
	return fmt.Sprintf("%s: %v", e.Operation, e.Err)
}

func (e *UserError) Unwrap() error { return e.Err }

func newUserError(op string, remote bool, err error) *UserError {
	text := localGuidance[op]
	if remote {
		text = guidance[op]
	}
	return &UserError{Operation: op, Guidance: text, Err: err}
}
