package dialogue

import (
	"errors"
	"fmt"
)

var ErrRunning = errors.New("a dialogue run is already in progress")

// TurnError is returned when the generation gateway fails and the run is
// aborted.
type TurnError struct {
	Turn    int
	Speaker string
	Err     error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("turn %d (%s): %v", e.Turn, e.Speaker, e.Err)
}

func (e *TurnError) Unwrap() error {
	return e.Err
}
