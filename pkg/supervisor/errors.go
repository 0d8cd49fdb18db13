package supervisor

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// InvalidRouteError is returned when the routing decision names no known agent.
// It ends the request: the routing prompt and the agent set disagree.
type InvalidRouteError struct {
	Route     string
	Available []string
}

func (e *InvalidRouteError) Error() string {
	return fmt.Sprintf("invalid route %q (agents: %s)", e.Route, strings.Join(e.Available, ", "))
}

func IsInvalidRoute(err error) bool {
	var ire *InvalidRouteError
	return errors.As(err, &ire)
}
