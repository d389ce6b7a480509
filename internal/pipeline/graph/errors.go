package graph

import "fmt"

// CycleError reports an invalid dependency graph: a forward-stage edge or a
// dependency cycle. It is fatal at build time.
type CycleError struct {
	Detail string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("invalid dependency graph: %s", e.Detail)
}
