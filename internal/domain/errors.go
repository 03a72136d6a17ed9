package domain

import "fmt"

// RepositoryError reports a failure to reach or query the user store.
// It is never retried by the repository itself.
type RepositoryError struct {
	Op  string
	Err error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("repository %s: %v", e.Op, e.Err)
}

func (e *RepositoryError) Unwrap() error {
	return e.Err
}
