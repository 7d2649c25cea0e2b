package models

// Error is a sentinel error returned by stores
type Error string

func (err Error) Error() string {
	return string(err)
}

const (
	ErrNotFound  Error = "record not found"
	ErrDuplicate Error = "record already exists"
)
