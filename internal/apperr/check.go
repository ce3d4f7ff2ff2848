package apperr

// Checker collects field level validation failures
type Checker struct {
	details []string
}

// Check records "field: msg" unless ok
func (c *Checker) Check(ok bool, field, msg string) {
	if !ok {
		c.details = append(c.details, field+": "+msg)
	}
}

// Valid reports whether no check failed
func (c *Checker) Valid() bool {
	return len(c.details) == 0
}

// Err returns a validation error, or nil when every check passed
func (c *Checker) Err() error {
	if c.Valid() {
		return nil
	}
	return Validation(c.details...)
}
