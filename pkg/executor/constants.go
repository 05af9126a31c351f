package executor

import "time"

const (
	DefaultTimeout   = 10 * time.Second
	DefaultMinLength = 3
)
