package client

import (
	"fmt"

	"github.com/dmitrijs2005/entrysync/internal/common"
)

var (
	// ErrUnavailable matches common.ErrTransientNetwork, so callers retry it.
	ErrUnavailable  = fmt.Errorf("server unavailable: %w", common.ErrTransientNetwork)
	ErrUnauthorized = common.ErrUnauthorized
)
