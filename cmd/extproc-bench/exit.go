package main

import (
	"errors"

	"github.com/torosent/extproc-bench/internal/extproc"
	"github.com/torosent/extproc-bench/internal/grpcclient"
	"github.com/torosent/extproc-bench/internal/runner"
)

// Process exit statuses, one per failure category.
const (
	exitOK = iota
	exitDial
	exitConnect
	exitCall
	exitSend
	exitSaturated
	exitWriteReport
	exitRequestCountTooLarge
	exitTooManyLevels
	exitOpenFixture
	exitParseFixture
	exitFixtureHeaders
	exitOther
)

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}

	var satErr *runner.SaturationError
	switch {
	case errors.Is(err, grpcclient.ErrInvalidTarget), errors.Is(err, grpcclient.ErrDial):
		return exitDial
	case errors.Is(err, grpcclient.ErrConnect):
		return exitConnect
	case errors.Is(err, extproc.ErrOpenStream), errors.Is(err, extproc.ErrReceive):
		return exitCall
	case errors.Is(err, extproc.ErrSend):
		return exitSend
	case errors.As(err, &satErr):
		return exitSaturated
	case errors.Is(err, runner.ErrWriteReport):
		return exitWriteReport
	case errors.Is(err, runner.ErrRequestCountTooLarge):
		return exitRequestCountTooLarge
	case errors.Is(err, runner.ErrTooManyLevels):
		return exitTooManyLevels
	case errors.Is(err, extproc.ErrOpenFixture):
		return exitOpenFixture
	case errors.Is(err, extproc.ErrParseFixture):
		return exitParseFixture
	case errors.Is(err, extproc.ErrFixtureHeaders):
		return exitFixtureHeaders
	default:
		return exitOther
	}
}
