package env

import "errors"

var (
	// ErrEpisodeDone is returned by Step when the episode is terminal and
	// needs a Reset before continuing.
	ErrEpisodeDone = errors.New("episode is done, call Reset before stepping")

	// ErrClosed is returned when the environment has been closed.
	ErrClosed = errors.New("environment is closed")

	// ErrSeedUnsupported is returned by Seed: a live market cannot be made
	// deterministic.
	ErrSeedUnsupported = errors.New("cannot seed a live market")

	// ErrUnsupportedRenderMode is returned for render modes the environment
	// does not implement.
	ErrUnsupportedRenderMode = errors.New("unsupported render mode")

	// errActionOutOfRange signals an internal inconsistency in bounds
	// handling: a clipped action landed outside [-1, 1].
	errActionOutOfRange = errors.New("clipped action out of range")
)
