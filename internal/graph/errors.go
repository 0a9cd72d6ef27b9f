package graph

import (
	"errors"

	"github.com/zhattention/agent-studio/internal/models"
)

var (
	// ErrInvalidConfig is returned when a team document cannot be expanded.
	ErrInvalidConfig = models.ErrInvalidConfig

	// ErrMissingNode is returned when an operation references a node id that
	// is absent from the graph, or that names the wrong kind of node.
	ErrMissingNode = errors.New("missing node")

	// ErrMalformedGraph is returned when an expansion would emit an edge with
	// empty, identical or unknown endpoints, or two nodes with the same id.
	ErrMalformedGraph = errors.New("malformed graph")

	// ErrCyclicDelegation is never returned. Contraction logs it when a
	// delegation edge points back at a team that is still being contracted.
	ErrCyclicDelegation = errors.New("cyclic delegation")
)
