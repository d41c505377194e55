package procmesh

import (
	"github.com/procmesh/procmesh/gen"
	"github.com/procmesh/procmesh/node"
)

// StartNode creates a node with the given name. A name without an "@" is
// completed with the POD_IP value, the container hostname inside docker, or
// "localhost" otherwise.
func StartNode(name gen.Atom, opts node.Options) (gen.Node, error) {
	return node.Start(name, opts)
}
