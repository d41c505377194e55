package procmesh

const (
	Version = "1.0.0"
)
