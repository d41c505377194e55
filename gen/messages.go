package gen

// MessageDown is delivered to the watcher's mailbox when a monitored entity
// dies. One notification is produced per installed Ref.
type MessageDown struct {
	Ref    Ref
	Reason string
}

// MessageDidDemonitor acknowledges Demonitor. Emitted by the controller even
// when the ref was never installed, which keeps Demonitor idempotent.
type MessageDidDemonitor struct {
	Ref Ref
}

// Unlink acknowledgements, keyed on the identifier variant the unlink named.
type MessageDidUnlinkProcess struct {
	PID PID
}

type MessageDidUnlinkNode struct {
	Name Atom
}

type MessageDidUnlinkPort struct {
	Port SendPortID
}

// MessageWhereIsReply answers a WhereIs request, correlated by label.
type MessageWhereIsReply struct {
	Label Atom
	PID   PID
	Found bool
}

// MessageSpawnReply answers SpawnAsync, correlated by the spawn ref. A
// failed spawn carries the failure text in Error and a zero PID.
type MessageSpawnReply struct {
	Ref   SpawnRef
	PID   PID
	Error string
}

// MessageSay is what Say sends to the process registered under "logger".
type MessageSay struct {
	Time string
	From PID
	Text string
}
