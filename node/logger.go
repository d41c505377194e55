package node

import (
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/procmesh/procmesh/gen"
)

// loggerProcess is the default sink for Say: a plain user-space process
// registered under "logger" that writes whatever it is told through the
// node logger. Registering another process under the same name replaces it.
func loggerProcess(entry *log.Entry) gen.ProcessFunc {
	return func(p gen.Process) error {
		for {
			say, err := gen.Expect[gen.MessageSay](p)
			if err != nil {
				if errors.Is(err, gen.ErrProcessTerminated) {
					return nil
				}
				return err
			}
			entry.WithField("pid", say.From.String()).Infof("%s %s", say.Time, say.Text)
		}
	}
}
