package sqlite

import "github.com/evagent/evagent/pkg/history"

func init() {
	history.Register("sqlite", &Factory{})
}
