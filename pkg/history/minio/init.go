package minio

import "github.com/evagent/evagent/pkg/history"

func init() {
	history.Register("minio", &Factory{})
}
