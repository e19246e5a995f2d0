//go:build !sqlite
// +build !sqlite

package journal

import (
	"errors"

	logx "robofleet/pkg/logx"
)

func openSQLite(cfg Config, log logx.Logger) (Recorder, error) {
	return nil, errors.New("sqlite journal not built: rebuild with -tags sqlite")
}
