package badger

import (
	"fmt"
	"strings"

	badgerdb "github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"
)

// badgerLogger routes badger's printf style logs into zap under the
// "store" field. Badger's info output (compactions, value log rotation) is
// logged at debug level.
type badgerLogger struct {
	sugar *zap.SugaredLogger
}

var _ badgerdb.Logger = (*badgerLogger)(nil)

func newBadgerLogger(l *zap.Logger) *badgerLogger {
	return &badgerLogger{sugar: l.Sugar().With("store", "badger")}
}

func format(f string, args ...interface{}) string {
	return strings.TrimRight(fmt.Sprintf(f, args...), "\n")
}

func (b *badgerLogger) Errorf(f string, args ...interface{}) {
	b.sugar.Error(format(f, args...))
}

func (b *badgerLogger) Warningf(f string, args ...interface{}) {
	b.sugar.Warn(format(f, args...))
}

func (b *badgerLogger) Infof(f string, args ...interface{}) {
	b.sugar.Debug(format(f, args...))
}

func (b *badgerLogger) Debugf(f string, args ...interface{}) {
	b.sugar.Debug(format(f, args...))
}
