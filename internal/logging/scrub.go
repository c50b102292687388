package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/clinicd/internal/phi"
)

const redacted = "[REDACTED]"

// scrubbingCore redacts identifiers from the message and fields of each
// entry before handing it to the wrapped core.
type scrubbingCore struct {
	zapcore.Core
	scrubber phi.Scrubber
	keys     map[string]bool
}

var _ zapcore.Core = (*scrubbingCore)(nil)

func newScrubbingCore(core zapcore.Core, scrubber phi.Scrubber, keys map[string]bool) zapcore.Core {
	return &scrubbingCore{Core: core, scrubber: scrubber, keys: keys}
}

func keySet(keys []string) map[string]bool {
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[strings.ToLower(k)] = true
	}
	return set
}

func (c *scrubbingCore) With(fields []zapcore.Field) zapcore.Core {
	return &scrubbingCore{
		Core:     c.Core.With(c.scrubFields(fields)),
		scrubber: c.scrubber,
		keys:     c.keys,
	}
}

func (c *scrubbingCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *scrubbingCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	ent.Message = c.scrub(ent.Message)
	return c.Core.Write(ent, c.scrubFields(fields))
}

func (c *scrubbingCore) scrub(s string) string {
	if s == "" || !c.scrubber.IsEnabled() {
		return s
	}
	return c.scrubber.Scrub(s).Scrubbed
}

// scrubFields returns a copy of fields with sensitive keys masked and
// string and error values scrubbed. Other field types pass unchanged.
func (c *scrubbingCore) scrubFields(fields []zapcore.Field) []zapcore.Field {
	if len(fields) == 0 {
		return fields
	}
	out := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		switch {
		case c.keys[strings.ToLower(f.Key)]:
			out[i] = zap.String(f.Key, redacted)
		case f.Type == zapcore.StringType:
			f.String = c.scrub(f.String)
			out[i] = f
		case f.Type == zapcore.ErrorType:
			if err, ok := f.Interface.(error); ok && err != nil {
				out[i] = zap.String(f.Key, c.scrub(err.Error()))
			} else {
				out[i] = f
			}
		case f.Type == zapcore.StringerType:
			out[i] = zap.String(f.Key, c.scrub(stringerValue(f)))
		default:
			out[i] = f
		}
	}
	return out
}

func stringerValue(f zapcore.Field) (s string) {
	defer func() {
		if recover() != nil {
			s = "<nil>"
		}
	}()
	if st, ok := f.Interface.(interface{ String() string }); ok {
		return st.String()
	}
	return ""
}
