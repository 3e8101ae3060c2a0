package render

import (
	"fmt"
	"runtime"

	"modernc.org/cc/v4"
)

// ValidateC parses src with a real C front end and reports the first parse
// error, if any. It never type-checks or compiles -- only confirms the
// renderer produced syntactically valid C, since rendered locals and struct
// fallbacks (uint8_t /* struct */) don't always form a type-correct program.
func ValidateC(src []byte) error {
	cfg, err := cc.NewConfig(runtime.GOOS, runtime.GOARCH)
	if err != nil {
		return fmt.Errorf("render: building cc config: %w", err)
	}
	_, err = cc.Parse(cfg, []cc.Source{
		{Name: "<predefined>", Value: cfg.Predefined},
		{Name: "<builtin>", Value: cc.Builtin},
		{Name: "decompiled.c", Value: string(src)},
	})
	if err != nil {
		return fmt.Errorf("render: C parse error: %w", err)
	}
	return nil
}
