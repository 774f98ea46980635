// +build windows

package reset

import "github.com/pkg/errors"

func execSelf(exe string, args, env []string) error {
	return errors.New("exec is not supported on windows")
}
