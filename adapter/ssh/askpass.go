package ssh

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/aledsdavies/xrun/escape"
)

// newAskpassScript writes an ephemeral, 0700 script to a private temp
// directory whose sole effect is printing passphrase on stdout, implementing
// sudo's SUDO_ASKPASS protocol for the "hidden passphrase" contract (spec
// §4.7). The returned cleanup removes the script and its containing
// directory; callers must defer it immediately so it runs even if the
// command that follows errors or is canceled. The passphrase is written only
// to this file's contents — it never appears in argv, a long-lived
// environment, or an error message.
func newAskpassScript(passphrase string) (path string, cleanup func(), err error) {
	dir, err := os.MkdirTemp("", "xrun-askpass-")
	if err != nil {
		return "", nil, fmt.Errorf("ssh: creating askpass dir: %w", err)
	}
	cleanup = func() { _ = os.RemoveAll(dir) }

	scriptPath := filepath.Join(dir, "askpass.sh")
	script := "#!/bin/sh\nprintf '%s\\n' " + escape.Quote(escape.POSIX, passphrase) + "\n"
	if err := os.WriteFile(scriptPath, []byte(script), 0o700); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("ssh: writing askpass script: %w", err)
	}
	return scriptPath, cleanup, nil
}
