// Package numbered allocates files from path templates containing a "{N}" token.
//
// Allocation relies on exclusive creation (O_EXCL) rather than an existence check, so two
// processes writing into the same directory never receive the same path.
package numbered

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// Token is replaced by 1, 2, 3... until an unused name is found.
const Token = "{N}"

// MaxAttempts bounds the search. Hitting it almost certainly means a bug (or a directory that
// should be using mktemp-style names instead).
const MaxAttempts = 1000

// ErrExhausted is returned when MaxAttempts candidates already exist.
var ErrExhausted = errors.New("numbered: no free file name")

// Create creates a file according to template and returns its path.
//
// Without a token the template itself is the path; it is created if missing and left
// untouched otherwise. With a token, "hello-{N}.txt" yields the first of "hello-1.txt",
// "hello-2.txt", ... that did not exist. The returned file is empty at the moment of return
// (unless it is an existing token-less path); writing content is up to the caller.
func Create(fsys afero.Fs, template string) (string, error) {
	if !strings.Contains(template, Token) {
		f, err := fsys.OpenFile(template, os.O_WRONLY|os.O_CREATE, 0o644)
		if err != nil {
			return "", fmt.Errorf("create %s: %w", template, err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("close %s: %w", template, err)
		}
		return template, nil
	}

	for n := 1; n <= MaxAttempts; n++ {
		name := strings.Replace(template, Token, strconv.Itoa(n), 1)
		f, err := fsys.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			if errors.Is(err, fs.ErrExist) {
				continue
			}
			return "", fmt.Errorf("create %s: %w", name, err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("close %s: %w", name, err)
		}
		return name, nil
	}
	return "", fmt.Errorf("%w: %s (tried %d names)", ErrExhausted, template, MaxAttempts)
}
