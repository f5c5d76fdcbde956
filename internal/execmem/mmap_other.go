//go:build !unix

package execmem

import "errors"

func newMmap(int) (Provider, error) {
	return nil, errors.New("execmem: mmap provider needs a unix host; use the heap provider")
}
